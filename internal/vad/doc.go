// Package vad classifies audio frames as speech or silence by comparing their
// normalized RMS energy against a threshold. Classification is O(1) per sample,
// allocation free and lock free so it can run inside a capture callback.
package vad
