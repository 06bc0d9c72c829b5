// Package protocol implements the network microphone packet format.
//
// Every packet starts with an 8-byte big-endian header
// [Type:1][Len:2][SourceID:4][Version:1]. A HELLO announces a source name and
// its capture format, AUDIO carries [Sequence:4] followed by little-endian
// 16-bit PCM, and BYE ends the source.
package protocol
