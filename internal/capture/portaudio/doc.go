// Package portaudio provides the local microphone capture driver backed by
// the PortAudio C library. It is kept apart from package capture so that
// builds and tests without cgo can still use the network microphone driver.
package portaudio
