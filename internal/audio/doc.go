// Package audio turns raw capture frames into utterances.
//
// The Chunker accumulates 16 kHz mono PCM frames and emits an Utterance when
// either the maximum duration is reached or a pause follows detected speech.
// Utterances travel to the consumer through an UtteranceQueue whose Push never
// blocks. SequenceBuffer restores order for frames arriving over the network,
// and the WAV helpers encode, stream and repair 16-bit PCM files.
package audio
