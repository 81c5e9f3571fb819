// Package audio wraps raw PCM into WAV containers and plays WAV audio
// through oto/v3.
package audio
