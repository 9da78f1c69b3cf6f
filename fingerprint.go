package rangecdf

import "github.com/dgryski/go-farm"

// Fingerprint64 returns a 64-bit FarmHash fingerprint of data.
//
// The fingerprint is a pure function of the bytes and is stable across
// processes and platforms, which makes it suitable for content-addressing
// encoded streams or detecting table drift between an encoder and a decoder.
// It is not cryptographic.
func Fingerprint64(data []byte) uint64 {
	return farm.Fingerprint64(data)
}
