package auth

import "io"

// SetRandReader replaces the random source until the returned func is called.
func SetRandReader(r io.Reader) (restore func()) {
	original := randReader
	randReader = r
	return func() { randReader = original }
}
