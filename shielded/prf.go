package shielded

import (
	"crypto/hmac"
	"crypto/sha256"
)

// tlsPRF is the TLS 1.2 pseudo random function with SHA-256 (RFC 5246, 5):
//
//	P_SHA256(secret, label + seed) = HMAC(secret, A(1) + seed) + HMAC(secret, A(2) + seed) + ...
//	A(0) = label + seed, A(i) = HMAC(secret, A(i-1))
func tlsPRF(secret []byte, label string, seed []byte, n int) []byte {
	labelSeed := make([]byte, 0, len(label)+len(seed))
	labelSeed = append(labelSeed, label...)
	labelSeed = append(labelSeed, seed...)

	out := make([]byte, 0, n+sha256.Size)
	a := labelSeed
	for len(out) < n {
		h := hmac.New(sha256.New, secret)
		h.Write(a)
		a = h.Sum(nil)

		h.Reset()
		h.Write(a)
		h.Write(labelSeed)
		out = h.Sum(out)
	}
	return out[:n]
}
