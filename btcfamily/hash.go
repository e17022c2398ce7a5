package btcfamily

import simdsha "github.com/minio/sha256-simd"

// SHA256D is the job.HashAlgorithm every Bitcoin-family fork shares:
// double SHA-256 over the 80-byte block header.
//
// Grounded on: teacher's hash_sha256_simd.go, which swaps the package
// global sha256Sum to the SIMD implementation under an init func; this
// package takes the same dependency directly rather than through an
// indirection point, since there is exactly one hash algorithm here.
type SHA256D struct{}

func (SHA256D) Hash(input []byte) []byte {
	first := simdsha.Sum256(input)
	second := simdsha.Sum256(first[:])
	return second[:]
}

func doubleSHA256(b []byte) []byte {
	return SHA256D{}.Hash(b)
}

func reverseBytes(in []byte) []byte {
	out := make([]byte, len(in))
	for i, b := range in {
		out[len(in)-1-i] = b
	}
	return out
}
