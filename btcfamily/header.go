package btcfamily

import (
	"encoding/hex"
	"fmt"
	"math"
	"math/big"
	"strconv"
)

// diff1Target is the canonical difficulty-1 target every share and block
// difficulty is expressed relative to.
var diff1Target = func() *big.Int {
	n, _ := new(big.Int).SetString("00000000FFFF0000000000000000000000000000000000000000000000000000", 16)
	return n
}()

// maxUint256 is the maximum value representable in 256 bits, the target
// used for a difficulty of zero or below.
var maxUint256 = func() *big.Int {
	n := new(big.Int).Lsh(big.NewInt(1), 256)
	return n.Sub(n, big.NewInt(1))
}()

// targetFromBits decodes a compact "nBits" hex string into its full target.
//
// Grounded on: teacher's targetFromBits (job_hash.go), unchanged.
func targetFromBits(bits string) (*big.Int, error) {
	b, err := hex.DecodeString(bits)
	if err != nil {
		return nil, fmt.Errorf("decode bits: %w", err)
	}
	if len(b) != 4 {
		return nil, fmt.Errorf("invalid bits length %d", len(b))
	}
	exp := b[0]
	mantissa := new(big.Int).SetBytes(b[1:])
	return new(big.Int).Lsh(mantissa, 8*uint(exp-3)), nil
}

// targetFromDifficulty converts a difficulty value (relative to diff1) into
// the target a share's hash must fall below.
func targetFromDifficulty(diff float64) *big.Int {
	if diff <= 0 {
		return new(big.Int).Set(maxUint256)
	}
	diffStr := strconv.FormatFloat(diff, 'g', -1, 64)
	r, ok := new(big.Rat).SetString(diffStr)
	if !ok || r.Sign() <= 0 {
		return new(big.Int).Set(maxUint256)
	}
	target := new(big.Rat).SetInt(diff1Target)
	target.Quo(target, r)
	tgt := new(big.Int).Quo(target.Num(), target.Denom())
	if tgt.Sign() == 0 {
		tgt = big.NewInt(1)
	}
	if tgt.Cmp(maxUint256) > 0 {
		tgt = new(big.Int).Set(maxUint256)
	}
	return tgt
}

// difficultyFromHash converts a share's block-header hash (little-endian)
// into a difficulty value relative to diff1.
//
// Grounded on: teacher's difficultyFromHash (job_hash.go) — the same
// most-significant-64-bit fast-path approximation, avoiding a big.Int
// division on the share hot path.
func difficultyFromHash(hash []byte) float64 {
	msb := -1
	for i := len(hash) - 1; i >= 0; i-- {
		if hash[i] != 0 {
			msb = i
			break
		}
	}
	if msb < 0 {
		return math.MaxFloat64
	}

	var top uint64
	for j := 0; j < 8; j++ {
		idx := msb - j
		var b byte
		if idx >= 0 {
			b = hash[idx]
		}
		top = (top << 8) | uint64(b)
	}
	if top == 0 {
		return math.MaxFloat64
	}

	exponentBits := 8 * (msb - 7)
	diff := math.Ldexp(65535.0/float64(top), 208-exponentBits)
	if diff <= 0 || math.IsNaN(diff) {
		return math.MaxFloat64
	}
	if math.IsInf(diff, 0) {
		return math.MaxFloat64
	}
	return diff
}

// difficultyFromBits derives network difficulty directly from a template's
// compact "nBits" field.
func difficultyFromBits(bits string) float64 {
	target, err := targetFromBits(bits)
	if err != nil || target.Sign() == 0 {
		return 0
	}
	f := new(big.Float).SetPrec(256).SetInt(diff1Target)
	d := new(big.Float).SetPrec(256).SetInt(target)
	f.Quo(f, d)
	val, _ := f.Float64()
	return val
}

// hashMeetsTarget reports whether hash (little-endian, as produced by
// SHA256D) represents a value at or below target.
func hashMeetsTarget(hash []byte, target *big.Int) bool {
	v := new(big.Int).SetBytes(reverseBytes(hash))
	return v.Cmp(target) <= 0
}

// buildBlockHeader assembles the 80-byte Bitcoin block header, reversed
// for hashing, from precomputed per-job pieces plus the per-share fields a
// miner supplies (ntime, nonce) and the per-share merkle root.
//
// Grounded on: teacher's (*Job).buildBlockHeader (job_block.go), same
// byte layout and trailing full-header reversal before hashing.
func buildBlockHeader(bitsBytes [4]byte, prevHashBE [32]byte, merkleRootBE []byte, ntimeHex, nonceHex string, version int32) ([]byte, error) {
	if len(merkleRootBE) != 32 {
		return nil, fmt.Errorf("merkle root must be 32 bytes")
	}

	var ntimeBytes [4]byte
	var nonceBytes [4]byte
	var hdr [80]byte
	var merkleReversed [32]byte

	if len(ntimeHex) != 8 {
		return nil, fmt.Errorf("ntime hex must be 8 chars")
	}
	if n, err := hex.Decode(ntimeBytes[:], []byte(ntimeHex)); err != nil || n != 4 {
		return nil, fmt.Errorf("decode ntime: %w", err)
	}

	if len(nonceHex) != 8 {
		return nil, fmt.Errorf("nonce hex must be 8 chars")
	}
	if n, err := hex.Decode(nonceBytes[:], []byte(nonceHex)); err != nil || n != 4 {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}

	for i := 0; i < 32; i++ {
		merkleReversed[i] = merkleRootBE[31-i]
	}

	copy(hdr[0:4], nonceBytes[:])
	copy(hdr[4:8], bitsBytes[:])
	copy(hdr[8:12], ntimeBytes[:])
	copy(hdr[12:44], merkleReversed[:])
	copy(hdr[44:76], prevHashBE[:])
	uver := uint32(version)
	hdr[76] = byte(uver >> 24)
	hdr[77] = byte(uver >> 16)
	hdr[78] = byte(uver >> 8)
	hdr[79] = byte(uver)

	for i := 0; i < 40; i++ {
		hdr[i], hdr[79-i] = hdr[79-i], hdr[i]
	}

	return hdr[:], nil
}
