package btcfamily

import "encoding/hex"

// buildMerkleBranches computes the steady-state merkle branch hashes for a
// fixed transaction set: the hash needed at each tree level to fold the
// coinbase txid (which changes every share via extranonce2) up to the
// merkle root, without recomputing the whole tree per share.
//
// Grounded on: teacher's buildMerkleBranches (job_block.go), unchanged
// algorithm — a nil placeholder stands in for the coinbase at layer 0, an
// odd layer duplicates its last element before pairing.
func buildMerkleBranches(txids [][]byte) []string {
	if len(txids) == 0 {
		return []string{}
	}
	layer := make([][]byte, 1+len(txids))
	layer[0] = nil
	copy(layer[1:], txids)

	steps := make([]string, 0, 16)
	l := len(layer)
	for l > 1 {
		steps = append(steps, hex.EncodeToString(layer[1]))
		if l%2 == 1 {
			layer = append(layer, layer[l-1])
			l++
		}
		next := make([][]byte, 0, l/2)
		for i := 1; i+1 < l; i += 2 {
			joined := append(append([]byte{}, layer[i]...), layer[i+1]...)
			next = append(next, doubleSHA256(joined))
		}
		layer = append([][]byte{nil}, next...)
		l = len(layer)
	}
	return steps
}

// computeMerkleRootFromBranches folds the coinbase txid (big-endian) up
// through each precomputed branch hash (hex, little-endian on the wire) to
// produce the big-endian merkle root for the block header.
func computeMerkleRootFromBranches(coinbaseTxid []byte, branches []string) []byte {
	root := coinbaseTxid
	var hashBuf [32]byte
	var concatBuf [64]byte
	for _, b := range branches {
		if len(b) != 64 {
			return nil
		}
		n, err := hex.Decode(hashBuf[:], []byte(b))
		if err != nil || n != 32 {
			return nil
		}
		copy(concatBuf[:32], root)
		copy(concatBuf[32:], hashBuf[:])
		root = doubleSHA256(concatBuf[:])
	}
	return root
}
