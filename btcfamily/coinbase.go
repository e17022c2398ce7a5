package btcfamily

import (
	"bytes"
	"fmt"
	"math"
)

// payoutOutput describes one non-witness-commitment coinbase output.
type payoutOutput struct {
	Script []byte
	Value  int64
}

const maxPayoutOutputs = 8

func validatePayoutOutputs(outputs []payoutOutput) error {
	if len(outputs) == 0 {
		return fmt.Errorf("at least one payout output is required")
	}
	if len(outputs) > maxPayoutOutputs {
		return fmt.Errorf("too many payout outputs: %d > %d", len(outputs), maxPayoutOutputs)
	}
	for i, o := range outputs {
		if len(o.Script) == 0 {
			return fmt.Errorf("payout output %d script required", i)
		}
		if o.Value < 0 {
			return fmt.Errorf("payout output %d value cannot be negative", i)
		}
	}
	return nil
}

func buildCoinbaseOutputs(commitmentScript []byte, payouts []payoutOutput) ([]byte, error) {
	if err := validatePayoutOutputs(payouts); err != nil {
		return nil, err
	}
	var out bytes.Buffer
	count := uint64(len(payouts))
	if len(commitmentScript) > 0 {
		count++
	}
	writeVarInt(&out, count)
	if len(commitmentScript) > 0 {
		writeUint64LE(&out, 0)
		writeVarInt(&out, uint64(len(commitmentScript)))
		out.Write(commitmentScript)
	}
	for _, o := range payouts {
		writeUint64LE(&out, uint64(o.Value))
		writeVarInt(&out, uint64(len(o.Script)))
		out.Write(o.Script)
	}
	return out.Bytes(), nil
}

// splitReward divides totalValue between a pool-fee output, an optional
// donation carved out of that fee, and the remaining worker payout.
// Grounded on the teacher's serializeTripleCoinbaseTxPredecoded split
// arithmetic: donation comes out of the pool fee, never out of the
// worker's share.
func splitReward(totalValue int64, poolFeePercent, donationFeePercent float64) (poolFee, donation, worker int64) {
	poolFeePercent = clampPercent(poolFeePercent, 99.99)
	donationFeePercent = clampPercent(donationFeePercent, 100)

	totalPoolFee := int64(math.Round(float64(totalValue) * poolFeePercent / 100.0))
	totalPoolFee = clampInt64(totalPoolFee, 0, totalValue)

	donation = int64(math.Round(float64(totalPoolFee) * donationFeePercent / 100.0))
	donation = clampInt64(donation, 0, totalPoolFee)

	poolFee = totalPoolFee - donation
	worker = totalValue - totalPoolFee
	return poolFee, donation, worker
}

func clampPercent(p, max float64) float64 {
	if p < 0 {
		return 0
	}
	if p > max {
		return max
	}
	return p
}

func clampInt64(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// buildCoinbaseScriptSig assembles the coinbase input's scriptSig: the
// BIP34 height push, the aux flags, the scriptTime push, the extranonce
// length byte, zero padding up to extraNonce2Size, extranonce1,
// extranonce2 and the coinbase message. scriptTime is fixed per job so
// every share against it reconstructs an identical scriptSig.
//
// Grounded on: teacher's buildCoinbasePartsPayouts /
// serializeCoinbaseTxPayoutsPredecoded (job_coinbase.go), generalized to
// take a caller-assembled payout list rather than a fixed 1/2/3-output
// special case.
func buildCoinbaseScriptSig(height int64, extranonce1, extranonce2 []byte, extraNonce2Size int, flagsBytes []byte, coinbaseMsg string, scriptTime int64) []byte {
	padLen := extraNonce2Size - len(extranonce2)
	if padLen < 0 {
		padLen = 0
	}
	placeholderLen := len(extranonce1) + len(extranonce2) + padLen

	part1 := bytes.Join([][]byte{
		serializeNumberScript(height),
		flagsBytes,
		serializeNumberScript(scriptTime),
		{byte(placeholderLen)},
	}, nil)
	part2 := serializeStringScript(normalizeCoinbaseMessage(coinbaseMsg))

	var sig bytes.Buffer
	sig.Write(part1)
	if padLen > 0 {
		sig.Write(bytes.Repeat([]byte{0x00}, padLen))
	}
	sig.Write(extranonce1)
	sig.Write(extranonce2)
	sig.Write(part2)
	return sig.Bytes()
}

// serializeCoinbaseTx assembles the full coinbase transaction and
// returns it alongside its canonical (big-endian) txid.
func serializeCoinbaseTx(height int64, extranonce1, extranonce2 []byte, extraNonce2Size int, payouts []payoutOutput, commitmentScript, flagsBytes []byte, coinbaseMsg string, scriptTime int64) (tx []byte, txid []byte, err error) {
	scriptSig := buildCoinbaseScriptSig(height, extranonce1, extranonce2, extraNonce2Size, flagsBytes, coinbaseMsg, scriptTime)

	var vin bytes.Buffer
	writeVarInt(&vin, 1)
	vin.Write(bytes.Repeat([]byte{0x00}, 32))
	writeUint32LE(&vin, 0xffffffff)
	writeVarInt(&vin, uint64(len(scriptSig)))
	vin.Write(scriptSig)
	writeUint32LE(&vin, 0)

	outputs, err := buildCoinbaseOutputs(commitmentScript, payouts)
	if err != nil {
		return nil, nil, err
	}

	var t bytes.Buffer
	writeUint32LE(&t, 1)
	t.Write(vin.Bytes())
	t.Write(outputs)
	writeUint32LE(&t, 0)

	txBytes := t.Bytes()
	return txBytes, doubleSHA256(txBytes), nil
}

// buildCoinbasePartsForStratum builds the coinb1/coinb2 hex halves
// mining.notify sends: everything up to where a miner must splice in
// extranonce1||extranonce2, and everything after it. A miner reassembles
// its coinbase as coinb1 || extranonce1 || extranonce2 || coinb2 without
// the pool reconstructing the whole transaction per share.
func buildCoinbasePartsForStratum(height int64, extranonce1 []byte, extraNonce2Size int, payouts []payoutOutput, commitmentScript, flagsBytes []byte, coinbaseMsg string, scriptTime int64) (coinb1Hex, coinb2Hex string, err error) {
	placeholderExtranonce2 := make([]byte, extraNonce2Size)
	scriptSig := buildCoinbaseScriptSig(height, extranonce1, placeholderExtranonce2, extraNonce2Size, flagsBytes, coinbaseMsg, scriptTime)
	prefixLen := len(scriptSig) - len(extranonce1) - extraNonce2Size - len(serializeStringScript(normalizeCoinbaseMessage(coinbaseMsg)))

	var p1 bytes.Buffer
	writeUint32LE(&p1, 1)
	writeVarInt(&p1, 1)
	p1.Write(bytes.Repeat([]byte{0x00}, 32))
	writeUint32LE(&p1, 0xffffffff)
	writeVarInt(&p1, uint64(len(scriptSig)))
	p1.Write(scriptSig[:prefixLen])

	outputs, err := buildCoinbaseOutputs(commitmentScript, payouts)
	if err != nil {
		return "", "", err
	}

	var p2 bytes.Buffer
	p2.Write(scriptSig[prefixLen+len(extranonce1)+extraNonce2Size:])
	writeUint32LE(&p2, 0)
	p2.Write(outputs)
	writeUint32LE(&p2, 0)

	return hexEncode(p1.Bytes()), hexEncode(p2.Bytes()), nil
}
