package btcfamily

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/rodb2008/corepool/job"
)

const defaultExtraNonce2Size = 4

// ntimeForwardSlackSeconds bounds how far a submitted ntime may drift from
// the template's own time and from wall-clock now, mirroring the teacher's
// NTimeForwardSlackSeconds idiom (miner_submit.go): neither a stale nor an
// implausibly future timestamp is accepted, but a tolerant window is, since
// daemons and miners rarely agree on curtime to the second.
const ntimeForwardSlackSeconds = 7200

// extraNonce1Size matches stratum.NextExtraNonce1, which
// always mints a 4-byte big-endian value; the coinbase split point
// computed at Build time depends on this being fixed pool-wide rather
// than per connection.
const extraNonce1Size = 4

// Builder is the Bitcoin-family job.JobBuilder: it turns a BitcoinTemplate
// into a Job carrying coinbase/merkle/header scaffolding, and validates
// submitted shares by reconstructing that header and hashing it with
// SHA256D.
//
// Grounded on: teacher's buildJob (job.go) for the Build-side assembly
// sequence, and submitShare/(*Job).processShare for the ProcessShare-side
// validation sequence, generalized behind the job.JobBuilder interface so
// this is one coin family among potentially several rather than the only
// one the core knows about.
type Builder struct {
	Chain              *chaincfg.Params
	PoolFeePercent     float64
	DonationFeePercent float64
	BlockVersion       int32
	Hash               job.HashAlgorithm
}

// NewBuilder returns a Builder for chain with the given fee split.
// blockVersion is the block header version field this pool's daemon
// expects (0x20000000 for current Bitcoin soft-fork signaling).
func NewBuilder(chain *chaincfg.Params, poolFeePercent, donationFeePercent float64, blockVersion int32) *Builder {
	return &Builder{
		Chain:              chain,
		PoolFeePercent:     poolFeePercent,
		DonationFeePercent: donationFeePercent,
		BlockVersion:       blockVersion,
		Hash:               SHA256D{},
	}
}

// jobData is the coin-specific scaffolding carried on Job.Data: enough to
// both answer mining.notify (via NotifyParams) and reconstruct a header
// on share submission without re-deriving anything from the template.
type jobData struct {
	extraNonce2Size  int
	height           int64
	version          int32
	bitsHex          string
	bitsBytes        [4]byte
	prevHashBE       [32]byte
	merkleBranches   []string
	coinb1Hex        string
	coinb2Hex        string
	networkTarget    *big.Int
	payoutScript     []byte
	donationScript   []byte
	coinbaseValue    int64
	commitmentScript []byte
	flagsBytes       []byte
	coinbaseMsg      string
	scriptTime       int64
	transactions     []rawTransaction
	ntime            string
	curTime          int64
}

// NotifyParams implements the interface stratum.jobNotifyParams looks
// for, returning the mining.notify parameter list minus the trailing
// CleanJobs flag the stratum package always appends itself.
func (d *jobData) NotifyParams() []any {
	return []any{
		d.coinb1Hex,
		d.coinb2Hex,
		d.merkleBranches,
		fmt.Sprintf("%08x", uint32(d.version)),
		d.bitsHex,
		d.ntime,
	}
}

func (b *Builder) Build(tpl job.Template, jobID string, cfg job.BuildConfig) (*job.Job, error) {
	raw, ok := tpl.Raw().(*BitcoinTemplate)
	if !ok {
		return nil, fmt.Errorf("btcfamily: unexpected template type %T", tpl.Raw())
	}
	if cfg.PayoutAddress == "" {
		return nil, job.ErrNoPayoutAddress
	}

	payoutScript, err := scriptForAddress(cfg.PayoutAddress, b.Chain)
	if err != nil {
		return nil, fmt.Errorf("payout address: %w", err)
	}
	var donationScript []byte
	if cfg.DonationAddress != "" {
		donationScript, err = scriptForAddress(cfg.DonationAddress, b.Chain)
		if err != nil {
			return nil, fmt.Errorf("donation address: %w", err)
		}
	}

	if len(raw.PreviousBlockHash) != 64 {
		return nil, fmt.Errorf("previousblockhash hex must be 64 chars")
	}
	var prevHashBE [32]byte
	if n, err := hex.Decode(prevHashBE[:], []byte(raw.PreviousBlockHash)); err != nil || n != 32 {
		return nil, fmt.Errorf("decode previousblockhash: %w", err)
	}

	if len(raw.BitsValue) != 8 {
		return nil, fmt.Errorf("bits hex must be 8 chars")
	}
	var bitsBytes [4]byte
	if n, err := hex.Decode(bitsBytes[:], []byte(raw.BitsValue)); err != nil || n != 4 {
		return nil, fmt.Errorf("decode bits: %w", err)
	}

	var flagsBytes []byte
	if raw.CoinbaseAux.Flags != "" {
		flagsBytes, err = hex.DecodeString(raw.CoinbaseAux.Flags)
		if err != nil {
			return nil, fmt.Errorf("decode coinbase flags: %w", err)
		}
	}

	var commitmentScript []byte
	if raw.DefaultWitnessCommitment != "" {
		commitmentScript, err = hex.DecodeString(raw.DefaultWitnessCommitment)
		if err != nil {
			return nil, fmt.Errorf("decode witness commitment: %w", err)
		}
	}

	txids := make([][]byte, 0, len(raw.Transactions))
	for i, tx := range raw.Transactions {
		if tx.TxID == "" && tx.Hash == "" {
			return nil, fmt.Errorf("transaction %d missing txid", i)
		}
		idHex := tx.TxID
		if idHex == "" {
			idHex = tx.Hash
		}
		idBytes, err := hex.DecodeString(idHex)
		if err != nil || len(idBytes) != 32 {
			return nil, fmt.Errorf("transaction %d invalid txid", i)
		}
		txids = append(txids, reverseBytes(idBytes))
	}
	merkleBranches := buildMerkleBranches(txids)

	extraNonce2Size := cfg.ExtraNonce2Size
	if extraNonce2Size <= 0 {
		extraNonce2Size = defaultExtraNonce2Size
	}

	scriptTime := cfg.CreatedAt.Unix()
	if scriptTime == 0 {
		scriptTime = time.Now().Unix()
	}
	ntime := fmt.Sprintf("%08x", uint32(raw.CurTime()))

	var payouts []payoutOutput
	if len(donationScript) > 0 && b.DonationFeePercent > 0 {
		poolFee, donation, worker := splitReward(raw.CoinbaseValue, b.PoolFeePercent, b.DonationFeePercent)
		if poolFee > 0 {
			payouts = append(payouts, payoutOutput{Script: payoutScript, Value: poolFee})
		}
		if donation > 0 {
			payouts = append(payouts, payoutOutput{Script: donationScript, Value: donation})
		}
		payouts = append(payouts, payoutOutput{Script: payoutScript, Value: worker})
	} else {
		payouts = []payoutOutput{{Script: payoutScript, Value: raw.CoinbaseValue}}
	}

	extraNonce1Placeholder := make([]byte, extraNonce1Size)
	coinb1Hex, coinb2Hex, err := buildCoinbasePartsForStratum(raw.HeightValue, extraNonce1Placeholder, extraNonce2Size, payouts, commitmentScript, flagsBytes, cfg.CoinbaseMessage, scriptTime)
	if err != nil {
		return nil, fmt.Errorf("build coinbase parts: %w", err)
	}

	target, err := targetFromBits(raw.BitsValue)
	if err != nil {
		return nil, fmt.Errorf("target from bits: %w", err)
	}

	data := &jobData{
		extraNonce2Size:  extraNonce2Size,
		height:           raw.HeightValue,
		version:          b.BlockVersion,
		bitsHex:          raw.BitsValue,
		bitsBytes:        bitsBytes,
		prevHashBE:       prevHashBE,
		merkleBranches:   merkleBranches,
		coinb1Hex:        coinb1Hex,
		coinb2Hex:        coinb2Hex,
		networkTarget:    target,
		payoutScript:     payoutScript,
		donationScript:   donationScript,
		coinbaseValue:    raw.CoinbaseValue,
		commitmentScript: commitmentScript,
		flagsBytes:       flagsBytes,
		coinbaseMsg:      cfg.CoinbaseMessage,
		scriptTime:       scriptTime,
		transactions:     raw.Transactions,
		ntime:            ntime,
		curTime:          raw.CurTime(),
	}

	j := job.NewJob(jobID, tpl)
	j.Data = data
	return j, nil
}

func (b *Builder) ProcessShare(j *job.Job, extraNonce1 []byte, params job.ShareParams, minDiff float64) (job.ShareResult, error) {
	data, ok := j.Data.(*jobData)
	if !ok {
		return job.ShareResult{}, fmt.Errorf("btcfamily: unexpected job data type %T", j.Data)
	}

	key := job.ShareKey{
		ExtraNonce1: hex.EncodeToString(extraNonce1),
		ExtraNonce2: params.ExtraNonce2,
		NTime:       params.NTime,
		Nonce:       params.Nonce,
	}
	if j.ObserveShare(key) {
		return job.ShareResult{}, job.ErrDuplicateShare
	}

	extraNonce2, err := hex.DecodeString(params.ExtraNonce2)
	if err != nil || len(extraNonce2) != data.extraNonce2Size {
		return job.ShareResult{}, fmt.Errorf("invalid extranonce2: must be %d bytes", data.extraNonce2Size)
	}

	if len(params.NTime) != 8 {
		return job.ShareResult{}, fmt.Errorf("%w: invalid ntime", job.ErrInvalidTimestamp)
	}
	ntimeBytes, err := hex.DecodeString(params.NTime)
	if err != nil {
		return job.ShareResult{}, fmt.Errorf("%w: invalid ntime", job.ErrInvalidTimestamp)
	}
	submittedTime := int64(binary.BigEndian.Uint32(ntimeBytes))
	minNTime := data.curTime - ntimeForwardSlackSeconds
	maxNTime := time.Now().Unix() + ntimeForwardSlackSeconds
	if submittedTime < minNTime || submittedTime > maxNTime {
		return job.ShareResult{}, fmt.Errorf("%w: ntime outside acceptable window", job.ErrInvalidTimestamp)
	}

	var payouts []payoutOutput
	if len(data.donationScript) > 0 && b.DonationFeePercent > 0 {
		poolFee, donation, worker := splitReward(data.coinbaseValue, b.PoolFeePercent, b.DonationFeePercent)
		if poolFee > 0 {
			payouts = append(payouts, payoutOutput{Script: data.payoutScript, Value: poolFee})
		}
		if donation > 0 {
			payouts = append(payouts, payoutOutput{Script: data.donationScript, Value: donation})
		}
		payouts = append(payouts, payoutOutput{Script: data.payoutScript, Value: worker})
	} else {
		payouts = []payoutOutput{{Script: data.payoutScript, Value: data.coinbaseValue}}
	}

	coinbaseTx, coinbaseTxid, err := serializeCoinbaseTx(data.height, extraNonce1, extraNonce2, data.extraNonce2Size, payouts, data.commitmentScript, data.flagsBytes, data.coinbaseMsg, data.scriptTime)
	if err != nil {
		return job.ShareResult{}, fmt.Errorf("rebuild coinbase: %w", err)
	}

	merkleRootBE := computeMerkleRootFromBranches(coinbaseTxid, data.merkleBranches)
	if merkleRootBE == nil {
		return job.ShareResult{}, fmt.Errorf("invalid merkle branches")
	}

	header, err := buildBlockHeader(data.bitsBytes, data.prevHashBE, merkleRootBE, params.NTime, params.Nonce, data.version)
	if err != nil {
		return job.ShareResult{}, fmt.Errorf("build block header: %w", err)
	}

	hash := b.Hash.Hash(header)
	shareDiff := difficultyFromHash(hash)
	if shareDiff < minDiff {
		return job.ShareResult{}, &job.LowDifficultyError{ShareDiff: shareDiff, MinDiff: minDiff}
	}

	result := job.ShareResult{
		Hash:            hash,
		ShareDifficulty: shareDiff,
	}

	if hashMeetsTarget(hash, data.networkTarget) {
		blockHex, err := assembleBlockHex(header, coinbaseTx, data.transactions)
		if err != nil {
			return job.ShareResult{}, fmt.Errorf("assemble block: %w", err)
		}
		result.IsBlockCandidate = true
		result.BlockHex = blockHex
		result.BlockHash = hex.EncodeToString(reverseBytes(doubleSHA256(header)))
		result.CoinbaseTxHash = hex.EncodeToString(reverseBytes(coinbaseTxid))
	}

	return result, nil
}

func (b *Builder) ValidateAddress(address string) bool {
	return validAddress(address, b.Chain)
}

func assembleBlockHex(header, coinbaseTx []byte, txs []rawTransaction) (string, error) {
	var buf []byte
	buf = append(buf, header...)
	buf = appendVarInt(buf, uint64(1+len(txs)))
	buf = append(buf, coinbaseTx...)
	for i, tx := range txs {
		raw, err := hex.DecodeString(tx.Data)
		if err != nil {
			return "", fmt.Errorf("decode transaction %d: %w", i, err)
		}
		buf = append(buf, raw...)
	}
	return hex.EncodeToString(buf), nil
}
