package btcfamily

import (
	"encoding/json"
	"fmt"

	"github.com/rodb2008/corepool/internal/fastjson"
	"github.com/rodb2008/corepool/job"
)

// coinbaseAux carries the auxiliary coinbase flags a daemon's
// getblocktemplate response wants embedded in the coinbase scriptSig.
type coinbaseAux struct {
	Flags string `json:"flags"`
}

// rawTransaction is one non-coinbase transaction the daemon wants included
// in the block, already serialized.
type rawTransaction struct {
	Data    string `json:"data"`
	TxID    string `json:"txid"`
	Hash    string `json:"hash"`
	Fee     int64  `json:"fee"`
	SigOps  int64  `json:"sigops"`
	Weight  int64  `json:"weight"`
	Depends []int  `json:"depends"`
}

// BitcoinTemplate is the decoded shape of a Bitcoin-family
// getblocktemplate response, enough to build a job and reconstruct a
// block on a winning share.
//
// Grounded on: teacher's GetBlockTemplateResult (job.go) field set,
// narrowed to what btcfamily.Builder actually consumes.
type BitcoinTemplate struct {
	Version                  int32            `json:"version"`
	PreviousBlockHash        string           `json:"previousblockhash"`
	HeightValue              int64            `json:"height"`
	BitsValue                string           `json:"bits"`
	CurTimeValue             int64            `json:"curtime"`
	CoinbaseValue            int64            `json:"coinbasevalue"`
	Transactions             []rawTransaction `json:"transactions"`
	CoinbaseAux              coinbaseAux      `json:"coinbaseaux"`
	DefaultWitnessCommitment string           `json:"default_witness_commitment"`
	Target                   string           `json:"target"`
	LongPollIDValue          string           `json:"longpollid"`
	MinTime                  int64            `json:"mintime"`
}

func (t *BitcoinTemplate) PreviousHash() string { return t.PreviousBlockHash }
func (t *BitcoinTemplate) Height() int64        { return t.HeightValue }
func (t *BitcoinTemplate) Bits() string         { return t.BitsValue }
func (t *BitcoinTemplate) CurTime() int64       { return t.CurTimeValue }
func (t *BitcoinTemplate) Raw() any             { return t }

// LongPollID implements job's optional longPollTemplate interface so the
// manager's longpoll loop can block on the daemon's own template-change
// notification instead of only polling on a timer.
func (t *BitcoinTemplate) LongPollID() string { return t.LongPollIDValue }

// DecodeTemplate implements the job.Config.DecodeTemplate callback for
// Bitcoin-family coins.
func DecodeTemplate(raw json.RawMessage) (job.Template, error) {
	var t BitcoinTemplate
	if err := fastjson.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("decode block template: %w", err)
	}
	if t.PreviousBlockHash == "" {
		return nil, fmt.Errorf("block template missing previousblockhash")
	}
	if t.BitsValue == "" {
		return nil, fmt.Errorf("block template missing bits")
	}
	return &t, nil
}
