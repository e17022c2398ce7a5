// Package btcfamily is the example Bitcoin-family coin implementation: a
// job.HashAlgorithm (double SHA-256), a job.Template decoder for
// getblocktemplate's JSON shape, and a job.JobBuilder that assembles a
// coinbase transaction, computes the merkle root, reconstructs the block
// header on share submission, and validates payout addresses. It exists to
// exercise the job package's pluggable interfaces end to end with a real
// coin family rather than a fake.
//
// Grounded on the teacher's job_coinbase.go, job_block.go, job_hash.go,
// address.go, and hash_sha256_simd.go, generalized from one hard-coded
// chain into a Builder parameterized by chaincfg.Params so the same code
// serves mainnet, testnet, or any registered altcoin fork.
package btcfamily

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/chaincfg"
)

// ChainKey identifies one (coin, network) pair a pool can be configured
// for.
type ChainKey struct {
	Coin    string
	Network string
}

// registry maps a (coin, network) pair to its chaincfg.Params. Only
// Bitcoin itself is registered by default; callers add altcoin forks with
// RegisterChain at startup.
var registry = map[ChainKey]*chaincfg.Params{
	{Coin: "BTC", Network: "mainnet"}: &chaincfg.MainNetParams,
	{Coin: "BTC", Network: "testnet"}: &chaincfg.TestNet3Params,
	{Coin: "BTC", Network: "regtest"}: &chaincfg.RegressionNetParams,
}

// RegisterChain adds or replaces the chain parameters for a (coin,
// network) pair, for altcoin forks that reuse Bitcoin's getblocktemplate
// shape with different address-version bytes.
func RegisterChain(coin, network string, params *chaincfg.Params) {
	registry[ChainKey{Coin: strings.ToUpper(coin), Network: strings.ToLower(network)}] = params
}

// ChainParams resolves a (coin, network) pair. Resolves the coin/network
// configuration Open Question: an unregistered pair is a startup error,
// never a nil *chaincfg.Params silently handed to the builder.
func ChainParams(coin, network string) (*chaincfg.Params, error) {
	key := ChainKey{Coin: strings.ToUpper(coin), Network: strings.ToLower(network)}
	params, ok := registry[key]
	if !ok {
		return nil, fmt.Errorf("btcfamily: no chain parameters registered for coin=%s network=%s", coin, network)
	}
	return params, nil
}
