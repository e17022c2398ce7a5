package btcfamily

import "testing"

func TestChainParamsResolvesRegisteredPair(t *testing.T) {
	if _, err := ChainParams("btc", "MAINNET"); err != nil {
		t.Fatalf("ChainParams(BTC, mainnet): %v", err)
	}
}

func TestChainParamsRejectsUnregisteredPair(t *testing.T) {
	if _, err := ChainParams("NOPE", "mainnet"); err == nil {
		t.Fatalf("expected an error for an unregistered coin")
	}
}
