package poolcfg

import "testing"

func validConfig() Config {
	cfg := Default()
	cfg.Pool.Coin = "btc"
	cfg.Pool.Network = "mainnet"
	cfg.Node = []NodeSection{{URL: "http://127.0.0.1:8332", User: "rpc", Pass: "secret"}}
	cfg.Mining.PayoutAddress = "1BitcoinEaterAddressDontSendf59kuE"
	return cfg
}

func TestValidateAcceptsWellFormedConfig(t *testing.T) {
	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingNode(t *testing.T) {
	cfg := validConfig()
	cfg.Node = nil
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for an empty node list")
	}
}

func TestValidateRejectsMissingPayoutAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Mining.PayoutAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a missing payout address")
	}
}

func TestValidateRejectsNodeWithoutCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Node = []NodeSection{{URL: "http://127.0.0.1:8332"}}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a node with neither cookie nor user/pass")
	}
}

func TestValidateRejectsContradictoryVarDiffBounds(t *testing.T) {
	cfg := validConfig()
	cfg.VarDiff.Enabled = true
	cfg.VarDiff.MinDiff = 100
	cfg.VarDiff.MaxDiff = 10
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error when max_diff < min_diff")
	}
}

func TestValidateRejectsDonationWithoutAddress(t *testing.T) {
	cfg := validConfig()
	cfg.Mining.DonationFeePercent = 5
	cfg.Mining.DonationAddress = ""
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected an error for a donation percent without an address")
	}
}

func TestBuilderRejectsUnregisteredChain(t *testing.T) {
	cfg := validConfig()
	cfg.Pool.Coin = "not-a-real-coin"
	if _, err := cfg.Builder(); err == nil {
		t.Fatalf("expected an error for an unregistered (coin, network) pair")
	}
}

func TestManagerConfigCarriesPayoutSettings(t *testing.T) {
	cfg := validConfig()
	mcfg := cfg.ManagerConfig()
	if mcfg.PayoutAddress != cfg.Mining.PayoutAddress {
		t.Fatalf("PayoutAddress = %q, want %q", mcfg.PayoutAddress, cfg.Mining.PayoutAddress)
	}
	if mcfg.ExtraNonce2Size != cfg.Mining.ExtraNonce2Size {
		t.Fatalf("ExtraNonce2Size mismatch")
	}
}
