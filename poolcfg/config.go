// Package poolcfg loads and validates the TOML configuration for a
// corepoold instance and translates it into the config types each
// component package expects.
package poolcfg

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Config is the root of a corepoold TOML file.
type Config struct {
	Pool    PoolSection    `toml:"pool"`
	Logging LoggingSection `toml:"logging"`
	Node    []NodeSection  `toml:"node"`
	Mining  MiningSection  `toml:"mining"`
	Stratum StratumSection `toml:"stratum"`
	VarDiff VarDiffSection `toml:"vardiff"`
	Bus     BusSection     `toml:"bus"`
}

// PoolSection identifies which coin/network this instance serves.
type PoolSection struct {
	ID      string `toml:"id"`
	Coin    string `toml:"coin"`
	Network string `toml:"network"`
}

// LoggingSection controls the async structured logger.
type LoggingSection struct {
	Level string `toml:"level"`
}

// NodeSection is one redundant daemon RPC endpoint. Repeat the [[node]]
// table for multiple daemons; the first healthy endpoint serves reads,
// all endpoints receive writes.
type NodeSection struct {
	URL        string `toml:"url"`
	User       string `toml:"user"`
	Pass       string `toml:"pass"`
	CookiePath string `toml:"cookie_path"`
}

// MiningSection controls job construction, payouts and share policy.
type MiningSection struct {
	PayoutAddress             string  `toml:"payout_address"`
	DonationAddress           string  `toml:"donation_address"`
	PoolFeePercent            float64 `toml:"pool_fee_percent"`
	DonationFeePercent        float64 `toml:"donation_fee_percent"`
	CoinbaseMessage           string  `toml:"coinbase_message"`
	ExtraNonce2Size           int     `toml:"extranonce2_size"`
	BlockVersion              int64   `toml:"block_version"`
	BlockRefreshIntervalMs    int     `toml:"block_refresh_interval_ms"`
	JobRebroadcastTimeoutSec  int     `toml:"job_rebroadcast_timeout_seconds"`
	MaxBacklog                int     `toml:"max_backlog"`
	ClearRegistryOnNewTip     bool    `toml:"clear_registry_on_new_tip"`
	HealthPollIntervalSec     int     `toml:"health_poll_interval_seconds"`
	SyncPollIntervalSec       int     `toml:"sync_poll_interval_seconds"`
	GetBlockTemplateMethod    string  `toml:"getblocktemplate_method"`

	ZMQBlockAddr    string `toml:"zmq_block_addr"`
	LongPollEnabled bool   `toml:"longpoll_enabled"`

	SubmitBlockFastRetryIntervalMs int `toml:"submit_block_fast_retry_interval_ms"`
	SubmitBlockFastRetryAttempts   int `toml:"submit_block_fast_retry_attempts"`
}

// StratumSection controls the TCP listener(s) miners connect to.
type StratumSection struct {
	ListenAddrs        []string `toml:"listen_addrs"`
	TLSCertPath        string   `toml:"tls_cert_path"`
	TLSKeyPath         string   `toml:"tls_key_path"`
	ReadTimeoutSec     int      `toml:"read_timeout_seconds"`
	IdleTimeoutSec     int      `toml:"idle_timeout_seconds"`
	InitialDifficulty  float64  `toml:"initial_difficulty"`
	MaxNotifyFanout    int      `toml:"max_notify_fanout"`
}

// VarDiffSection controls per-connection difficulty retargeting.
type VarDiffSection struct {
	Enabled             bool    `toml:"enabled"`
	MinDiff             float64 `toml:"min_diff"`
	MaxDiff             float64 `toml:"max_diff"`
	TargetTimeSec       float64 `toml:"target_time_seconds"`
	RetargetTimeSec     float64 `toml:"retarget_time_seconds"`
	VariancePercent     float64 `toml:"variance_percent"`
}

// BusSection configures optional external fan-out of pool events.
type BusSection struct {
	ZMQPubAddr   string `toml:"zmq_pub_addr"`
	AuditLogDir  string `toml:"audit_log_dir"`
}

// Default returns a Config populated with the same conservative
// defaults corepoold falls back to when a TOML file omits a field.
func Default() Config {
	return Config{
		Pool: PoolSection{
			Coin:    "btc",
			Network: "mainnet",
		},
		Logging: LoggingSection{
			Level: "info",
		},
		Mining: MiningSection{
			PoolFeePercent:           1.0,
			CoinbaseMessage:          "/corepool/",
			ExtraNonce2Size:          4,
			BlockVersion:             0x20000000,
			BlockRefreshIntervalMs:   500,
			JobRebroadcastTimeoutSec: 55,
			MaxBacklog:               3,
			ClearRegistryOnNewTip:    true,
			HealthPollIntervalSec:    5,
			SyncPollIntervalSec:      5,
			GetBlockTemplateMethod:   "getblocktemplate",
			LongPollEnabled:          true,
			SubmitBlockFastRetryIntervalMs: 250,
			SubmitBlockFastRetryAttempts:   3,
		},
		Stratum: StratumSection{
			ListenAddrs:       []string{":3333"},
			ReadTimeoutSec:    600,
			IdleTimeoutSec:    900,
			InitialDifficulty: 1,
			MaxNotifyFanout:   256,
		},
		VarDiff: VarDiffSection{
			Enabled:         true,
			MinDiff:         1,
			TargetTimeSec:   15,
			RetargetTimeSec: 90,
			VariancePercent: 30,
		},
	}
}

// Load reads and parses the TOML file at path. It starts from Default()
// and merges the parsed tree onto it, so sections the file omits keep
// their defaults while sections it sets are overridden wholesale.
func Load(path string) (*Config, error) {
	cfg := Default()
	if err := mergeTOMLFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate fails fast on configuration that would otherwise surface as
// a confusing runtime error deep inside daemon, job or stratum.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Pool.Coin) == "" {
		return fmt.Errorf("pool.coin is required")
	}
	if strings.TrimSpace(c.Pool.Network) == "" {
		return fmt.Errorf("pool.network is required")
	}
	if len(c.Node) == 0 {
		return fmt.Errorf("at least one [[node]] endpoint is required")
	}
	for i, n := range c.Node {
		if strings.TrimSpace(n.URL) == "" {
			return fmt.Errorf("node[%d].url is required", i)
		}
		if parsed, err := url.Parse(n.URL); err != nil {
			return fmt.Errorf("node[%d].url parse error: %w", i, err)
		} else if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("node[%d].url %q must use http or https scheme", i, n.URL)
		}
		if n.CookiePath == "" && (n.User == "" || n.Pass == "") {
			return fmt.Errorf("node[%d] needs either cookie_path or user+pass", i)
		}
	}
	if strings.TrimSpace(c.Mining.PayoutAddress) == "" {
		return fmt.Errorf("mining.payout_address is required")
	}
	if c.Mining.PoolFeePercent < 0 || c.Mining.PoolFeePercent >= 100 {
		return fmt.Errorf("mining.pool_fee_percent must be >= 0 and < 100, got %v", c.Mining.PoolFeePercent)
	}
	if c.Mining.DonationFeePercent < 0 || c.Mining.DonationFeePercent > 100 {
		return fmt.Errorf("mining.donation_fee_percent must be >= 0 and <= 100, got %v", c.Mining.DonationFeePercent)
	}
	if c.Mining.DonationFeePercent > 0 && strings.TrimSpace(c.Mining.DonationAddress) == "" {
		return fmt.Errorf("mining.donation_address is required when donation_fee_percent > 0")
	}
	if c.Mining.ExtraNonce2Size <= 0 {
		return fmt.Errorf("mining.extranonce2_size must be > 0, got %d", c.Mining.ExtraNonce2Size)
	}
	if c.Mining.MaxBacklog <= 0 {
		return fmt.Errorf("mining.max_backlog must be > 0, got %d", c.Mining.MaxBacklog)
	}
	if len(c.Stratum.ListenAddrs) == 0 {
		return fmt.Errorf("stratum.listen_addrs must contain at least one address")
	}
	if (c.Stratum.TLSCertPath == "") != (c.Stratum.TLSKeyPath == "") {
		return fmt.Errorf("stratum.tls_cert_path and tls_key_path must be set together")
	}
	if c.Stratum.InitialDifficulty <= 0 {
		return fmt.Errorf("stratum.initial_difficulty must be > 0, got %v", c.Stratum.InitialDifficulty)
	}
	if c.VarDiff.Enabled {
		if c.VarDiff.MinDiff <= 0 {
			return fmt.Errorf("vardiff.min_diff must be > 0, got %v", c.VarDiff.MinDiff)
		}
		if c.VarDiff.MaxDiff != 0 && c.VarDiff.MaxDiff < c.VarDiff.MinDiff {
			return fmt.Errorf("vardiff.max_diff (%v) cannot be lower than vardiff.min_diff (%v)", c.VarDiff.MaxDiff, c.VarDiff.MinDiff)
		}
		if c.VarDiff.TargetTimeSec <= 0 {
			return fmt.Errorf("vardiff.target_time_seconds must be > 0, got %v", c.VarDiff.TargetTimeSec)
		}
		if c.VarDiff.RetargetTimeSec <= 0 {
			return fmt.Errorf("vardiff.retarget_time_seconds must be > 0, got %v", c.VarDiff.RetargetTimeSec)
		}
		if c.VarDiff.VariancePercent <= 0 {
			return fmt.Errorf("vardiff.variance_percent must be > 0, got %v", c.VarDiff.VariancePercent)
		}
	}
	return nil
}

func durationSec(sec int) time.Duration {
	return time.Duration(sec) * time.Second
}

func durationMS(ms int) time.Duration {
	return time.Duration(ms) * time.Millisecond
}
