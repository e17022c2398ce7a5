package poolcfg

import (
	"crypto/tls"
	"fmt"

	"github.com/rodb2008/corepool/btcfamily"
	"github.com/rodb2008/corepool/daemon"
	"github.com/rodb2008/corepool/job"
	"github.com/rodb2008/corepool/stratum"
	"github.com/rodb2008/corepool/vardiff"
)

// Endpoints translates every configured [[node]] table into the
// EndpointConfig list daemon.New expects.
func (c *Config) Endpoints() []daemon.EndpointConfig {
	out := make([]daemon.EndpointConfig, len(c.Node))
	for i, n := range c.Node {
		out[i] = daemon.EndpointConfig{
			URL:        n.URL,
			User:       n.User,
			Pass:       n.Pass,
			CookiePath: n.CookiePath,
		}
	}
	return out
}

// VarDiffConfig translates the [vardiff] section. ServerConfig does not
// use it when Enabled is false and leaves the server's vardiff.Config
// zero instead; a zero Config never retargets.
func (c *Config) VarDiffConfig() vardiff.Config {
	return vardiff.Config{
		MinDiff:         c.VarDiff.MinDiff,
		MaxDiff:         c.VarDiff.MaxDiff,
		TargetTime:      durationSec(int(c.VarDiff.TargetTimeSec)),
		RetargetTime:    durationSec(int(c.VarDiff.RetargetTimeSec)),
		VariancePercent: c.VarDiff.VariancePercent,
	}
}

// ServerConfig translates the [stratum] section into stratum.ServerConfig.
// When both tls_cert_path and tls_key_path are set it installs a
// CertReloader so operators can rotate certificates without a restart.
func (c *Config) ServerConfig() (stratum.ServerConfig, error) {
	cfg := stratum.ServerConfig{
		ListenAddrs:       c.Stratum.ListenAddrs,
		ReadTimeout:       durationSec(c.Stratum.ReadTimeoutSec),
		IdleTimeout:       durationSec(c.Stratum.IdleTimeoutSec),
		InitialDifficulty: c.Stratum.InitialDifficulty,
		MaxNotifyFanout:   c.Stratum.MaxNotifyFanout,
	}
	if c.VarDiff.Enabled {
		cfg.VarDiff = c.VarDiffConfig()
	}
	if c.Stratum.TLSCertPath != "" && c.Stratum.TLSKeyPath != "" {
		reloader, err := stratum.NewCertReloader(c.Stratum.TLSCertPath, c.Stratum.TLSKeyPath)
		if err != nil {
			return stratum.ServerConfig{}, fmt.Errorf("stratum TLS: %w", err)
		}
		reloader.Watch(0)
		cfg.TLS = &tls.Config{GetCertificate: reloader.GetCertificate}
	}
	return cfg, nil
}

// ManagerConfig translates the [mining] section into job.Config.
// DecodeTemplate is always btcfamily.DecodeTemplate: corepoold only ever
// drives Bitcoin-family daemons through this config type.
func (c *Config) ManagerConfig() job.Config {
	return job.Config{
		GetBlockTemplateMethod: c.Mining.GetBlockTemplateMethod,
		GetBlockTemplateParams: []any{map[string]any{"rules": []string{"segwit"}}},
		DecodeTemplate:         btcfamily.DecodeTemplate,
		NotSynchedErrorCodes:   []int{-10},
		BlockRefreshInterval:   durationMS(c.Mining.BlockRefreshIntervalMs),
		JobRebroadcastTimeout:  durationSec(c.Mining.JobRebroadcastTimeoutSec),
		MaxBacklog:             c.Mining.MaxBacklog,
		ClearRegistryOnNewTip:  c.Mining.ClearRegistryOnNewTip,
		PayoutAddress:          c.Mining.PayoutAddress,
		DonationAddress:        c.Mining.DonationAddress,
		CoinbaseMessage:        c.Mining.CoinbaseMessage,
		ExtraNonce2Size:        c.Mining.ExtraNonce2Size,
		HealthPollInterval:     durationSec(c.Mining.HealthPollIntervalSec),
		SyncPollInterval:       durationSec(c.Mining.SyncPollIntervalSec),

		ZMQBlockAddr:    c.Mining.ZMQBlockAddr,
		LongPollEnabled: c.Mining.LongPollEnabled,

		SubmitBlockFastRetryInterval: durationMS(c.Mining.SubmitBlockFastRetryIntervalMs),
		SubmitBlockFastRetryAttempts: c.Mining.SubmitBlockFastRetryAttempts,
	}
}

// Builder resolves the (coin, network) pair against the chainparams
// registry and constructs the btcfamily.Builder that will back job
// construction and share validation.
func (c *Config) Builder() (*btcfamily.Builder, error) {
	chain, err := btcfamily.ChainParams(c.Pool.Coin, c.Pool.Network)
	if err != nil {
		return nil, fmt.Errorf("pool chain: %w", err)
	}
	return btcfamily.NewBuilder(chain, c.Mining.PoolFeePercent, c.Mining.DonationFeePercent, int32(c.Mining.BlockVersion)), nil
}
