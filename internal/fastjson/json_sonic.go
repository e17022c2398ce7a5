//go:build !corepool_nojsonsimd

package fastjson

import "github.com/bytedance/sonic"

var api = sonic.ConfigDefault

// Marshal encodes v using sonic's default configuration.
func Marshal(v any) ([]byte, error) { return api.Marshal(v) }

// Unmarshal decodes data into v using sonic's default configuration.
func Unmarshal(data []byte, v any) error { return api.Unmarshal(data, v) }
