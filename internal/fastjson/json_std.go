//go:build corepool_nojsonsimd

package fastjson

import "encoding/json"

// Marshal encodes v with encoding/json. Built only with -tags corepool_nojsonsimd,
// for platforms where sonic's assembly backend is unavailable.
func Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal decodes data into v with encoding/json.
func Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
