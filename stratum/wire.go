package stratum

import "github.com/rodb2008/corepool/internal/fastjson"

// Request is one inbound JSON-RPC 2.0 line, C→S.
type Request struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

// response is one outbound JSON-RPC 2.0 success/error reply, S→C.
type response struct {
	ID     any           `json:"id"`
	Result any           `json:"result"`
	Error  *StratumError `json:"error"`
}

// notification is one outbound JSON-RPC 2.0 notification, S→C, with no id.
type notification struct {
	ID     any    `json:"id"`
	Method string `json:"method"`
	Params []any  `json:"params"`
}

func marshalErrorTriple(code int, msg string) ([]byte, error) {
	return fastjson.Marshal([]any{code, msg, nil})
}

func encodeLine(v any) ([]byte, error) {
	b, err := fastjson.Marshal(v)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

func decodeLine(line []byte, v any) error {
	return fastjson.Unmarshal(line, v)
}
