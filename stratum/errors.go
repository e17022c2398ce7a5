package stratum

import (
	"errors"
	"fmt"

	"github.com/rodb2008/corepool/job"
)

// Error codes sent back to a miner inside a JSON-RPC error array
// [code, message, null], matching the wire taxonomy every Stratum client
// expects.
const (
	CodeOther               = 20
	CodeJobNotFound         = 21
	CodeDuplicateShare      = 22
	CodeLowDifficultyShare  = 23
	CodeUnauthorizedWorker  = 24
	CodeNotSubscribed       = 25
)

// StratumError is the [code, message, null] triple serialized as the
// "error" member of a JSON-RPC response.
type StratumError struct {
	Code    int
	Message string
}

// MarshalJSON encodes a StratumError as the three-element array the
// protocol expects rather than an object, matching every Stratum client's
// parser.
func (e *StratumError) MarshalJSON() ([]byte, error) {
	return marshalErrorTriple(e.Code, e.Message)
}

func newError(code int, msg string) *StratumError {
	return &StratumError{Code: code, Message: msg}
}

// MapShareError translates a job package sentinel error into the
// corresponding wire error. Exported so a Handler implementation living
// outside this package (e.g. the one bridging a job.Manager to a Server)
// can report share failures with the same codes this package uses
// internally.
func MapShareError(err error) *StratumError {
	return mapShareError(err)
}

// mapShareError translates a job package sentinel error into the
// corresponding wire error, grounding the 1:1 sentinel-to-code mapping
// the ambient error-handling design calls for.
func mapShareError(err error) *StratumError {
	var lowDiff *job.LowDifficultyError
	switch {
	case errors.Is(err, job.ErrJobNotFound), errors.Is(err, job.ErrStaleTemplate):
		return newError(CodeJobNotFound, "job not found")
	case errors.Is(err, job.ErrDuplicateShare):
		return newError(CodeDuplicateShare, "duplicate share")
	case errors.As(err, &lowDiff):
		return newError(CodeLowDifficultyShare, fmt.Sprintf("low difficulty share (%.6g)", lowDiff.ShareDiff))
	case errors.Is(err, job.ErrLowDifficulty):
		return newError(CodeLowDifficultyShare, "low difficulty share")
	default:
		return newError(CodeOther, err.Error())
	}
}
