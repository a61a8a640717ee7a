package judgment

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	ErrOracleTimeout   = errors.New("oracle timeout")
	ErrOracleMalformed = errors.New("oracle malformed response")
	ErrOracleTransport = errors.New("oracle transport error")
	ErrInvalidLayer    = errors.New("invalid layer")
)

// #endregion sentinels

// #region oracle-error
// OracleError attributes a failed judgment call to its oracle, layer, and template.
// Kind is one of the three oracle sentinels.
type OracleError struct {
	Kind       error
	Oracle     string
	LayerIndex int
	Template   TemplateID
	Err        error
}

func (e *OracleError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%v: oracle=%s layer=%d template=%s", e.Kind, e.Oracle, e.LayerIndex, e.Template)
	}
	return fmt.Sprintf("%v: oracle=%s layer=%d template=%s: %v", e.Kind, e.Oracle, e.LayerIndex, e.Template, e.Err)
}

// Unwrap exposes both the kind sentinel and the underlying cause.
func (e *OracleError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Reason returns a short label for logs ("timeout", "malformed", "transport").
func (e *OracleError) Reason() string {
	return Reason(e.Kind)
}

// Reason maps an error to the oracle failure label it carries.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrOracleTimeout):
		return "timeout"
	case errors.Is(err, ErrOracleMalformed):
		return "malformed"
	case errors.Is(err, ErrOracleTransport):
		return "transport"
	case errors.Is(err, ErrInvalidLayer):
		return "invalid_layer"
	}
	return "unknown"
}

// #endregion oracle-error
