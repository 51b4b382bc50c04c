package dtcp

import (
	"errors"
	"fmt"
	"strings"

	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
)

var (
	// ErrStaleAck is returned when an acknowledgment would move the send
	// left window edge backward.
	ErrStaleAck = errors.New("dtcp: stale acknowledgment")

	ErrNotActive     = errors.New("dtcp: connection not activated")
	ErrDestroyed     = errors.New("dtcp: connection destroyed")
	ErrBusy          = errors.New("dtcp: units still in flight")
	ErrInvariant     = errors.New("dtcp: state vector invariant violated")
	ErrUnknownHandle = errors.New("dtcp: unknown handle")

	// ErrPolicyFailed is wrapped by policies that decline to act.
	ErrPolicyFailed = errors.New("dtcp: policy failed")

	// ErrRetransmissionsExhausted is reported to the Notifier when a unit
	// reaches MaxRetransmissions without being acknowledged.
	ErrRetransmissionsExhausted = errors.New("dtcp: retransmissions exhausted")

	ErrRateExceeded  = errors.New("dtcp: receive rate exceeded")
	ErrOutsideWindow = errors.New("dtcp: sequence number outside receive window")
)

// ConfigError reports a connection that cannot be created as configured.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("dtcp: invalid configuration: %s: %s", e.Field, e.Reason)
}

func missingPolicies(names []PolicyName) *ConfigError {
	s := make([]string, len(names))
	for i, n := range names {
		s[i] = string(n)
	}
	return &ConfigError{Field: "policies", Reason: "unbound decision points: " + strings.Join(s, ", ")}
}

// StructuralError reports a malformed inbound control message. Only that
// message is dropped.
type StructuralError struct {
	Type   pdu.Type
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("dtcp: malformed %s message: %s", e.Type, e.Reason)
}

// IsStructural reports whether err is or wraps a *StructuralError.
func IsStructural(err error) bool {
	var se *StructuralError
	return errors.As(err, &se)
}

// IsConfig reports whether err is or wraps a *ConfigError.
func IsConfig(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}
