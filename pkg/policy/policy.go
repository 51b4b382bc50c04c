// Package policy provides alternatives to the default DTCP policies for
// the decision points where the defaults are intentionally minimal.
package policy

import (
	"fmt"

	"github.com/therealutkarshpriyadarshi/rina/pkg/dtcp"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// ExponentialBackoff is a retransmission_timer_expiry policy that resends
// the regenerated unit and doubles the retransmission timeout, capped at
// Config.MaxRetransmissionTimeout. The next RTT sample resets the timeout.
func ExponentialBackoff(dt *dtcp.Instance, seq seqnum.Value) error {
	if err := resend(dt, seq); err != nil {
		return err
	}

	sv, limit := dt.SV(), dt.Config().MaxRetransmissionTimeout
	sv.RetransmissionTimeout *= 2
	if limit > 0 && sv.RetransmissionTimeout > limit {
		sv.RetransmissionTimeout = limit
	}
	return nil
}

func resend(dt *dtcp.Instance, seq seqnum.Value) error {
	p, err := dt.Regenerate(seq)
	if err != nil {
		return fmt.Errorf("%w: regenerate unit %d: %v", dtcp.ErrPolicyFailed, seq, err)
	}
	dt.Transmit(p)
	return nil
}

// RefreshFlowControl is an sv_update policy that succeeds whatever the
// configuration and lets the data path retry withheld units after every
// credit update.
func RefreshFlowControl(dt *dtcp.Instance, seq seqnum.Value) error {
	if !dt.Config().FlowControl {
		return nil
	}
	return dt.ReceivingFlowControl(seq)
}

// CreditSource reports how many more units a receive buffer can hold.
// Free is called with the connection lock held and must not call back
// into the connection.
type CreditSource interface {
	Free() int
}

// BufferCredit returns an update_credit policy that grants the peer as
// much credit as src has room for.
func BufferCredit(src CreditSource) dtcp.UpdateCreditFunc {
	return func(dt *dtcp.Instance) error {
		free := src.Free()
		if free < 0 {
			return fmt.Errorf("%w: negative free space %d", dtcp.ErrPolicyFailed, free)
		}
		dt.SV().SetReceiverCredit(seqnum.Size(free))
		return nil
	}
}

// Recommended returns the default table with exponential backoff and an
// sv_update that always succeeds. With a non-nil est, RTT estimation and
// backoff both go through it (RFC 6298); otherwise the default estimator
// stays and ExponentialBackoff doubles the engine's timeout. When src is
// non-nil, credit follows its free space. est must not be shared between
// connections.
func Recommended(est *RTTEstimator, src CreditSource) *dtcp.PolicyBuilder {
	b := dtcp.DefaultPolicies().SVUpdate(RefreshFlowControl)
	if est != nil {
		b.RTTEstimator(est.Policy()).RetransmissionTimerExpiry(est.ExpiryPolicy())
	} else {
		b.RetransmissionTimerExpiry(ExponentialBackoff)
	}
	if src != nil {
		b.UpdateCredit(BufferCredit(src))
	}
	return b
}
