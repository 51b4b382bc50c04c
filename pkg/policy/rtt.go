package policy

import (
	"time"

	"github.com/therealutkarshpriyadarshi/rina/pkg/dtcp"
	"github.com/therealutkarshpriyadarshi/rina/pkg/seqnum"
)

// RTTEstimator manages RTT estimation and RTO calculation (RFC 6298).
// An estimator belongs to one connection; its policy runs under that
// connection's lock.
type RTTEstimator struct {
	srtt   time.Duration // Smoothed RTT
	rttvar time.Duration // RTT variance
	rto    time.Duration // Retransmission timeout

	alpha float64 // SRTT smoothing factor (1/8)
	beta  float64 // RTTVAR smoothing factor (1/4)

	minRTO time.Duration
	maxRTO time.Duration
}

// NewRTTEstimator creates an estimator whose RTO stays within
// [minRTO, maxRTO]. The initial RTO is one second, clamped.
func NewRTTEstimator(minRTO, maxRTO time.Duration) *RTTEstimator {
	re := &RTTEstimator{
		rto:    time.Second,
		alpha:  1.0 / 8.0,
		beta:   1.0 / 4.0,
		minRTO: minRTO,
		maxRTO: maxRTO,
	}
	re.clamp()
	return re
}

// UpdateRTT updates the RTT estimate with a new measurement.
func (re *RTTEstimator) UpdateRTT(measuredRTT time.Duration) {
	if re.srtt == 0 {
		// First RTT measurement
		re.srtt = measuredRTT
		re.rttvar = measuredRTT / 2
	} else {
		diff := re.srtt - measuredRTT
		if diff < 0 {
			diff = -diff
		}

		re.rttvar = time.Duration(float64(re.rttvar)*(1-re.beta) + float64(diff)*re.beta)
		re.srtt = time.Duration(float64(re.srtt)*(1-re.alpha) + float64(measuredRTT)*re.alpha)
	}

	// RTO = SRTT + 4 * RTTVAR
	re.rto = re.srtt + 4*re.rttvar
	re.clamp()
}

// Backoff doubles the RTO, up to the maximum.
func (re *RTTEstimator) Backoff() {
	re.rto *= 2
	re.clamp()
}

func (re *RTTEstimator) clamp() {
	if re.rto < re.minRTO {
		re.rto = re.minRTO
	}
	if re.maxRTO > 0 && re.rto > re.maxRTO {
		re.rto = re.maxRTO
	}
}

// RTO returns the current retransmission timeout.
func (re *RTTEstimator) RTO() time.Duration {
	return re.rto
}

// SRTT returns the smoothed RTT.
func (re *RTTEstimator) SRTT() time.Duration {
	return re.srtt
}

// RTTVar returns the RTT variance.
func (re *RTTEstimator) RTTVar() time.Duration {
	return re.rttvar
}

// Policy returns an rtt_estimator that feeds samples to re and publishes
// the result in the state vector.
func (re *RTTEstimator) Policy() dtcp.RTTEstimatorFunc {
	return func(dt *dtcp.Instance, sample time.Duration) error {
		re.UpdateRTT(sample)

		sv := dt.SV()
		sv.SmoothedRTT = re.srtt
		sv.RetransmissionTimeout = re.rto
		dt.Logger().Debug().
			Dur("sample", sample).
			Dur("srtt", re.srtt).
			Dur("rttvar", re.rttvar).
			Dur("rto", re.rto).
			Msg("rtt sample")
		return nil
	}
}

// ExpiryPolicy returns a retransmission_timer_expiry that resends the
// regenerated unit and backs re off, so the engine's timeout stays equal
// to RTO.
func (re *RTTEstimator) ExpiryPolicy() dtcp.RetransmissionTimerExpiryFunc {
	return func(dt *dtcp.Instance, seq seqnum.Value) error {
		if err := resend(dt, seq); err != nil {
			return err
		}
		re.Backoff()
		dt.SV().RetransmissionTimeout = re.rto
		dt.Logger().Debug().Uint64("seq", uint64(seq)).Dur("rto", re.rto).Msg("backed off")
		return nil
	}
}
