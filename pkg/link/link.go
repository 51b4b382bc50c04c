// Package link carries serialized PDUs between IPC processes. Pipe is an
// in-memory link with optional loss for tests and simulations; UDP runs
// over the network and marks datagrams with the connection's QoS.
package link

import (
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
)

// Handler is called for every PDU that arrives intact. Calls come from
// the goroutine running Serve.
type Handler func(p *pdu.PDU)

// Stats counts link events. Counters are updated atomically.
type Stats struct {
	sent       atomic.Uint64
	received   atomic.Uint64
	dropped    atomic.Uint64
	duplicated atomic.Uint64
	corrupt    atomic.Uint64
}

// Counters is a point-in-time copy of Stats.
type Counters struct {
	Sent       uint64
	Received   uint64
	Dropped    uint64
	Duplicated uint64
	Corrupt    uint64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() Counters {
	return Counters{
		Sent:       s.sent.Load(),
		Received:   s.received.Load(),
		Dropped:    s.dropped.Load(),
		Duplicated: s.duplicated.Load(),
		Corrupt:    s.corrupt.Load(),
	}
}

func (c Counters) String() string {
	return fmt.Sprintf("sent=%d received=%d dropped=%d duplicated=%d corrupt=%d",
		c.Sent, c.Received, c.Dropped, c.Duplicated, c.Corrupt)
}

// encode serializes p into a pooled buffer. The caller returns the buffer
// with common.PutBuffer.
func encode(p *pdu.PDU) ([]byte, error) {
	buf := common.GetBuffer(p.Len())
	n, err := p.SerializeTo(buf)
	if err != nil {
		common.PutBuffer(buf)
		return nil, err
	}
	return buf[:n], nil
}

// dispatch parses a received frame and hands it to h.
func dispatch(frame []byte, h Handler, stats *Stats, log *zerolog.Logger) {
	p, err := pdu.Parse(frame)
	if err != nil {
		stats.corrupt.Add(1)
		log.Debug().Err(err).Int("len", len(frame)).Msg("discarding frame")
		if e := log.Trace(); e.Enabled() {
			e.Str("frame", common.HexDump(frame)).Msg("corrupt frame")
		}
		return
	}
	stats.received.Add(1)
	log.Trace().Object("pdu", p).Msg("received")
	h(p)
}
