package link

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/exp/rand"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
)

// PipeConfig shapes the traffic of a Pipe.
type PipeConfig struct {
	Loss      float64 // probability a frame is dropped
	Duplicate float64 // probability a frame is delivered twice
	Seed      uint64  // seeds the loss and duplication decisions
	Queue     int     // frames buffered per direction, default 256
}

// Pipe is one end of an in-memory link. Frames go through the PDU codec
// exactly as they would on the wire. Transmit never blocks: a full queue
// drops the frame.
type Pipe struct {
	cfg  PipeConfig
	in   <-chan []byte
	out  chan<- []byte
	done chan struct{}
	once sync.Once

	mu  sync.Mutex // guards rng
	rng *rand.Rand

	log   zerolog.Logger
	stats Stats
}

// NewPipe returns the two connected ends of a link.
func NewPipe(cfg PipeConfig, log zerolog.Logger) (*Pipe, *Pipe) {
	if cfg.Queue <= 0 {
		cfg.Queue = 256
	}
	ab := make(chan []byte, cfg.Queue)
	ba := make(chan []byte, cfg.Queue)

	end := func(name string, in, out chan []byte, seed uint64) *Pipe {
		return &Pipe{
			cfg:  cfg,
			in:   in,
			out:  out,
			done: make(chan struct{}),
			rng:  rand.New(rand.NewSource(seed)),
			log:  log.With().Str("link", name).Logger(),
		}
	}
	return end("a", ba, ab, cfg.Seed), end("b", ab, ba, cfg.Seed+1)
}

// Transmit serializes p and sends it to the other end.
func (l *Pipe) Transmit(id common.ConnectionID, p *pdu.PDU) {
	select {
	case <-l.done:
		return
	default:
	}

	buf, err := encode(p)
	if err != nil {
		l.stats.dropped.Add(1)
		l.log.Warn().Err(err).Stringer("conn", id).Msg("cannot serialize PDU")
		return
	}
	frame := append([]byte(nil), buf...)
	common.PutBuffer(buf)

	lose, dup := l.roll()
	if lose {
		l.stats.dropped.Add(1)
		l.log.Debug().Object("pdu", p).Msg("simulated loss")
		return
	}
	l.send(frame)
	if dup {
		l.stats.duplicated.Add(1)
		l.send(append([]byte(nil), frame...))
	}
}

func (l *Pipe) roll() (lose, dup bool) {
	if l.cfg.Loss <= 0 && l.cfg.Duplicate <= 0 {
		return false, false
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.rng.Float64() < l.cfg.Loss, l.rng.Float64() < l.cfg.Duplicate
}

func (l *Pipe) send(frame []byte) {
	select {
	case l.out <- frame:
		l.stats.sent.Add(1)
	default:
		l.stats.dropped.Add(1)
		l.log.Debug().Int("queue", cap(l.out)).Msg("queue full, dropping frame")
	}
}

// Serve delivers arriving PDUs to h until ctx is done or the pipe is
// closed.
func (l *Pipe) Serve(ctx context.Context, h Handler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.done:
			return nil
		case frame := <-l.in:
			dispatch(frame, h, &l.stats, &l.log)
		}
	}
}

// Close stops Serve and discards later transmissions.
func (l *Pipe) Close() error {
	l.once.Do(func() { close(l.done) })
	return nil
}

// Stats returns the link counters.
func (l *Pipe) Stats() *Stats {
	return &l.stats
}
