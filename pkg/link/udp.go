package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/net/ipv4"

	"github.com/therealutkarshpriyadarshi/rina/pkg/common"
	"github.com/therealutkarshpriyadarshi/rina/pkg/pdu"
)

// readPoll bounds how long Serve waits before checking its context.
const readPoll = 200 * time.Millisecond

// UDP is a link over a UDP socket to a single peer. Outbound datagrams
// carry an IPv4 TOS derived from the connection's QoS cube.
type UDP struct {
	conn *net.UDPConn
	pc   *ipv4.PacketConn
	log  zerolog.Logger

	mu   sync.Mutex
	peer *net.UDPAddr
	tos  int

	stats Stats
}

// ListenUDP binds a UDP link to laddr ("host:port").
func ListenUDP(laddr string, log zerolog.Logger) (*UDP, error) {
	addr, err := net.ResolveUDPAddr("udp4", laddr)
	if err != nil {
		return nil, fmt.Errorf("link: resolve %s: %w", laddr, err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		return nil, fmt.Errorf("link: listen %s: %w", laddr, err)
	}
	return &UDP{
		conn: conn,
		pc:   ipv4.NewPacketConn(conn),
		log:  log.With().Stringer("local", conn.LocalAddr()).Logger(),
	}, nil
}

// LocalAddr returns the bound address.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// Connect sets the peer datagrams are sent to.
func (u *UDP) Connect(raddr string) error {
	addr, err := net.ResolveUDPAddr("udp4", raddr)
	if err != nil {
		return fmt.Errorf("link: resolve %s: %w", raddr, err)
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.peer = addr
	return nil
}

// Transmit serializes p and sends it to the peer. Errors are logged and
// counted: the engine treats transmission as fire-and-forget.
func (u *UDP) Transmit(id common.ConnectionID, p *pdu.PDU) {
	buf, err := encode(p)
	if err != nil {
		u.stats.dropped.Add(1)
		u.log.Warn().Err(err).Stringer("conn", id).Msg("cannot serialize PDU")
		return
	}
	defer common.PutBuffer(buf)

	u.mu.Lock()
	peer := u.peer
	if tos := id.QoS.TOS(); tos != u.tos {
		if err := u.pc.SetTOS(tos); err != nil {
			u.log.Debug().Err(err).Int("tos", tos).Msg("cannot set TOS")
		} else {
			u.tos = tos
		}
	}
	u.mu.Unlock()

	if peer == nil {
		u.stats.dropped.Add(1)
		u.log.Warn().Stringer("conn", id).Msg("no peer, dropping PDU")
		return
	}
	if _, err := u.pc.WriteTo(buf, nil, peer); err != nil {
		u.stats.dropped.Add(1)
		u.log.Warn().Err(err).Stringer("peer", peer).Msg("send failed")
		return
	}
	u.stats.sent.Add(1)
}

// Serve reads datagrams and delivers their PDUs to h until ctx is done or
// the link is closed.
func (u *UDP) Serve(ctx context.Context, h Handler) error {
	buf := common.LargeBufferPool.Get()
	defer common.LargeBufferPool.Put(buf)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return fmt.Errorf("link: set deadline: %w", err)
		}

		n, _, err := u.conn.ReadFromUDP(buf)
		if err != nil {
			var ne net.Error
			if errors.As(err, &ne) && ne.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("link: read: %w", err)
		}
		dispatch(buf[:n], h, &u.stats, &u.log)
	}
}

// Close closes the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}

// Stats returns the link counters.
func (u *UDP) Stats() *Stats {
	return &u.stats
}
