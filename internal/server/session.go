package server

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"jimchat/internal/protocol"
)

// clientSession tracks one connection's socket and outbound delivery.
// username is written only by the dispatch loop.
type clientSession struct {
	id        string
	conn      net.Conn
	sendCh    chan protocol.Response
	done      chan struct{}
	username  string
	authed    atomic.Bool
	closeOnce sync.Once
}

func newClientSession(conn net.Conn) *clientSession {
	return &clientSession{
		id:     uuid.NewString(),
		conn:   conn,
		sendCh: make(chan protocol.Response, 64),
		done:   make(chan struct{}),
	}
}

// send enqueues a response without blocking the dispatch loop. A full queue
// means the peer stopped draining its socket; the caller disconnects it.
func (s *clientSession) send(resp protocol.Response) bool {
	select {
	case <-s.done:
		return false
	case s.sendCh <- resp:
		return true
	default:
		return false
	}
}

// sendBlocking enqueues a response, waiting for queue space. Used by
// streaming goroutines that may outpace the write loop.
func (s *clientSession) sendBlocking(ctx context.Context, resp protocol.Response) bool {
	select {
	case <-s.done:
		return false
	case <-ctx.Done():
		return false
	case s.sendCh <- resp:
		return true
	}
}

func (s *clientSession) writeLoop(ctx context.Context, encoder *protocol.Encoder, writeTimeout time.Duration) {
	defer s.conn.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case resp := <-s.sendCh:
			if !s.write(ctx, encoder, resp, writeTimeout) {
				return
			}
		case <-s.done:
			// Flush whatever was queued before the session closed.
			for {
				select {
				case resp := <-s.sendCh:
					if !s.write(ctx, encoder, resp, writeTimeout) {
						return
					}
				default:
					return
				}
			}
		}
	}
}

func (s *clientSession) write(ctx context.Context, encoder *protocol.Encoder, resp protocol.Response, timeout time.Duration) bool {
	if timeout > 0 {
		if err := s.conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
			return false
		}
	}
	return encoder.Encode(ctx, resp) == nil
}

// readLoop decodes requests off the socket and forwards them to the dispatch
// loop. A read deadline applies until the handshake completes, so a silent
// peer cannot hold a pre-auth slot forever.
func (s *clientSession) readLoop(ctx context.Context, decoder *protocol.Decoder, handshakeTimeout time.Duration, events chan<- serverEvent) {
	deadlineArmed := false
	for {
		if !s.authed.Load() {
			if handshakeTimeout > 0 {
				if err := s.conn.SetReadDeadline(time.Now().Add(handshakeTimeout)); err != nil {
					s.emit(ctx, events, serverEvent{kind: eventDisconnect, session: s, err: err})
					return
				}
				deadlineArmed = true
			}
		} else if deadlineArmed {
			if err := s.conn.SetReadDeadline(time.Time{}); err != nil {
				s.emit(ctx, events, serverEvent{kind: eventDisconnect, session: s, err: err})
				return
			}
			deadlineArmed = false
		}

		pkt, err := decoder.Decode(ctx)
		if err != nil {
			s.emit(ctx, events, serverEvent{kind: eventDisconnect, session: s, err: err})
			return
		}
		req, ok := pkt.(protocol.Request)
		if !ok {
			s.emit(ctx, events, serverEvent{kind: eventDisconnect, session: s, err: protocol.ErrUnknownType})
			return
		}
		s.emit(ctx, events, serverEvent{kind: eventRequest, session: s, request: req})
	}
}

func (s *clientSession) emit(ctx context.Context, events chan<- serverEvent, ev serverEvent) {
	select {
	case events <- ev:
	case <-ctx.Done():
	}
}

func (s *clientSession) remoteIP() string {
	addr := s.conn.RemoteAddr()
	if addr == nil {
		return ""
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}

func (s *clientSession) close() {
	s.closeOnce.Do(func() {
		close(s.done)
	})
}
