package server

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"sync"

	"jimchat/internal/config"
	"jimchat/internal/protocol"
	"jimchat/internal/storage"
)

type eventKind int

const (
	eventConnect eventKind = iota
	eventRequest
	eventDisconnect
)

// serverEvent is the unit of work for the dispatch loop. Reader goroutines
// produce them; the single dispatch goroutine consumes them and owns all
// shared state.
type serverEvent struct {
	kind    eventKind
	session *clientSession
	request protocol.Request
	err     error
}

type handlerFunc func(ctx context.Context, s *clientSession, req protocol.Request)

type commandFunc func(ctx context.Context, args []string) (any, error)

// App coordinates the listener, the session registry and request dispatch.
type App struct {
	cfg       config.ServerConfig
	store     storage.Store
	reg       *registry
	handlers  map[string]handlerFunc
	commands  map[string]commandFunc
	events    chan serverEvent
	listener  net.Listener
	closeOnce sync.Once
}

// NewApp constructs a server instance using the provided dependencies.
func NewApp(cfg config.ServerConfig, store storage.Store) *App {
	a := &App{
		cfg:    cfg,
		store:  store,
		reg:    newRegistry(),
		events: make(chan serverEvent, 256),
	}
	a.handlers = map[string]handlerFunc{
		protocol.ActionPresence:   a.handlePresence,
		protocol.ActionAuth:       a.handleAuth,
		protocol.ActionQuit:       a.handleQuit,
		protocol.ActionMessage:    a.handleMessage,
		protocol.ActionCommand:    a.handleCommand,
		protocol.ActionStartChat:  a.handleStartChat,
		protocol.ActionAcceptChat: a.handleAcceptChat,
		protocol.ActionImage:      a.handleImage,
		protocol.ActionEndImage:   a.handleEndImage,
		protocol.ActionGetImage:   a.handleGetImage,
	}
	a.commands = map[string]commandFunc{
		"get_users":    a.cmdUsersOnline,
		"add_contact":  a.cmdAddContact,
		"rem_contact":  a.cmdRemoveContact,
		"get_contacts": a.cmdContacts,
		"get_chat":     a.cmdChat,
		"check_avatar": a.cmdCheckAvatar,
	}
	return a
}

// Run starts accepting connections and dispatching requests until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.store.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	listener, err := net.Listen("tcp", a.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	a.listener = listener
	log.Printf("server listening addr=%s", listener.Addr())

	go func() {
		<-ctx.Done()
		a.closeOnce.Do(func() {
			_ = a.listener.Close()
		})
	}()

	go a.acceptLoop(ctx)

	return a.dispatch(ctx)
}

// Addr reports the bound listen address, for tests binding port 0.
func (a *App) Addr() net.Addr {
	if a.listener == nil {
		return nil
	}
	return a.listener.Addr()
}

func (a *App) acceptLoop(ctx context.Context) {
	for {
		conn, err := a.listener.Accept()
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				log.Printf("accept: %v", err)
			}
			return
		}
		s := newClientSession(conn)
		select {
		case a.events <- serverEvent{kind: eventConnect, session: s}:
		case <-ctx.Done():
			conn.Close()
			return
		}
	}
}

// dispatch is the single consumer of server events. All registry and
// storage mutations happen here, in arrival order.
func (a *App) dispatch(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			for _, s := range a.reg.sessions {
				s.close()
			}
			return nil
		case ev := <-a.events:
			switch ev.kind {
			case eventConnect:
				a.admit(ctx, ev.session)
			case eventRequest:
				a.route(ctx, ev.session, ev.request)
			case eventDisconnect:
				a.onReadFailure(ctx, ev.session, ev.err)
			}
		}
	}
}

func (a *App) admit(ctx context.Context, s *clientSession) {
	addr := s.remoteIP()
	if a.reg.banned(addr) {
		log.Printf("connection refused addr=%s reason=blacklisted", addr)
		s.close()
		s.conn.Close()
		return
	}

	log.Printf("connection accepted addr=%s session=%s", addr, s.id)
	a.reg.add(s)

	decoder := protocol.NewDecoder(s.conn)
	decoder.SetMaxFrame(a.cfg.MaxFrameBytes)

	go s.writeLoop(ctx, protocol.NewEncoder(s.conn), a.cfg.WriteTimeout)
	go s.readLoop(ctx, decoder, a.cfg.HandshakeTimeout, a.events)
}

func (a *App) route(ctx context.Context, s *clientSession, req protocol.Request) {
	if !a.reg.alive(s) {
		return
	}
	handler, ok := a.handlers[req.Action]
	if !ok {
		log.Printf("incorrect request action=%s session=%s", req.Action, s.id)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.IncorrectRequest))
		return
	}
	handler(ctx, s, req)
}

func (a *App) onReadFailure(ctx context.Context, s *clientSession, err error) {
	if !a.reg.alive(s) {
		return
	}
	if err != nil {
		log.Printf("read failed session=%s user=%s err=%v", s.id, s.username, err)
	}
	a.disconnect(ctx, s, true)
}

// disconnect removes the session, persists the logout and notifies the
// remaining peers. An unauthenticated peer gets its address blacklisted
// when banAnon is set.
func (a *App) disconnect(ctx context.Context, s *clientSession, banAnon bool) {
	if !a.reg.alive(s) {
		return
	}
	username := a.reg.remove(s)
	s.close()

	if username == "" {
		if banAnon {
			a.reg.ban(s.remoteIP())
			log.Printf("peer blacklisted addr=%s", s.remoteIP())
		}
		return
	}

	if s.authed.Load() {
		if err := a.store.Logout(ctx, username); err != nil {
			log.Printf("logout user=%s err=%v", username, err)
		}
		a.broadcast(ctx, nil, protocol.NewResponseText(protocol.Disconnected, username))
	}
	log.Printf("user disconnected user=%s session=%s", username, s.id)
}

// drop closes a session without blacklisting or peer notification. Used for
// the duplicate-presence and failed-auth paths.
func (a *App) drop(s *clientSession) {
	a.reg.remove(s)
	s.close()
}

// sendTo enqueues a response for one session; a peer that stopped draining
// its queue is disconnected rather than allowed to stall the loop.
func (a *App) sendTo(ctx context.Context, s *clientSession, resp protocol.Response) {
	if !s.send(resp) {
		log.Printf("send queue overflow session=%s user=%s", s.id, s.username)
		a.disconnect(ctx, s, false)
	}
}

// broadcast fans a response out to every live session except skip.
func (a *App) broadcast(ctx context.Context, skip *clientSession, resp protocol.Response) {
	for _, other := range a.reg.others(skip) {
		a.sendTo(ctx, other, resp)
	}
}
