package server

import (
	"context"
	"log"

	"jimchat/internal/crypt"
	"jimchat/internal/protocol"
)

// handlePresence claims the requested username and opens the handshake by
// returning a fresh public key. A name already held by a live connection is
// rejected with a conflict and the socket is closed before authentication.
func (a *App) handlePresence(ctx context.Context, s *clientSession, req protocol.Request) {
	username := req.BodyText()
	if username == "" {
		a.sendTo(ctx, s, protocol.NewResponse(protocol.IncorrectRequest))
		return
	}
	if a.reg.claimed(username) {
		log.Printf("presence conflict user=%s addr=%s", username, s.remoteIP())
		a.sendTo(ctx, s, protocol.NewResponse(protocol.Conflict))
		a.drop(s)
		return
	}

	key, err := crypt.GenerateKeys()
	if err != nil {
		log.Printf("keygen user=%s err=%v", username, err)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.ServerError))
		return
	}
	pub, err := crypt.ExportPublicKey(&key.PublicKey)
	if err != nil {
		log.Printf("key export user=%s err=%v", username, err)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.ServerError))
		return
	}

	a.reg.claim(username, s)
	a.reg.keys[username] = key
	a.sendTo(ctx, s, protocol.NewResponseText(protocol.Auth, pub))
}

// handleAuth finishes the handshake: the body holds the password encrypted
// under the key issued at presence time.
func (a *App) handleAuth(ctx context.Context, s *clientSession, req protocol.Request) {
	username := s.username
	if username == "" {
		log.Printf("auth without presence session=%s", s.id)
		return
	}
	key, ok := a.reg.keys[username]
	if !ok {
		log.Printf("auth without handshake key user=%s", username)
		return
	}

	password, err := crypt.DecryptRSA(key, req.BodyText())
	if err != nil {
		log.Printf("auth decrypt user=%s err=%v", username, err)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.Unauthorized))
		a.drop(s)
		return
	}

	hash := crypt.HashPassword(string(password), username)
	authorized, err := a.store.Authorize(ctx, username, hash)
	if err != nil {
		log.Printf("authorize user=%s err=%v", username, err)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.ServerError))
		return
	}
	if !authorized {
		log.Printf("auth rejected user=%s addr=%s", username, s.remoteIP())
		a.sendTo(ctx, s, protocol.NewResponse(protocol.Unauthorized))
		a.drop(s)
		return
	}

	delete(a.reg.keys, username)
	s.authed.Store(true)
	if err := a.store.Login(ctx, username, s.remoteIP()); err != nil {
		log.Printf("login user=%s err=%v", username, err)
	}

	log.Printf("user authorized user=%s addr=%s", username, s.remoteIP())
	a.sendTo(ctx, s, protocol.NewResponse(protocol.OK))
	a.broadcast(ctx, s, protocol.NewResponseText(protocol.Connected, username))
}

func (a *App) handleQuit(ctx context.Context, s *clientSession, _ protocol.Request) {
	a.disconnect(ctx, s, true)
}

// handleMessage relays a letter: directly when the recipient is registered,
// otherwise to every other connection. Delivery statistics and history are
// updated as a side effect.
func (a *App) handleMessage(ctx context.Context, s *clientSession, req protocol.Request) {
	msg, err := req.BodyMsg()
	if err != nil {
		a.sendTo(ctx, s, protocol.NewResponse(protocol.IncorrectRequest))
		return
	}

	if err := a.store.UpdateStats(ctx, msg.Sender, 1, 0); err != nil {
		log.Printf("stats user=%s err=%v", msg.Sender, err)
	}

	if !msg.Broadcast() {
		if target, ok := a.reg.lookup(msg.To); ok {
			if err := a.store.UpdateStats(ctx, msg.To, 0, 1); err != nil {
				log.Printf("stats user=%s err=%v", msg.To, err)
			}
			if err := a.store.AddMessage(ctx, msg.Sender, msg.To, msg.Text); err != nil {
				log.Printf("message persist from=%s to=%s err=%v", msg.Sender, msg.To, err)
			}
			a.sendTo(ctx, target, protocol.NewResponseText(protocol.Letter, msg.String()))
			return
		}
	}

	a.broadcast(ctx, s, protocol.NewResponseText(protocol.Letter, msg.String()))
	online, err := a.store.UsersOnline(ctx)
	if err != nil {
		log.Printf("users online err=%v", err)
		return
	}
	for _, user := range online {
		if user == msg.Sender {
			continue
		}
		if err := a.store.UpdateStats(ctx, user, 0, 1); err != nil {
			log.Printf("stats user=%s err=%v", user, err)
		}
		if err := a.store.AddMessage(ctx, msg.Sender, user, msg.Text); err != nil {
			log.Printf("message persist from=%s to=%s err=%v", msg.Sender, user, err)
		}
	}
}

// handleStartChat forwards a chat-opening key offer to its target. An
// unknown peer is logged and ignored, no response is sent.
func (a *App) handleStartChat(ctx context.Context, s *clientSession, req protocol.Request) {
	a.forwardChat(ctx, req, protocol.StartChat)
}

// handleAcceptChat forwards the RSA-encrypted chat secret back to the
// initiator.
func (a *App) handleAcceptChat(ctx context.Context, s *clientSession, req protocol.Request) {
	a.forwardChat(ctx, req, protocol.AcceptChat)
}

func (a *App) forwardChat(ctx context.Context, req protocol.Request, code protocol.Code) {
	msg, err := req.BodyMsg()
	if err != nil {
		log.Printf("chat forward decode err=%v", err)
		return
	}
	target, ok := a.reg.lookup(msg.To)
	if !ok {
		log.Printf("chat forward user=%s not found", msg.To)
		return
	}
	a.sendTo(ctx, target, protocol.NewResponseText(code, msg.String()))
}
