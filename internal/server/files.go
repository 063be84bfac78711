package server

import (
	"context"
	"encoding/base64"
	"errors"
	"log"

	"jimchat/internal/protocol"
	"jimchat/internal/storage"
)

// avatarChunkBytes is the raw slice size of the chunked transfer; each
// slice travels base64-encoded in its own packet.
const avatarChunkBytes = 512

// handleImage appends one base64 chunk to the caller's assembly buffer.
// Each chunk is acknowledged, which is what paces the stop-and-wait sender.
func (a *App) handleImage(ctx context.Context, s *clientSession, req protocol.Request) {
	if s.username == "" {
		log.Printf("image before presence session=%s", s.id)
		return
	}
	data, err := base64.StdEncoding.DecodeString(req.BodyText())
	if err != nil {
		a.sendTo(ctx, s, protocol.NewResponse(protocol.IncorrectRequest))
		return
	}
	a.reg.uploads[s.username] = append(a.reg.uploads[s.username], data...)
	a.sendTo(ctx, s, protocol.NewResponse(protocol.FileAnswer))
}

// handleEndImage stores the assembled avatar and releases the buffer.
func (a *App) handleEndImage(ctx context.Context, s *clientSession, _ protocol.Request) {
	if s.username == "" {
		log.Printf("image before presence session=%s", s.id)
		return
	}
	avatar, ok := a.reg.uploads[s.username]
	if !ok {
		log.Printf("image buffer empty user=%s", s.username)
		return
	}
	delete(a.reg.uploads, s.username)

	if err := a.store.SetAvatar(ctx, s.username, avatar); err != nil {
		log.Printf("avatar store user=%s err=%v", s.username, err)
		a.sendTo(ctx, s, protocol.NewResponse(protocol.ServerError))
		return
	}
	log.Printf("avatar stored user=%s size=%dB", s.username, len(avatar))
	a.sendTo(ctx, s, protocol.NewResponse(protocol.FileAnswer))
}

// handleGetImage streams the requested user's avatar back in base64 chunks,
// terminated by an empty file answer. The streaming runs off the dispatch
// loop; it only touches the session's send queue.
func (a *App) handleGetImage(ctx context.Context, s *clientSession, req protocol.Request) {
	avatar, err := a.store.Avatar(ctx, req.BodyText())
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		log.Printf("avatar load user=%s err=%v", req.BodyText(), err)
	}
	if len(avatar) == 0 {
		a.sendTo(ctx, s, protocol.NewResponse(protocol.FileAnswer))
		return
	}

	go func() {
		for i := 0; i < len(avatar); i += avatarChunkBytes {
			end := min(i+avatarChunkBytes, len(avatar))
			chunk := base64.StdEncoding.EncodeToString(avatar[i:end])
			if !s.sendBlocking(ctx, protocol.NewResponseText(protocol.FileAnswer, chunk)) {
				return
			}
		}
		s.sendBlocking(ctx, protocol.NewResponse(protocol.FileAnswer))
	}()
}
