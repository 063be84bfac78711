package server

import (
	"context"
	"errors"
	"log"
	"strings"

	"jimchat/internal/protocol"
)

var errCommandArgs = errors.New("missing command arguments")

// handleCommand maps the leading token of a command request onto a storage
// operation. The caller's username is injected as the first argument when
// the client omitted it. Collections are answered one element per response,
// terminated by an empty answer; commands without a result answer "Done".
func (a *App) handleCommand(ctx context.Context, s *clientSession, req protocol.Request) {
	if s.username == "" {
		log.Printf("command before presence session=%s", s.id)
		return
	}

	fields := strings.Fields(req.BodyText())
	if len(fields) == 0 {
		a.sendTo(ctx, s, protocol.NewResponse(protocol.IncorrectRequest))
		return
	}
	name, args := fields[0], fields[1:]
	if len(args) < 1 || args[0] != s.username {
		args = append([]string{s.username}, args...)
	}

	cmd, ok := a.commands[name]
	if !ok {
		log.Printf("command not found name=%s user=%s", name, s.username)
		a.sendTo(ctx, s, protocol.NewResponseText(protocol.IncorrectRequest, "Command not found"))
		return
	}

	result, err := cmd(ctx, args)
	if err != nil {
		log.Printf("command failed name=%s user=%s err=%v", name, s.username, err)
		a.sendTo(ctx, s, protocol.NewResponseText(protocol.ServerError, "Command error"))
		return
	}

	switch answer := result.(type) {
	case nil:
		a.sendTo(ctx, s, protocol.NewResponseText(protocol.Answer, "Done"))
	case []string:
		for _, item := range answer {
			a.sendTo(ctx, s, protocol.NewResponseText(protocol.Answer, item))
		}
		a.sendTo(ctx, s, protocol.NewResponseText(protocol.Answer, ""))
	case string:
		a.sendTo(ctx, s, protocol.NewResponseText(protocol.Answer, answer))
	}
}

func (a *App) cmdUsersOnline(ctx context.Context, _ []string) (any, error) {
	return a.store.UsersOnline(ctx)
}

func (a *App) cmdAddContact(ctx context.Context, args []string) (any, error) {
	if len(args) < 2 {
		return nil, errCommandArgs
	}
	if err := a.store.AddContact(ctx, args[0], args[1]); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *App) cmdRemoveContact(ctx context.Context, args []string) (any, error) {
	if len(args) < 2 {
		return nil, errCommandArgs
	}
	if err := a.store.RemoveContact(ctx, args[0], args[1]); err != nil {
		return nil, err
	}
	return nil, nil
}

func (a *App) cmdContacts(ctx context.Context, args []string) (any, error) {
	return a.store.Contacts(ctx, args[0])
}

func (a *App) cmdChat(ctx context.Context, args []string) (any, error) {
	if len(args) < 2 {
		return nil, errCommandArgs
	}
	return a.store.Chat(ctx, args[0], args[1])
}

func (a *App) cmdCheckAvatar(ctx context.Context, args []string) (any, error) {
	if len(args) < 2 {
		return nil, errCommandArgs
	}
	match, err := a.store.CheckAvatarHash(ctx, args[0], args[1])
	if err != nil {
		return nil, err
	}
	if match {
		return "1", nil
	}
	return "0", nil
}
