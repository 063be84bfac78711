package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a looked-up record does not exist.
var ErrNotFound = errors.New("record not found")

// Store defines the persistence operations consumed by the chat core.
// Every call may fail; the server degrades failures to a server-error
// response instead of letting them escape the dispatch loop.
type Store interface {
	Close() error
	Migrate(ctx context.Context) error

	// Authorize checks the credential digest for a known username and
	// registers unknown usernames on first sight. It reports whether the
	// connection may proceed.
	Authorize(ctx context.Context, username, passwordHash string) (bool, error)
	Login(ctx context.Context, username, ip string) error
	Logout(ctx context.Context, username string) error

	AddContact(ctx context.Context, username, contact string) error
	RemoveContact(ctx context.Context, username, contact string) error
	Contacts(ctx context.Context, username string) ([]string, error)
	UsersOnline(ctx context.Context) ([]string, error)

	AddMessage(ctx context.Context, sender, recipient, text string) error
	// Chat returns the history between two users as formatted
	// "sender__time__text__recipient" lines.
	Chat(ctx context.Context, user1, user2 string) ([]string, error)

	SetAvatar(ctx context.Context, username string, avatar []byte) error
	Avatar(ctx context.Context, username string) ([]byte, error)
	AvatarHash(ctx context.Context, username string) (string, error)
	CheckAvatarHash(ctx context.Context, username, hash string) (bool, error)

	UpdateStats(ctx context.Context, username string, sent, recv int) error
}
