package client

import (
	"context"
	"fmt"

	"jimchat/internal/protocol"
)

// RequestUsers asks for the usernames currently online.
func (c *Client) RequestUsers(ctx context.Context) ([]string, error) {
	if err := c.send(ctx, protocol.NewRequest(protocol.ActionCommand, "get_users")); err != nil {
		return nil, err
	}
	return c.CollectAnswers(ctx)
}

// RequestContacts asks for the caller's contact list and mirrors it into
// the local store.
func (c *Client) RequestContacts(ctx context.Context) ([]string, error) {
	if err := c.send(ctx, protocol.NewRequest(protocol.ActionCommand, "get_contacts")); err != nil {
		return nil, err
	}
	contacts, err := c.CollectAnswers(ctx)
	if err != nil {
		return nil, err
	}
	for _, contact := range contacts {
		if err := c.store.AddContact(ctx, contact); err != nil {
			return contacts, err
		}
	}
	return contacts, nil
}

// RequestChat asks for the persisted history with one contact.
func (c *Client) RequestChat(ctx context.Context, contact string) ([]string, error) {
	body := fmt.Sprintf("get_chat %s %s", c.username, contact)
	if err := c.send(ctx, protocol.NewRequest(protocol.ActionCommand, body)); err != nil {
		return nil, err
	}
	return c.CollectAnswers(ctx)
}

// AddContact records the contact locally and on the server.
func (c *Client) AddContact(ctx context.Context, contact string) error {
	if err := c.store.AddContact(ctx, contact); err != nil {
		return err
	}
	return c.command(ctx, "add_contact "+contact)
}

// RemoveContact drops the contact locally and on the server.
func (c *Client) RemoveContact(ctx context.Context, contact string) error {
	if err := c.store.RemoveContact(ctx, contact); err != nil {
		return err
	}
	return c.command(ctx, "rem_contact "+contact)
}

// command issues a single-answer command and consumes its acknowledgement,
// keeping the answer queue aligned with requests.
func (c *Client) command(ctx context.Context, body string) error {
	if err := c.send(ctx, protocol.NewRequest(protocol.ActionCommand, body)); err != nil {
		return err
	}
	_, err := c.WaitAnswer(ctx)
	return err
}

// CheckAvatar asks whether the server's stored avatar for user matches hash.
func (c *Client) CheckAvatar(ctx context.Context, user, hash string) (bool, error) {
	body := fmt.Sprintf("check_avatar %s %s", user, hash)
	if err := c.send(ctx, protocol.NewRequest(protocol.ActionCommand, body)); err != nil {
		return false, err
	}
	answer, err := c.WaitAnswer(ctx)
	if err != nil {
		return false, err
	}
	return answer == "1", nil
}
