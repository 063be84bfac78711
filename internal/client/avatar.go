package client

import (
	"context"
	"encoding/base64"

	"jimchat/internal/protocol"
)

const avatarChunkBytes = 512

// SendAvatar uploads the avatar in base64 chunks, waiting for the server's
// acknowledgement of each chunk before the next one goes out. The stop-and-
// wait pacing keeps buffering bounded on both sides.
func (c *Client) SendAvatar(ctx context.Context, avatar []byte) error {
	for i := 0; i < len(avatar); i += avatarChunkBytes {
		end := min(i+avatarChunkBytes, len(avatar))
		chunk := base64.StdEncoding.EncodeToString(avatar[i:end])
		if err := c.send(ctx, protocol.NewRequest(protocol.ActionImage, chunk)); err != nil {
			return err
		}
		if _, err := c.waitFileAnswer(ctx); err != nil {
			return err
		}
	}

	if err := c.send(ctx, protocol.NewRequest(protocol.ActionEndImage, "set_avatar")); err != nil {
		return err
	}
	if _, err := c.waitFileAnswer(ctx); err != nil {
		return err
	}
	return c.store.SetAvatar(ctx, c.username, avatar)
}

// FetchAvatar returns a user's avatar, serving it from the local store when
// the server confirms the cached hash still matches, and otherwise
// downloading chunks until the empty terminator.
func (c *Client) FetchAvatar(ctx context.Context, user string) ([]byte, error) {
	if cached, hash, err := c.store.Avatar(ctx, user); err == nil && cached != nil {
		match, err := c.CheckAvatar(ctx, user, hash)
		if err != nil {
			return nil, err
		}
		if match {
			return cached, nil
		}
	}

	if err := c.send(ctx, protocol.NewRequest(protocol.ActionGetImage, user)); err != nil {
		return nil, err
	}

	var avatar []byte
	for {
		part, err := c.waitFileAnswer(ctx)
		if err != nil {
			return nil, err
		}
		if part == "" {
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(part)
		if err != nil {
			return nil, err
		}
		avatar = append(avatar, chunk...)
	}

	if len(avatar) > 0 {
		if err := c.store.SetAvatar(ctx, user, avatar); err != nil {
			return avatar, err
		}
	}
	return avatar, nil
}

// CheckSelfAvatar re-uploads the local avatar when the server's stored copy
// went missing or stale.
func (c *Client) CheckSelfAvatar(ctx context.Context) error {
	avatar, hash, err := c.store.Avatar(ctx, c.username)
	if err != nil || avatar == nil {
		return err
	}
	match, err := c.CheckAvatar(ctx, c.username, hash)
	if err != nil {
		return err
	}
	if match {
		return nil
	}
	return c.SendAvatar(ctx, avatar)
}

func (c *Client) waitFileAnswer(ctx context.Context) (string, error) {
	select {
	case answer := <-c.fileAnswers:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}
