package client

import (
	"context"
	"errors"
	"fmt"
	"time"

	"jimchat/internal/crypt"
	"jimchat/internal/protocol"
)

var errNoCipher = errors.New("no chat key for contact")

// StartChat opens encrypted chat with a contact: a persisted secret is
// reused when present, and a one-time keypair is offered to the peer so it
// can transport a secret back RSA-encrypted.
func (c *Client) StartChat(ctx context.Context, contact string) error {
	if secret, err := c.store.ChatKey(ctx, contact); err == nil && secret != nil {
		cipher, err := crypt.NewCipher(secret)
		if err != nil {
			return err
		}
		c.setEncryptor(contact, cipher)
	}

	key, err := crypt.GenerateKeys()
	if err != nil {
		return err
	}
	pub, err := crypt.ExportPublicKey(&key.PublicKey)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.chatKey = key
	c.mu.Unlock()

	msg := protocol.Msg{Text: pub, Sender: c.username, To: contact}
	return c.send(ctx, protocol.NewRequest(protocol.ActionStartChat, msg))
}

// AcceptChat handles a peer's start-chat offer: it settles on the persisted
// secret or derives a fresh one, and returns it encrypted under the offered
// public key.
func (c *Client) AcceptChat(ctx context.Context, formatted string) error {
	offer, err := protocol.ParseFormatted(formatted)
	if err != nil {
		return err
	}
	pub, err := crypt.ImportPublicKey(offer.Text)
	if err != nil {
		return err
	}

	secret, err := c.store.ChatKey(ctx, offer.Sender)
	if err != nil || secret == nil {
		secret, err = crypt.DeriveSecret(c.username, offer.Sender)
		if err != nil {
			return err
		}
		if err := c.store.SaveChatKey(ctx, offer.Sender, secret); err != nil {
			return err
		}
	}
	cipher, err := crypt.NewCipher(secret)
	if err != nil {
		return err
	}
	c.setEncryptor(offer.Sender, cipher)

	encrypted, err := crypt.EncryptRSA(pub, secret)
	if err != nil {
		return err
	}
	reply := protocol.Msg{Text: encrypted, Sender: c.username, To: offer.Sender}
	return c.send(ctx, protocol.NewRequest(protocol.ActionAcceptChat, reply))
}

// ChatAccepted handles the peer's accept: the transported secret is
// decrypted with the one-time private key and persisted.
func (c *Client) ChatAccepted(ctx context.Context, formatted string) error {
	accept, err := protocol.ParseFormatted(formatted)
	if err != nil {
		return err
	}
	if c.encryptor(accept.Sender) != nil {
		return nil
	}

	c.mu.Lock()
	key := c.chatKey
	c.mu.Unlock()
	if key == nil {
		return errNoCipher
	}

	secret, err := crypt.DecryptRSA(key, accept.Text)
	if err != nil {
		return err
	}
	cipher, err := crypt.NewCipher(secret)
	if err != nil {
		return err
	}
	c.setEncryptor(accept.Sender, cipher)
	return c.store.SaveChatKey(ctx, accept.Sender, secret)
}

// SendMessage relays text to a recipient, encrypting it when a pairwise
// secret has been agreed. Broadcast messages travel in the clear.
func (c *Client) SendMessage(ctx context.Context, text, to string) error {
	payload := text
	if cipher := c.encryptor(to); cipher != nil {
		encrypted, err := cipher.Encrypt([]byte(text))
		if err != nil {
			return err
		}
		payload = encrypted
	}

	msg := protocol.Msg{Text: payload, Sender: c.username, To: to}
	if err := c.store.AddMessage(ctx, to, text, true); err != nil {
		return err
	}
	return c.send(ctx, protocol.NewRequest(protocol.ActionMessage, msg))
}

// ParseIncoming restores an incoming letter, decrypting it when a pairwise
// secret exists for the sender.
func (c *Client) ParseIncoming(ctx context.Context, formatted string) (sender, text string, err error) {
	msg, err := protocol.ParseFormatted(formatted)
	if err != nil {
		return "", "", err
	}
	text = msg.Text
	if cipher := c.encryptor(msg.Sender); cipher != nil {
		plain, err := cipher.Decrypt(msg.Text)
		if err != nil {
			return "", "", fmt.Errorf("decrypt from %s: %w", msg.Sender, err)
		}
		text = string(plain)
	}
	if err := c.store.AddMessage(ctx, msg.Sender, text, false); err != nil {
		return "", "", err
	}
	return msg.Sender, text, nil
}

// FormatHistory renders persisted history lines for display, decrypting
// texts where a pairwise secret exists. Lines that fail to parse or decrypt
// pass through unchanged.
func (c *Client) FormatHistory(contact string, lines []string) []string {
	cipher := c.encryptor(contact)
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		msg, at, err := protocol.ParseStored(line)
		if err != nil {
			out = append(out, line)
			continue
		}
		text := msg.Text
		if cipher != nil {
			if plain, err := cipher.Decrypt(msg.Text); err == nil {
				text = string(plain)
			}
		}
		out = append(out, fmt.Sprintf("[%s] %s: %s",
			time.Unix(at, 0).Format("15:04"), msg.Sender, text))
	}
	return out
}

func (c *Client) encryptor(contact string) *crypt.Cipher {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encryptors[contact]
}

func (c *Client) setEncryptor(contact string, cipher *crypt.Cipher) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.encryptors[contact] = cipher
}
