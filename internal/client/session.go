package client

import (
	"context"
	"crypto/rsa"
	"errors"
	"log"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"jimchat/internal/config"
	"jimchat/internal/crypt"
	"jimchat/internal/protocol"
)

var (
	ErrNotConnected = errors.New("not connected")
	ErrConflict     = errors.New("username already connected")
	ErrUnauthorized = errors.New("unauthorized")
	ErrHandshake    = errors.New("handshake failed")
)

// Client implements the JIM client core: connection and handshake, response
// demultiplexing, per-contact chat encryption and the local store. The
// presentation layer only calls this API.
type Client struct {
	cfg      config.ClientConfig
	username string
	password string
	store    *Store

	conn    net.Conn
	encoder *protocol.Encoder
	decoder *protocol.Decoder
	writeMu sync.Mutex

	mu         sync.Mutex
	subs       map[int][]func(string)
	encryptors map[string]*crypt.Cipher
	chatKey    *rsa.PrivateKey

	answers     chan string
	fileAnswers chan string

	connected atomic.Bool
	cancel    context.CancelFunc
}

// New builds a client for the given account backed by the local store.
func New(cfg config.ClientConfig, username, password string, store *Store) *Client {
	return &Client{
		cfg:         cfg,
		username:    username,
		password:    password,
		store:       store,
		subs:        make(map[int][]func(string)),
		encryptors:  make(map[string]*crypt.Cipher),
		answers:     make(chan string, 64),
		fileAnswers: make(chan string, 64),
	}
}

// Username returns the account name this client presents.
func (c *Client) Username() string {
	return c.username
}

// Connected reports whether the session survived the handshake and is live.
func (c *Client) Connected() bool {
	return c.connected.Load()
}

// Connect dials the server, runs the presence/auth handshake and starts the
// listener goroutine.
func (c *Client) Connect(ctx context.Context) error {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	conn, err := dialer.DialContext(ctx, "tcp", c.cfg.ServerAddr)
	if err != nil {
		return err
	}
	c.conn = conn
	c.encoder = protocol.NewEncoder(conn)
	c.decoder = protocol.NewDecoder(conn)

	if err := c.authorize(ctx); err != nil {
		conn.Close()
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.connected.Store(true)
	go c.listen(ctx)
	return nil
}

// authorize runs the handshake: presence announces the username, the server
// answers with a one-time public key, and the password goes back RSA-encrypted.
func (c *Client) authorize(ctx context.Context) error {
	if err := c.write(ctx, protocol.NewRequest(protocol.ActionPresence, c.username)); err != nil {
		return err
	}
	resp, err := c.readResponse(ctx)
	if err != nil {
		return err
	}
	switch {
	case resp.Is(protocol.Auth):
	case resp.Is(protocol.Conflict):
		return ErrConflict
	default:
		return ErrHandshake
	}

	pub, err := crypt.ImportPublicKey(resp.Message)
	if err != nil {
		return ErrHandshake
	}
	encrypted, err := crypt.EncryptRSA(pub, []byte(c.password))
	if err != nil {
		return ErrHandshake
	}
	if err := c.write(ctx, protocol.NewRequest(protocol.ActionAuth, encrypted)); err != nil {
		return err
	}

	resp, err = c.readResponse(ctx)
	if err != nil {
		return err
	}
	switch {
	case resp.Is(protocol.OK):
		return nil
	case resp.Is(protocol.Unauthorized):
		return ErrUnauthorized
	default:
		return ErrHandshake
	}
}

// Close sends a quit request and tears the connection down.
func (c *Client) Close() error {
	if !c.connected.Swap(false) {
		if c.conn != nil {
			return c.conn.Close()
		}
		return nil
	}
	_ = c.write(context.Background(), protocol.NewRequest(protocol.ActionQuit, ""))
	if c.cancel != nil {
		c.cancel()
	}
	return c.conn.Close()
}

// Subscribe registers a callback for a response code. Callbacks run on the
// listener goroutine and must not block.
func (c *Client) Subscribe(code int, fn func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[code] = append(c.subs[code], fn)
}

// listen demultiplexes server responses: answers and file answers feed their
// queues, every other code goes to its subscribers.
func (c *Client) listen(ctx context.Context) {
	defer c.connected.Store(false)
	for {
		pkt, err := c.decoder.Decode(ctx)
		if err != nil {
			return
		}
		resp, ok := pkt.(protocol.Response)
		if !ok {
			log.Printf("unexpected packet from server")
			continue
		}

		switch {
		case resp.Is(protocol.Answer):
			select {
			case c.answers <- resp.Message:
			case <-ctx.Done():
				return
			}
		case resp.Is(protocol.FileAnswer):
			select {
			case c.fileAnswers <- resp.Message:
			case <-ctx.Done():
				return
			}
		default:
			c.notify(resp)
		}
	}
}

func (c *Client) notify(resp protocol.Response) {
	c.mu.Lock()
	subs := append([]func(string){}, c.subs[resp.Code]...)
	c.mu.Unlock()
	for _, fn := range subs {
		fn(resp.Message)
	}
}

func (c *Client) write(ctx context.Context, req protocol.Request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.encoder.Encode(ctx, req)
}

// send guards requests issued after the handshake.
func (c *Client) send(ctx context.Context, req protocol.Request) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.write(ctx, req)
}

// readResponse synchronously reads one response; only the handshake uses it,
// before the listener starts.
func (c *Client) readResponse(ctx context.Context) (protocol.Response, error) {
	pkt, err := c.decoder.Decode(ctx)
	if err != nil {
		return protocol.Response{}, err
	}
	resp, ok := pkt.(protocol.Response)
	if !ok {
		return protocol.Response{}, ErrHandshake
	}
	return resp, nil
}

// WaitAnswer blocks for the next answer payload.
func (c *Client) WaitAnswer(ctx context.Context) (string, error) {
	select {
	case answer := <-c.answers:
		return answer, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// CollectAnswers gathers answer items until the empty terminator.
func (c *Client) CollectAnswers(ctx context.Context) ([]string, error) {
	var items []string
	for {
		answer, err := c.WaitAnswer(ctx)
		if err != nil {
			return nil, err
		}
		if answer == "" {
			return items, nil
		}
		items = append(items, answer)
	}
}
