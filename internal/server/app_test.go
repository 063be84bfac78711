package server

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"jimchat/internal/config"
	"jimchat/internal/crypt"
	"jimchat/internal/protocol"
	"jimchat/internal/storage"
)

// fakeStore is an in-memory storage.Store for exercising the dispatch loop
// without SQLite.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]string
	online   map[string]bool
	contacts map[string]map[string]struct{}
	messages []fakeMessage
	avatars  map[string][]byte
	hashes   map[string]string
	sent     map[string]int
	recv     map[string]int
}

type fakeMessage struct {
	sender    string
	recipient string
	text      string
	at        time.Time
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]string),
		online:   make(map[string]bool),
		contacts: make(map[string]map[string]struct{}),
		avatars:  make(map[string][]byte),
		hashes:   make(map[string]string),
		sent:     make(map[string]int),
		recv:     make(map[string]int),
	}
}

func (f *fakeStore) Close() error                    { return nil }
func (f *fakeStore) Migrate(_ context.Context) error { return nil }

func (f *fakeStore) Authorize(_ context.Context, username, passwordHash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored, ok := f.users[username]
	if !ok {
		f.users[username] = passwordHash
		return true, nil
	}
	return stored == passwordHash, nil
}

func (f *fakeStore) Login(_ context.Context, username, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.online[username] = true
	return nil
}

func (f *fakeStore) Logout(_ context.Context, username string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online, username)
	return nil
}

func (f *fakeStore) AddContact(_ context.Context, username, contact string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[contact]; !ok {
		return storage.ErrNotFound
	}
	if f.contacts[username] == nil {
		f.contacts[username] = make(map[string]struct{})
	}
	f.contacts[username][contact] = struct{}{}
	return nil
}

func (f *fakeStore) RemoveContact(_ context.Context, username, contact string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contacts[username], contact)
	return nil
}

func (f *fakeStore) Contacts(_ context.Context, username string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.contacts[username] {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) UsersOnline(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var names []string
	for name := range f.online {
		names = append(names, name)
	}
	return names, nil
}

func (f *fakeStore) AddMessage(_ context.Context, sender, recipient, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, fakeMessage{sender, recipient, text, time.Now()})
	return nil
}

func (f *fakeStore) Chat(_ context.Context, user1, user2 string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var lines []string
	for _, m := range f.messages {
		if (m.sender == user1 && m.recipient == user2) || (m.sender == user2 && m.recipient == user1) {
			lines = append(lines, fmt.Sprintf("%s__%d__%s__%s", m.sender, m.at.Unix(), m.text, m.recipient))
		}
	}
	return lines, nil
}

func (f *fakeStore) SetAvatar(_ context.Context, username string, avatar []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	sum := sha256.Sum256(avatar)
	f.avatars[username] = avatar
	f.hashes[username] = hex.EncodeToString(sum[:])
	return nil
}

func (f *fakeStore) Avatar(_ context.Context, username string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	avatar, ok := f.avatars[username]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return avatar, nil
}

func (f *fakeStore) AvatarHash(_ context.Context, username string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hashes[username], nil
}

func (f *fakeStore) CheckAvatarHash(_ context.Context, username, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	stored := f.hashes[username]
	return stored != "" && stored == hash, nil
}

func (f *fakeStore) UpdateStats(_ context.Context, username string, sent, recv int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[username] += sent
	f.recv[username] += recv
	return nil
}

func (f *fakeStore) storedAvatar(username string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.avatars[username]
}

// testPeer drives the wire protocol against a running server.
type testPeer struct {
	t       *testing.T
	conn    net.Conn
	encoder *protocol.Encoder
	decoder *protocol.Decoder
}

func startServer(t *testing.T) (*App, *fakeStore, string) {
	t.Helper()
	store := newFakeStore()
	cfg := config.ServerConfig{
		ListenAddr:       "127.0.0.1:0",
		HandshakeTimeout: 5 * time.Second,
		WriteTimeout:     5 * time.Second,
		MaxFrameBytes:    protocol.DefaultMaxFrameBytes,
	}
	app := NewApp(cfg, store)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		if err := app.Run(ctx); err != nil {
			t.Errorf("server run: %v", err)
		}
	}()

	deadline := time.Now().Add(5 * time.Second)
	for app.Addr() == nil {
		if time.Now().After(deadline) {
			t.Fatal("server did not start listening")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return app, store, app.Addr().String()
}

func dialPeer(t *testing.T, addr string) *testPeer {
	t.Helper()
	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return &testPeer{
		t:       t,
		conn:    conn,
		encoder: protocol.NewEncoder(conn),
		decoder: protocol.NewDecoder(conn),
	}
}

func (p *testPeer) send(req protocol.Request) {
	p.t.Helper()
	require.NoError(p.t, p.encoder.Encode(context.Background(), req))
}

func (p *testPeer) recv() protocol.Response {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	pkt, err := p.decoder.Decode(context.Background())
	require.NoError(p.t, err)
	resp, ok := pkt.(protocol.Response)
	require.True(p.t, ok, "expected a response, got %T", pkt)
	return resp
}

// handshake runs presence and auth for the given account and expects success.
func (p *testPeer) handshake(username, password string) {
	p.t.Helper()
	p.send(protocol.NewRequest(protocol.ActionPresence, username))

	resp := p.recv()
	require.True(p.t, resp.Is(protocol.Auth), "expected key response, got %d", resp.Code)

	pub, err := crypt.ImportPublicKey(resp.Message)
	require.NoError(p.t, err)
	encrypted, err := crypt.EncryptRSA(pub, []byte(password))
	require.NoError(p.t, err)

	p.send(protocol.NewRequest(protocol.ActionAuth, encrypted))
	resp = p.recv()
	require.True(p.t, resp.Is(protocol.OK), "expected OK, got %d %q", resp.Code, resp.Message)
}

// awaitClose blocks until the server tears the connection down.
func (p *testPeer) awaitClose() {
	p.t.Helper()
	require.NoError(p.t, p.conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		if _, err := p.decoder.Decode(context.Background()); err != nil {
			return
		}
	}
}

// collect reads answers until the empty terminator.
func (p *testPeer) collect() []string {
	p.t.Helper()
	var items []string
	for {
		resp := p.recv()
		require.True(p.t, resp.Is(protocol.Answer), "expected answer, got %d", resp.Code)
		if resp.Message == "" {
			return items
		}
		items = append(items, resp.Message)
	}
}

func TestHandshakeAndConnectedBroadcast(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")

	bob := dialPeer(t, addr)
	bob.handshake("bob", "hunter2")

	// Existing sessions learn about the new arrival.
	resp := alice.recv()
	assert.True(t, resp.Is(protocol.Connected))
	assert.Equal(t, "bob", resp.Message)
}

func TestPresenceConflict(t *testing.T) {
	_, _, addr := startServer(t)

	first := dialPeer(t, addr)
	first.handshake("alice", "secret")

	second := dialPeer(t, addr)
	second.send(protocol.NewRequest(protocol.ActionPresence, "alice"))
	resp := second.recv()
	assert.True(t, resp.Is(protocol.Conflict))
}

func TestAuthRejectedOnWrongPassword(t *testing.T) {
	_, _, addr := startServer(t)

	first := dialPeer(t, addr)
	first.handshake("alice", "secret")
	first.send(protocol.NewRequest(protocol.ActionQuit, ""))
	first.awaitClose()

	// The account now exists; a second login must present the same password.
	second := dialPeer(t, addr)
	second.send(protocol.NewRequest(protocol.ActionPresence, "alice"))
	resp := second.recv()
	require.True(t, resp.Is(protocol.Auth))

	pub, err := crypt.ImportPublicKey(resp.Message)
	require.NoError(t, err)
	encrypted, err := crypt.EncryptRSA(pub, []byte("wrong"))
	require.NoError(t, err)

	second.send(protocol.NewRequest(protocol.ActionAuth, encrypted))
	resp = second.recv()
	assert.True(t, resp.Is(protocol.Unauthorized))
}

func TestDirectMessageRouting(t *testing.T) {
	_, store, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")
	bob := dialPeer(t, addr)
	bob.handshake("bob", "hunter2")
	alice.recv() // connected broadcast for bob

	msg := protocol.Msg{Text: "hi", Sender: "bob", To: "alice"}
	bob.send(protocol.NewRequest(protocol.ActionMessage, msg))

	resp := alice.recv()
	assert.True(t, resp.Is(protocol.Letter))
	assert.Equal(t, "bob to @alice: hi", resp.Message)

	// Delivery is persisted with the routed recipient.
	deadline := time.Now().Add(2 * time.Second)
	for {
		lines, err := store.Chat(context.Background(), "alice", "bob")
		require.NoError(t, err)
		if len(lines) == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("message not persisted, history = %v", lines)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBroadcastMessage(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")
	bob := dialPeer(t, addr)
	bob.handshake("bob", "hunter2")
	carol := dialPeer(t, addr)
	carol.handshake("carol", "pass")

	alice.recv() // bob connected
	alice.recv() // carol connected
	bob.recv()   // carol connected

	msg := protocol.NewMsg("hello everyone", "alice")
	alice.send(protocol.NewRequest(protocol.ActionMessage, msg))

	want := "alice to @ALL: hello everyone"
	resp := bob.recv()
	assert.True(t, resp.Is(protocol.Letter))
	assert.Equal(t, want, resp.Message)

	resp = carol.recv()
	assert.True(t, resp.Is(protocol.Letter))
	assert.Equal(t, want, resp.Message)
}

func TestCommands(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")
	bob := dialPeer(t, addr)
	bob.handshake("bob", "hunter2")
	alice.recv() // connected broadcast for bob

	alice.send(protocol.NewRequest(protocol.ActionCommand, "get_users"))
	users := alice.collect()
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)

	alice.send(protocol.NewRequest(protocol.ActionCommand, "add_contact bob"))
	resp := alice.recv()
	assert.True(t, resp.Is(protocol.Answer))
	assert.Equal(t, "Done", resp.Message)

	alice.send(protocol.NewRequest(protocol.ActionCommand, "get_contacts"))
	contacts := alice.collect()
	assert.Equal(t, []string{"bob"}, contacts)
}

func TestUnknownCommand(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")

	alice.send(protocol.NewRequest(protocol.ActionCommand, "frobnicate"))
	resp := alice.recv()
	assert.True(t, resp.Is(protocol.IncorrectRequest))
	assert.Equal(t, "Command not found", resp.Message)
}

func TestUnknownAction(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")

	alice.send(protocol.NewRequest("dance", ""))
	resp := alice.recv()
	assert.True(t, resp.Is(protocol.IncorrectRequest))
}

func TestChatForwarding(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")
	bob := dialPeer(t, addr)
	bob.handshake("bob", "hunter2")
	alice.recv() // connected broadcast for bob

	offer := protocol.Msg{Text: "PEM KEY MATERIAL", Sender: "alice", To: "bob"}
	alice.send(protocol.NewRequest(protocol.ActionStartChat, offer))

	resp := bob.recv()
	assert.True(t, resp.Is(protocol.StartChat))
	assert.Equal(t, offer.String(), resp.Message)

	reply := protocol.Msg{Text: "ENCRYPTED SECRET", Sender: "bob", To: "alice"}
	bob.send(protocol.NewRequest(protocol.ActionAcceptChat, reply))

	resp = alice.recv()
	assert.True(t, resp.Is(protocol.AcceptChat))
	assert.Equal(t, reply.String(), resp.Message)
}

func TestAvatarUploadDownload(t *testing.T) {
	_, store, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")

	avatar := make([]byte, 1300) // spans three chunks
	for i := range avatar {
		avatar[i] = byte(i)
	}

	const chunkBytes = 512
	for i := 0; i < len(avatar); i += chunkBytes {
		end := min(i+chunkBytes, len(avatar))
		chunk := base64.StdEncoding.EncodeToString(avatar[i:end])
		alice.send(protocol.NewRequest(protocol.ActionImage, chunk))
		resp := alice.recv()
		require.True(t, resp.Is(protocol.FileAnswer))
	}
	alice.send(protocol.NewRequest(protocol.ActionEndImage, "set_avatar"))
	resp := alice.recv()
	require.True(t, resp.Is(protocol.FileAnswer))

	assert.Equal(t, avatar, store.storedAvatar("alice"))

	// Download travels in chunks terminated by an empty file answer.
	alice.send(protocol.NewRequest(protocol.ActionGetImage, "alice"))
	var downloaded []byte
	for {
		resp := alice.recv()
		require.True(t, resp.Is(protocol.FileAnswer))
		if resp.Message == "" {
			break
		}
		chunk, err := base64.StdEncoding.DecodeString(resp.Message)
		require.NoError(t, err)
		downloaded = append(downloaded, chunk...)
	}
	assert.Equal(t, avatar, downloaded)
}

func TestGetImageUnknownUser(t *testing.T) {
	_, _, addr := startServer(t)

	alice := dialPeer(t, addr)
	alice.handshake("alice", "secret")

	alice.send(protocol.NewRequest(protocol.ActionGetImage, "ghost"))
	resp := alice.recv()
	assert.True(t, resp.Is(protocol.FileAnswer))
	assert.Empty(t, resp.Message)
}
