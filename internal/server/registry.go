package server

import "crypto/rsa"

// registry is the single source of truth for live sessions, claimed
// usernames, pending handshake keys and in-flight avatar uploads. It is
// owned exclusively by the dispatch loop: every mutation happens on that
// goroutine, so no locking is required.
type registry struct {
	sessions  map[string]*clientSession  // session id → session
	users     map[string]*clientSession  // claimed username → session
	keys      map[string]*rsa.PrivateKey // username → pending handshake key
	uploads   map[string][]byte          // username → avatar assembly buffer
	blacklist map[string]struct{}        // refused peer addresses
}

func newRegistry() *registry {
	return &registry{
		sessions:  make(map[string]*clientSession),
		users:     make(map[string]*clientSession),
		keys:      make(map[string]*rsa.PrivateKey),
		uploads:   make(map[string][]byte),
		blacklist: make(map[string]struct{}),
	}
}

func (r *registry) add(s *clientSession) {
	r.sessions[s.id] = s
}

// remove forgets the session and releases everything tied to its username.
// It returns the username the session held, if any.
func (r *registry) remove(s *clientSession) string {
	delete(r.sessions, s.id)
	username := s.username
	if username != "" && r.users[username] == s {
		delete(r.users, username)
		delete(r.keys, username)
		delete(r.uploads, username)
	}
	return username
}

func (r *registry) alive(s *clientSession) bool {
	_, ok := r.sessions[s.id]
	return ok
}

func (r *registry) claimed(username string) bool {
	_, ok := r.users[username]
	return ok
}

func (r *registry) claim(username string, s *clientSession) {
	r.users[username] = s
	s.username = username
}

func (r *registry) lookup(username string) (*clientSession, bool) {
	s, ok := r.users[username]
	return s, ok
}

// others returns every live session except the given one.
func (r *registry) others(s *clientSession) []*clientSession {
	out := make([]*clientSession, 0, len(r.sessions))
	for _, other := range r.sessions {
		if other != s {
			out = append(out, other)
		}
	}
	return out
}

func (r *registry) banned(addr string) bool {
	_, ok := r.blacklist[addr]
	return ok
}

func (r *registry) ban(addr string) {
	if addr != "" {
		r.blacklist[addr] = struct{}{}
	}
}
