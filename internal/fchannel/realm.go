package fchannel

import (
	"sync"

	"github.com/anillo-os/anillo-os-sub007/internal/errs"
)

// Server is a listening point for one named endpoint in a Realm.
// Connect creates a fresh pair and hands the server-side half to whoever
// calls Accept.
type Server struct {
	mu      sync.Mutex
	closed  bool
	pending []*Channel
}

// Realm is a namespace of registered servers, analogous to a directory of
// listening sockets.
type Realm struct {
	mu      sync.Mutex
	servers map[string]*Server
}

// NewRealm creates an empty realm.
func NewRealm() *Realm {
	return &Realm{servers: make(map[string]*Server)}
}

// Register creates and names a new server in the realm. It fails with
// already-in-progress if the name is taken.
func (r *Realm) Register(name string) (*Server, errs.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[name]; ok {
		return nil, errs.AlreadyInProgress
	}
	s := &Server{}
	r.servers[name] = s
	return s, errs.Ok
}

// Unregister removes name from the realm, if present.
func (r *Realm) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.servers, name)
}

// Connect looks up name in the realm and creates a fresh pair, handing
// the client half back to the caller and queuing the server half for the
// listener's Accept.
func (r *Realm) Connect(name string) (*Channel, errs.Status) {
	r.mu.Lock()
	s, ok := r.servers[name]
	r.mu.Unlock()
	if !ok {
		return nil, errs.NoSuchResource
	}
	return s.connect()
}

func (s *Server) connect() (*Channel, errs.Status) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, errs.PermanentOutage
	}
	client, serverSide := NewPair()
	s.pending = append(s.pending, serverSide)
	s.mu.Unlock()
	return client, errs.Ok
}

// Accept pops the oldest pending incoming connection, or reports no-wait
// if none is queued; callers that want to block poll this through a
// monitor item instead of looping here.
func (s *Server) Accept() (*Channel, errs.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.pending) == 0 {
		if s.closed {
			return nil, errs.PermanentOutage
		}
		return nil, errs.NoWait
	}
	c := s.pending[0]
	s.pending = s.pending[1:]
	return c, errs.Ok
}

// PendingLen reports the number of connections awaiting Accept.
func (s *Server) PendingLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Close stops the server from accepting further connections; any
// already-pending connections remain acceptable.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}
