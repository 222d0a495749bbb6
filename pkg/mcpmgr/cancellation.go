package mcpmgr

import (
	"strings"
	"sync"
)

// cancelSignal is a one-shot signal bound to a single in-flight call.
type cancelSignal struct {
	once sync.Once
	done chan struct{}
}

func newCancelSignal() *cancelSignal {
	return &cancelSignal{done: make(chan struct{})}
}

func (s *cancelSignal) fire() { s.once.Do(func() { close(s.done) }) }

// Done is closed when the signal fires.
func (s *cancelSignal) Done() <-chan struct{} { return s.done }

// CancellationRegistry binds caller-supplied tokens to in-flight tool calls.
// A token is present only while its call is in flight.
type CancellationRegistry struct {
	mu      sync.Mutex
	signals map[string]*cancelSignal
}

// NewCancellationRegistry returns an empty registry.
func NewCancellationRegistry() *CancellationRegistry {
	return &CancellationRegistry{signals: make(map[string]*cancelSignal)}
}

// Register binds token to a fresh signal. Tokens already bound to an
// in-flight call are rejected with ErrTokenInUse.
func (r *CancellationRegistry) Register(token string) (*cancelSignal, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.signals[token]; ok {
		return nil, ErrTokenInUse
	}
	sig := newCancelSignal()
	r.signals[token] = sig
	return sig, nil
}

// Cancel fires and removes the signal for token. Unknown tokens are reported
// with ErrTokenNotFound so callers can tell a no-op apart.
func (r *CancellationRegistry) Cancel(token string) error {
	r.mu.Lock()
	sig, ok := r.signals[token]
	if ok {
		delete(r.signals, token)
	}
	r.mu.Unlock()
	if !ok {
		return ErrTokenNotFound
	}
	sig.fire()
	return nil
}

// Release removes token if it is still bound to sig.
func (r *CancellationRegistry) Release(token string, sig *cancelSignal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.signals[token]; ok && cur == sig {
		delete(r.signals, token)
	}
}

// Has reports whether token is bound to an in-flight call.
func (r *CancellationRegistry) Has(token string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.signals[token]
	return ok
}

// Len reports the number of in-flight calls with a token.
func (r *CancellationRegistry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.signals)
}

func validToken(token string) bool { return strings.TrimSpace(token) != "" }
