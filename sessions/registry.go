// Package sessions owns the per-tenant messaging session: the registry of
// live connection handles, the supervisor that creates and watches them, and
// the status query service.
package sessions

import (
	"sync"

	"github.com/vendio/wasession/wa"
)

// Session is the live (or pending) connection state for one tenant. The
// pairing code and the connected flag are mutually exclusive: reaching the
// connected state clears any code.
type Session struct {
	TenantID    string
	client      wa.Client
	pairingCode string
	connected   bool
}

// Status is a point-in-time snapshot of one session's state.
type Status struct {
	Connected   bool
	PairingCode string
}

// Registry is the shared session store, owned by the composition root and
// passed by reference to every component. Entries may appear or disappear
// between calls; callers must re-resolve handles rather than cache them
// across suspension points.
type Registry struct {
	lock     sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Register stores a session for the tenant unless one already exists. It
// returns the session's client and whether the given client was installed;
// on a lost race the already-registered client wins.
func (r *Registry) Register(tenantID string, client wa.Client) (wa.Client, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if existing, ok := r.sessions[tenantID]; ok {
		return existing.client, false
	}
	r.sessions[tenantID] = &Session{TenantID: tenantID, client: client}
	return client, true
}

// Client returns the tenant's connection handle, if a session exists.
func (r *Registry) Client(tenantID string) (wa.Client, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sess, ok := r.sessions[tenantID]
	if !ok {
		return nil, false
	}
	return sess.client, true
}

// Remove deletes the tenant's session and returns its handle for closing.
func (r *Registry) Remove(tenantID string) (wa.Client, bool) {
	r.lock.Lock()
	defer r.lock.Unlock()

	sess, ok := r.sessions[tenantID]
	if !ok {
		return nil, false
	}
	delete(r.sessions, tenantID)
	return sess.client, true
}

// SetPairingCode stores the current pairing code for a tenant awaiting the
// user's pairing action.
func (r *Registry) SetPairingCode(tenantID, code string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if sess, ok := r.sessions[tenantID]; ok {
		sess.pairingCode = code
		sess.connected = false
	}
}

// MarkConnected flips the session into the connected state and discards any
// pairing code, keeping the two mutually exclusive.
func (r *Registry) MarkConnected(tenantID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if sess, ok := r.sessions[tenantID]; ok {
		sess.connected = true
		sess.pairingCode = ""
	}
}

// MarkDisconnected clears the connected flag. Stored credentials are not
// touched; the session may reconnect later.
func (r *Registry) MarkDisconnected(tenantID string) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if sess, ok := r.sessions[tenantID]; ok {
		sess.connected = false
	}
}

// Status returns the cached snapshot for a tenant.
func (r *Registry) Status(tenantID string) (Status, bool) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	sess, ok := r.sessions[tenantID]
	if !ok {
		return Status{}, false
	}
	return Status{Connected: sess.connected, PairingCode: sess.pairingCode}, true
}

// Tenants lists the tenants with a registered session.
func (r *Registry) Tenants() []string {
	r.lock.RLock()
	defer r.lock.RUnlock()

	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

// Counts reports the number of registered and cached-connected sessions.
func (r *Registry) Counts() (total, connected int) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	total = len(r.sessions)
	for _, sess := range r.sessions {
		if sess.connected {
			connected++
		}
	}
	return total, connected
}
