package sessions

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/relay"
	"github.com/vendio/wasession/wa"
)

var (
	// ErrEmptyTenantID rejects initialization without a tenant.
	ErrEmptyTenantID = errors.New("tenant id required")

	// ErrNoSession means no session is registered for the tenant.
	ErrNoSession = errors.New("no session for tenant")
)

// DefaultRecheckDelay is how long after client creation the supervisor
// re-checks connectivity directly. A restored session may already be
// authenticated and never emit an explicit transition event.
const DefaultRecheckDelay = 3 * time.Second

// Supervisor creates one protocol client per tenant, binds its lifecycle
// callbacks and republishes them on the relay.
type Supervisor struct {
	registry     *Registry
	dialer       wa.Dialer
	broker       *relay.Broker
	recheckDelay time.Duration
}

func NewSupervisor(registry *Registry, dialer wa.Dialer, broker *relay.Broker) *Supervisor {
	return &Supervisor{
		registry:     registry,
		dialer:       dialer,
		broker:       broker,
		recheckDelay: DefaultRecheckDelay,
	}
}

// SetRecheckDelay overrides the defensive re-check delay. Mainly for tests.
func (s *Supervisor) SetRecheckDelay(d time.Duration) {
	s.recheckDelay = d
}

// InitializeSession creates (or returns) the tenant's session. It is
// idempotent: a second call for a registered tenant returns the existing
// handle without rebinding callbacks. Connecting continues in the
// background; callers observe progress through the status service or a
// relay subscription. A creation failure is published as an auth-failed
// event in addition to being returned.
func (s *Supervisor) InitializeSession(ctx context.Context, tenantID string) (wa.Client, error) {
	if tenantID == "" {
		return nil, ErrEmptyTenantID
	}
	if cli, ok := s.registry.Client(tenantID); ok {
		return cli, nil
	}

	cli, err := s.dialer.Dial(ctx, tenantID)
	if err != nil {
		s.publishAuthFailed(tenantID, err)
		return nil, fmt.Errorf("[InitializeSession] dial %q: %w", tenantID, err)
	}

	registered, created := s.registry.Register(tenantID, cli)
	if !created {
		// Lost a concurrent initialization race; the winner's handle stands.
		return registered, nil
	}

	// Callbacks must be bound before the client starts connecting.
	s.bind(tenantID, cli)

	if err := cli.Connect(ctx); err != nil {
		s.registry.Remove(tenantID)
		s.publishAuthFailed(tenantID, err)
		return nil, fmt.Errorf("[InitializeSession] connect %q: %w", tenantID, err)
	}

	time.AfterFunc(s.recheckDelay, func() { s.recheck(tenantID) })

	log.Info().Str("tenant_id", tenantID).Msg("session initializing")
	return cli, nil
}

// Disconnect closes the tenant's handle and drops the session, pairing code
// included. It is a no-op when no session exists.
func (s *Supervisor) Disconnect(tenantID string) {
	cli, ok := s.registry.Remove(tenantID)
	if !ok {
		return
	}
	cli.Disconnect()
	log.Info().Str("tenant_id", tenantID).Msg("session disconnected")
}

// Shutdown disconnects every registered session.
func (s *Supervisor) Shutdown() {
	for _, tenantID := range s.registry.Tenants() {
		s.Disconnect(tenantID)
	}
}

func (s *Supervisor) bind(tenantID string, cli wa.Client) {
	cli.SetHandlers(wa.EventHandlers{
		OnPairingCode: func(code string) {
			s.registry.SetPairingCode(tenantID, code)
			s.broker.Publish(relay.Event{
				Name:     relay.EventPairingCode,
				TenantID: tenantID,
				Payload:  map[string]any{"code": code},
			})
		},
		OnConnected: func() {
			s.registry.MarkConnected(tenantID)
			s.broker.Publish(relay.Event{Name: relay.EventReady, TenantID: tenantID})
		},
		OnDisconnected: func(reason string) {
			s.registry.MarkDisconnected(tenantID)
			s.broker.Publish(relay.Event{
				Name:     relay.EventDisconnected,
				TenantID: tenantID,
				Payload:  map[string]any{"reason": reason},
			})
		},
		OnMessage: func(payload map[string]any) {
			s.broker.Publish(relay.Event{Name: relay.EventMessage, TenantID: tenantID, Payload: payload})
		},
		OnCall: func(payload map[string]any) {
			s.broker.Publish(relay.Event{Name: relay.EventCall, TenantID: tenantID, Payload: payload})
		},
	})
}

// recheck covers restored sessions that come up authenticated without
// emitting a transition event.
func (s *Supervisor) recheck(tenantID string) {
	cli, ok := s.registry.Client(tenantID)
	if !ok {
		return
	}
	if clientConnected(cli) {
		s.registry.MarkConnected(tenantID)
	}
}

func (s *Supervisor) publishAuthFailed(tenantID string, err error) {
	log.Error().Str("tenant_id", tenantID).Err(err).Msg("session initialization failed")
	s.broker.Publish(relay.Event{
		Name:     relay.EventAuthFailed,
		TenantID: tenantID,
		Payload:  map[string]any{"error": err.Error()},
	})
}

// clientConnected is the single definition of "fully connected". A liveness
// check that panics inside the protocol library counts as disconnected.
func clientConnected(cli wa.Client) (connected bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Warn().Interface("panic", r).Msg("liveness check failed, treating as disconnected")
			connected = false
		}
	}()
	return cli.IsConnected() && cli.IsLoggedIn()
}
