package sessions_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vendio/wasession/relay"
	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa/wafakes"
)

const testTenantID = "tenant-1"

type testFixture struct {
	registry   *sessions.Registry
	dialer     *wafakes.FakeDialer
	broker     *relay.Broker
	supervisor *sessions.Supervisor
	status     *sessions.StatusService
}

func setupTestFixture(t *testing.T) *testFixture {
	t.Helper()

	registry := sessions.NewRegistry()
	dialer := wafakes.NewFakeDialer()
	broker := relay.NewBroker()
	t.Cleanup(broker.Close)

	supervisor := sessions.NewSupervisor(registry, dialer, broker)
	supervisor.SetRecheckDelay(time.Millisecond)

	return &testFixture{
		registry:   registry,
		dialer:     dialer,
		broker:     broker,
		supervisor: supervisor,
		status:     sessions.NewStatusService(registry),
	}
}

func TestInitializeSessionIsIdempotent(t *testing.T) {
	f := setupTestFixture(t)

	first, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	second, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)

	require.Same(t, first, second)
	require.Len(t, f.dialer.Dials(), 1)

	cli, ok := f.dialer.Client(testTenantID)
	require.True(t, ok)
	require.Equal(t, 1, cli.HandlerBinds(), "callbacks must not be rebound on repeat initialization")
	require.Equal(t, 1, cli.ConnectCalls())
}

func TestInitializeSessionRequiresTenantID(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), "")
	require.ErrorIs(t, err, sessions.ErrEmptyTenantID)
}

func TestPairingScenario(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), "T1")
	require.NoError(t, err)
	cli, ok := f.dialer.Client("T1")
	require.True(t, ok)

	cli.EmitPairingCode("ABC123")
	status := f.status.GetStatus("T1")
	require.False(t, status.Connected)
	require.Equal(t, "ABC123", status.PairingCode)

	cli.EmitConnected()
	status = f.status.GetStatus("T1")
	require.True(t, status.Connected)
	require.Empty(t, status.PairingCode)
}

func TestPairingCodeAndConnectedAreMutuallyExclusive(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	cli, _ := f.dialer.Client(testTenantID)

	checkInvariant := func() {
		st, ok := f.registry.Status(testTenantID)
		require.True(t, ok)
		if st.Connected {
			require.Empty(t, st.PairingCode, "connected session must not expose a pairing code")
		}
	}

	cli.EmitPairingCode("CODE-1")
	checkInvariant()
	cli.EmitConnected()
	checkInvariant()
	cli.EmitDisconnected("logged out")
	checkInvariant()
	cli.EmitPairingCode("CODE-2")
	checkInvariant()
	cli.EmitConnected()
	checkInvariant()
}

func TestGetStatusUnknownTenant(t *testing.T) {
	f := setupTestFixture(t)

	status := f.status.GetStatus("never-initialized")
	require.False(t, status.Connected)
	require.Empty(t, status.PairingCode)
}

func TestLiveCheckOverridesCachedState(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	cli, _ := f.dialer.Client(testTenantID)

	// Connected without any transition event, as a restored session would be.
	cli.SetConnected(true, true)
	require.True(t, f.status.GetStatus(testTenantID).Connected)

	// Transport dropped without an event; the live check wins again.
	cli.SetConnected(false, false)
	require.False(t, f.status.GetStatus(testTenantID).Connected)
}

func TestLivenessFailureReportsDisconnected(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	cli, _ := f.dialer.Client(testTenantID)
	cli.EmitConnected()
	cli.PanicOnLiveness()

	require.False(t, f.status.GetStatus(testTenantID).Connected, "unconfirmable session must never report connected")
}

func TestDefensiveRecheckPicksUpRestoredSession(t *testing.T) {
	f := setupTestFixture(t)

	restored := wafakes.NewFakeClient("self@s.whatsapp.net")
	restored.SetConnected(true, true)
	f.dialer.Register(testTenantID, restored)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, ok := f.registry.Status(testTenantID)
		return ok && st.Connected
	}, time.Second, 5*time.Millisecond)
}

func TestDisconnectRemovesSession(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	cli, _ := f.dialer.Client(testTenantID)
	cli.EmitPairingCode("ABC123")

	f.supervisor.Disconnect(testTenantID)

	require.Equal(t, 1, cli.Disconnects())
	status := f.status.GetStatus(testTenantID)
	require.False(t, status.Connected)
	require.Empty(t, status.PairingCode)
}

func TestDisconnectUnknownTenantIsNoop(t *testing.T) {
	f := setupTestFixture(t)
	f.supervisor.Disconnect("never-initialized")
}

func TestDialFailurePublishesAuthFailed(t *testing.T) {
	f := setupTestFixture(t)
	_, events := f.broker.Subscribe()

	f.dialer.SetDialErr(errors.New("store unavailable"))
	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.Error(t, err)

	evt := <-events
	require.Equal(t, relay.EventAuthFailed, evt.Name)
	require.Equal(t, testTenantID, evt.TenantID)
	require.Contains(t, evt.Payload["error"], "store unavailable")

	_, ok := f.registry.Client(testTenantID)
	require.False(t, ok, "failed initialization must not leave a session behind")
}

func TestLifecycleEventsAreRelayedInOrder(t *testing.T) {
	f := setupTestFixture(t)

	_, err := f.supervisor.InitializeSession(context.Background(), testTenantID)
	require.NoError(t, err)
	cli, _ := f.dialer.Client(testTenantID)

	_, events := f.broker.Subscribe()
	cli.EmitPairingCode("ABC123")
	cli.EmitConnected()
	cli.EmitMessage(map[string]any{"text": "hello"})
	cli.EmitDisconnected("logged out")

	wantOrder := []relay.EventName{
		relay.EventPairingCode,
		relay.EventReady,
		relay.EventMessage,
		relay.EventDisconnected,
	}
	for _, want := range wantOrder {
		evt := <-events
		require.Equal(t, want, evt.Name)
		require.Equal(t, testTenantID, evt.TenantID)
	}
}

func TestShutdownDisconnectsAllSessions(t *testing.T) {
	f := setupTestFixture(t)

	for _, tenant := range []string{"tenant-1", "tenant-2", "tenant-3"} {
		_, err := f.supervisor.InitializeSession(context.Background(), tenant)
		require.NoError(t, err)
	}

	f.supervisor.Shutdown()

	total, _ := f.registry.Counts()
	require.Zero(t, total)
}
