package wafakes

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vendio/wasession/wa"
)

var _ wa.Client = (*FakeClient)(nil)
var _ wa.Dialer = (*FakeDialer)(nil)

// FakeClient is a scriptable in-memory wa.Client for tests. Lifecycle events
// are driven through the Emit helpers; send primitives can be overridden per
// call via the *Fn fields.
type FakeClient struct {
	lock sync.Mutex

	handlers     wa.EventHandlers
	handlerBinds int
	connectCalls int
	connectErr   error

	connected    bool
	loggedIn     bool
	disconnects  int
	livenessBoom bool // IsConnected panics when set

	selfID string

	groups          []wa.GroupInfo
	joinedCalls     int
	joinedErr       error
	participants    map[string][]wa.Participant
	participantErrs map[string]error
	inviteLinks     map[string]string
	inviteErrs      map[string]error

	SendTextFn  func(destination, text string) (wa.SendReceipt, error)
	SendImageFn func(destination, url, caption string) (wa.SendReceipt, error)
	SendFileFn  func(destination, url string, opts wa.FileOptions) (wa.SendReceipt, error)
	SendMediaFn func(destination, url, caption string) (wa.SendReceipt, error)
}

func NewFakeClient(selfID string) *FakeClient {
	return &FakeClient{
		selfID:          selfID,
		participants:    make(map[string][]wa.Participant),
		participantErrs: make(map[string]error),
		inviteLinks:     make(map[string]string),
		inviteErrs:      make(map[string]error),
	}
}

func (c *FakeClient) SetHandlers(handlers wa.EventHandlers) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handlers = handlers
	c.handlerBinds++
}

func (c *FakeClient) Connect(ctx context.Context) error {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connectCalls++
	return c.connectErr
}

func (c *FakeClient) Disconnect() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.disconnects++
	c.connected = false
	c.loggedIn = false
}

func (c *FakeClient) IsConnected() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	if c.livenessBoom {
		panic("liveness check failed")
	}
	return c.connected
}

func (c *FakeClient) IsLoggedIn() bool {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.loggedIn
}

func (c *FakeClient) SelfID() string {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.selfID
}

func (c *FakeClient) JoinedGroups(ctx context.Context) ([]wa.GroupInfo, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.joinedCalls++
	if c.joinedErr != nil {
		return nil, c.joinedErr
	}
	out := make([]wa.GroupInfo, len(c.groups))
	copy(out, c.groups)
	return out, nil
}

func (c *FakeClient) GroupParticipants(ctx context.Context, groupID string) ([]wa.Participant, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.participantErrs[groupID]; err != nil {
		return nil, err
	}
	parts, ok := c.participants[groupID]
	if !ok {
		return nil, fmt.Errorf("unknown group %q", groupID)
	}
	out := make([]wa.Participant, len(parts))
	copy(out, parts)
	return out, nil
}

func (c *FakeClient) GroupInviteLink(ctx context.Context, groupID string) (string, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if err := c.inviteErrs[groupID]; err != nil {
		return "", err
	}
	return c.inviteLinks[groupID], nil
}

func (c *FakeClient) SendText(ctx context.Context, destination, text string) (wa.SendReceipt, error) {
	if c.SendTextFn != nil {
		return c.SendTextFn(destination, text)
	}
	return receipt(), nil
}

func (c *FakeClient) SendImage(ctx context.Context, destination, url, caption string) (wa.SendReceipt, error) {
	if c.SendImageFn != nil {
		return c.SendImageFn(destination, url, caption)
	}
	return receipt(), nil
}

func (c *FakeClient) SendFile(ctx context.Context, destination, url string, opts wa.FileOptions) (wa.SendReceipt, error) {
	if c.SendFileFn != nil {
		return c.SendFileFn(destination, url, opts)
	}
	return receipt(), nil
}

func (c *FakeClient) SendMedia(ctx context.Context, destination, url, caption string) (wa.SendReceipt, error) {
	if c.SendMediaFn != nil {
		return c.SendMediaFn(destination, url, caption)
	}
	return receipt(), nil
}

// EmitPairingCode drives the pairing-code callback.
func (c *FakeClient) EmitPairingCode(code string) {
	h := c.snapshotHandlers()
	if h.OnPairingCode != nil {
		h.OnPairingCode(code)
	}
}

// EmitConnected flips the fake into the fully-connected state and drives the
// connected callback.
func (c *FakeClient) EmitConnected() {
	c.lock.Lock()
	c.connected = true
	c.loggedIn = true
	c.lock.Unlock()
	h := c.snapshotHandlers()
	if h.OnConnected != nil {
		h.OnConnected()
	}
}

// EmitDisconnected flips the fake out of the connected state and drives the
// disconnected callback.
func (c *FakeClient) EmitDisconnected(reason string) {
	c.lock.Lock()
	c.connected = false
	c.loggedIn = false
	c.lock.Unlock()
	h := c.snapshotHandlers()
	if h.OnDisconnected != nil {
		h.OnDisconnected(reason)
	}
}

// EmitMessage and EmitCall drive the inbound event callbacks.
func (c *FakeClient) EmitMessage(payload map[string]any) {
	h := c.snapshotHandlers()
	if h.OnMessage != nil {
		h.OnMessage(payload)
	}
}

func (c *FakeClient) EmitCall(payload map[string]any) {
	h := c.snapshotHandlers()
	if h.OnCall != nil {
		h.OnCall(payload)
	}
}

// SetConnected sets the liveness flags without firing any callback, for
// exercising the defensive status re-check.
func (c *FakeClient) SetConnected(connected, loggedIn bool) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.connected = connected
	c.loggedIn = loggedIn
}

// PanicOnLiveness makes IsConnected panic, simulating a liveness check that
// throws inside the protocol library.
func (c *FakeClient) PanicOnLiveness() {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.livenessBoom = true
}

func (c *FakeClient) SetConnectErr(err error) { c.lock.Lock(); defer c.lock.Unlock(); c.connectErr = err }
func (c *FakeClient) SetJoinedErr(err error)  { c.lock.Lock(); defer c.lock.Unlock(); c.joinedErr = err }
func (c *FakeClient) HandlerBinds() int       { c.lock.Lock(); defer c.lock.Unlock(); return c.handlerBinds }
func (c *FakeClient) ConnectCalls() int       { c.lock.Lock(); defer c.lock.Unlock(); return c.connectCalls }
func (c *FakeClient) JoinedCalls() int        { c.lock.Lock(); defer c.lock.Unlock(); return c.joinedCalls }
func (c *FakeClient) Disconnects() int        { c.lock.Lock(); defer c.lock.Unlock(); return c.disconnects }

// AddGroup registers a group fixture with its membership.
func (c *FakeClient) AddGroup(info wa.GroupInfo, members ...wa.Participant) {
	c.lock.Lock()
	defer c.lock.Unlock()
	if info.MemberCount == 0 {
		info.MemberCount = len(members)
	}
	c.groups = append(c.groups, info)
	c.participants[info.ID] = members
}

// SetInviteLink registers the invite link fixture for a group.
func (c *FakeClient) SetInviteLink(groupID, link string) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.inviteLinks[groupID] = link
}

// FailInviteLink makes invite-link resolution fail for a group, as when the
// caller is not an admin.
func (c *FakeClient) FailInviteLink(groupID string, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.inviteErrs[groupID] = err
}

// FailParticipants makes membership resolution fail for one group.
func (c *FakeClient) FailParticipants(groupID string, err error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.participantErrs[groupID] = err
}

func (c *FakeClient) snapshotHandlers() wa.EventHandlers {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.handlers
}

func receipt() wa.SendReceipt {
	return wa.SendReceipt{MessageID: "fake-msg", Timestamp: time.Now()}
}

// FakeDialer hands out pre-registered FakeClients by tenant id, creating a
// fresh one on demand for unknown tenants.
type FakeDialer struct {
	lock    sync.Mutex
	clients map[string]*FakeClient
	dialErr error
	dials   []string
}

func NewFakeDialer() *FakeDialer {
	return &FakeDialer{clients: make(map[string]*FakeClient)}
}

func (d *FakeDialer) Dial(ctx context.Context, tenantID string) (wa.Client, error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.dials = append(d.dials, tenantID)
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	cli, ok := d.clients[tenantID]
	if !ok {
		cli = NewFakeClient(tenantID + "@self")
		d.clients[tenantID] = cli
	}
	return cli, nil
}

// Register pre-seeds the client handed out for a tenant.
func (d *FakeDialer) Register(tenantID string, cli *FakeClient) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.clients[tenantID] = cli
}

func (d *FakeDialer) SetDialErr(err error) {
	d.lock.Lock()
	defer d.lock.Unlock()
	d.dialErr = err
}

// Client returns the fake registered for a tenant, if any.
func (d *FakeDialer) Client(tenantID string) (*FakeClient, bool) {
	d.lock.Lock()
	defer d.lock.Unlock()
	cli, ok := d.clients[tenantID]
	return cli, ok
}

// Dials returns the tenant ids dialed so far, in order.
func (d *FakeDialer) Dials() []string {
	d.lock.Lock()
	defer d.lock.Unlock()
	out := make([]string, len(d.dials))
	copy(out, d.dials)
	return out
}
