package wa

import (
	"context"
	"errors"
	"time"
)

// ErrNotConnected is returned by client operations that require an
// authenticated, live connection.
var ErrNotConnected = errors.New("client not connected")

// Client is the per-tenant handle to the underlying messaging protocol.
// A Client is exclusively owned by one session; the protocol library
// serializes its own operations internally, so a Client does not need
// external locking.
type Client interface {
	// SetHandlers registers the lifecycle callbacks. Must be called before
	// Connect so that no pairing or state event is missed.
	SetHandlers(handlers EventHandlers)

	// Connect starts connecting (and pairing, if no stored credentials
	// exist for the tenant). It returns once the connection attempt has
	// been started; progress is reported through the registered handlers.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down without discarding stored
	// credentials.
	Disconnect()

	// IsConnected reports whether the transport is up.
	IsConnected() bool

	// IsLoggedIn reports whether the session is authenticated. A session
	// counts as fully connected only when both IsConnected and IsLoggedIn
	// hold.
	IsLoggedIn() bool

	// SelfID returns the caller's own protocol-level identifier, or the
	// empty string before pairing completes.
	SelfID() string

	// JoinedGroups enumerates the groups the session participates in.
	JoinedGroups(ctx context.Context) ([]GroupInfo, error)

	// GroupParticipants resolves the membership of one group.
	GroupParticipants(ctx context.Context, groupID string) ([]Participant, error)

	// GroupInviteLink fetches the invite link for a group. Fails when the
	// caller is not an admin of that group.
	GroupInviteLink(ctx context.Context, groupID string) (string, error)

	// Send primitives. Several overlap in capability; callers are expected
	// to try them in order and keep the first success.
	SendText(ctx context.Context, destination, text string) (SendReceipt, error)
	SendImage(ctx context.Context, destination, url, caption string) (SendReceipt, error)
	SendFile(ctx context.Context, destination, url string, opts FileOptions) (SendReceipt, error)
	SendMedia(ctx context.Context, destination, url, caption string) (SendReceipt, error)
}

// Dialer creates a Client for a tenant, restoring any credentials the
// protocol library has cached for that tenant from a previous run.
type Dialer interface {
	Dial(ctx context.Context, tenantID string) (Client, error)
}

// EventHandlers are the lifecycle callbacks a Client invokes as its
// connection progresses. Any handler may be nil.
type EventHandlers struct {
	// OnPairingCode fires each time a fresh pairing code is generated
	// while the session awaits the user's pairing action.
	OnPairingCode func(code string)

	// OnConnected fires when the session reaches the fully-connected state.
	OnConnected func()

	// OnDisconnected fires on logout, unpairing or transport loss. The
	// reason is informational only.
	OnDisconnected func(reason string)

	// OnMessage and OnCall republish inbound protocol events untransformed.
	OnMessage func(payload map[string]any)
	OnCall    func(payload map[string]any)
}

// GroupInfo describes one group as seen during discovery.
type GroupInfo struct {
	ID          string
	Name        string
	Description string
	MemberCount int
}

// Participant is one member of a group. Phone is the resolved phone number
// when the protocol id maps to one, empty otherwise.
type Participant struct {
	ID    string
	Phone string
	Name  string
}

// FileOptions carries caller-supplied metadata for a generic file send.
type FileOptions struct {
	Caption  string
	FileName string
	MimeType string
}

// SendReceipt is the acknowledgment for one dispatched message.
type SendReceipt struct {
	MessageID string
	Timestamp time.Time
}
