package whatsapp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	"google.golang.org/protobuf/proto"

	"github.com/vendio/wasession/wa"
)

// maxMediaBytes caps how much is fetched from a caller-supplied media URL.
const maxMediaBytes = 32 << 20

var _ wa.Client = (*client)(nil)

type client struct {
	tenantID string
	cli      *whatsmeow.Client
	index    *tenantIndex

	lock     sync.Mutex
	handlers wa.EventHandlers
	bound    bool
	qrCancel context.CancelFunc
}

func newClient(tenantID string, cli *whatsmeow.Client, index *tenantIndex) *client {
	return &client{tenantID: tenantID, cli: cli, index: index}
}

func (c *client) SetHandlers(handlers wa.EventHandlers) {
	c.lock.Lock()
	defer c.lock.Unlock()
	c.handlers = handlers
}

// Connect binds the whatsmeow event handler, arranges QR delivery when the
// device is unpaired, and starts the connection. It does not wait for the
// session to reach the connected state.
func (c *client) Connect(ctx context.Context) error {
	c.lock.Lock()
	if !c.bound {
		c.cli.AddEventHandler(c.handleEvent)
		c.bound = true
	}
	c.lock.Unlock()

	if c.cli.Store.ID == nil {
		// Unpaired device: the QR channel must be opened before Connect.
		qrCtx, cancel := context.WithCancel(context.Background())
		qrChan, err := c.cli.GetQRChannel(qrCtx)
		if err != nil {
			cancel()
			return fmt.Errorf("[Connect] qr channel for %q: %w", c.tenantID, err)
		}
		c.lock.Lock()
		c.qrCancel = cancel
		c.lock.Unlock()
		go c.consumeQR(qrChan)
	}

	if err := c.cli.Connect(); err != nil {
		return fmt.Errorf("[Connect] %q: %w", c.tenantID, err)
	}
	return nil
}

func (c *client) consumeQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case whatsmeow.QRChannelEventCode:
			if h := c.snapshot().OnPairingCode; h != nil {
				h(item.Code)
			}
		case whatsmeow.QRChannelSuccess.Event:
			// Pairing done; the Connected event carries the state change.
		default:
			log.Warn().Str("tenant_id", c.tenantID).Str("qr_event", item.Event).
				Msg("pairing channel closed without success")
			if h := c.snapshot().OnDisconnected; h != nil {
				h("pairing " + item.Event)
			}
		}
	}
}

func (c *client) handleEvent(evt any) {
	switch e := evt.(type) {
	case *events.Connected:
		c.rememberJID()
		if h := c.snapshot().OnConnected; h != nil {
			h()
		}
	case *events.PairSuccess:
		c.rememberJID()
	case *events.LoggedOut:
		if h := c.snapshot().OnDisconnected; h != nil {
			h(fmt.Sprintf("logged out: %v", e.Reason))
		}
	case *events.Disconnected:
		if h := c.snapshot().OnDisconnected; h != nil {
			h("transport disconnected")
		}
	case *events.StreamReplaced:
		if h := c.snapshot().OnDisconnected; h != nil {
			h("stream replaced by another connection")
		}
	case *events.Message:
		if h := c.snapshot().OnMessage; h != nil {
			h(map[string]any{
				"id":        e.Info.ID,
				"from":      e.Info.Sender.String(),
				"chat":      e.Info.Chat.String(),
				"push_name": e.Info.PushName,
				"timestamp": e.Info.Timestamp,
				"text":      e.Message.GetConversation(),
			})
		}
	case *events.CallOffer:
		if h := c.snapshot().OnCall; h != nil {
			h(map[string]any{
				"call_id":   e.CallID,
				"from":      e.From.String(),
				"timestamp": e.Timestamp,
			})
		}
	}
}

// rememberJID records tenant -> device JID once pairing has produced one.
func (c *client) rememberJID() {
	id := c.cli.Store.ID
	if id == nil {
		return
	}
	if err := c.index.Remember(c.tenantID, id.String()); err != nil {
		log.Error().Str("tenant_id", c.tenantID).Err(err).Msg("persist tenant index")
	}
}

func (c *client) Disconnect() {
	c.lock.Lock()
	cancel := c.qrCancel
	c.qrCancel = nil
	c.lock.Unlock()
	if cancel != nil {
		cancel()
	}
	c.cli.Disconnect()
}

func (c *client) IsConnected() bool { return c.cli.IsConnected() }
func (c *client) IsLoggedIn() bool  { return c.cli.IsLoggedIn() }

func (c *client) SelfID() string {
	if id := c.cli.Store.ID; id != nil {
		return id.String()
	}
	return ""
}

func (c *client) JoinedGroups(ctx context.Context) ([]wa.GroupInfo, error) {
	groups, err := c.cli.GetJoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("[JoinedGroups] %q: %w", c.tenantID, err)
	}
	out := make([]wa.GroupInfo, 0, len(groups))
	for _, g := range groups {
		out = append(out, wa.GroupInfo{
			ID:          g.JID.String(),
			Name:        g.GroupName.Name,
			Description: g.GroupTopic.Topic,
			MemberCount: len(g.Participants),
		})
	}
	return out, nil
}

func (c *client) GroupParticipants(ctx context.Context, groupID string) ([]wa.Participant, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return nil, fmt.Errorf("[GroupParticipants] parse %q: %w", groupID, err)
	}
	info, err := c.cli.GetGroupInfo(ctx, jid)
	if err != nil {
		return nil, fmt.Errorf("[GroupParticipants] %q: %w", groupID, err)
	}

	out := make([]wa.Participant, 0, len(info.Participants))
	for _, p := range info.Participants {
		out = append(out, wa.Participant{
			ID:    p.JID.String(),
			Phone: phoneFromJID(p.JID),
			Name:  c.displayName(ctx, p.JID),
		})
	}
	return out, nil
}

func (c *client) GroupInviteLink(ctx context.Context, groupID string) (string, error) {
	jid, err := types.ParseJID(groupID)
	if err != nil {
		return "", fmt.Errorf("[GroupInviteLink] parse %q: %w", groupID, err)
	}
	link, err := c.cli.GetGroupInviteLink(ctx, jid, false)
	if err != nil {
		return "", fmt.Errorf("[GroupInviteLink] %q: %w", groupID, err)
	}
	return link, nil
}

// displayName is best effort: an empty name is fine, discovery falls back to
// the identifier.
func (c *client) displayName(ctx context.Context, jid types.JID) string {
	contact, err := c.cli.Store.Contacts.GetContact(ctx, jid)
	if err != nil || !contact.Found {
		return ""
	}
	if contact.FullName != "" {
		return contact.FullName
	}
	return contact.PushName
}

// phoneFromJID extracts a phone number from a protocol id when the id lives
// on the standard user server. Hidden-user ids yield an empty string.
func phoneFromJID(jid types.JID) string {
	if jid.Server != types.DefaultUserServer {
		return ""
	}
	return jid.User
}

func (c *client) SendText(ctx context.Context, destination, text string) (wa.SendReceipt, error) {
	to, err := types.ParseJID(destination)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendText] parse %q: %w", destination, err)
	}
	resp, err := c.cli.SendMessage(ctx, to, &waE2E.Message{Conversation: proto.String(text)})
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendText] %q: %w", destination, err)
	}
	return wa.SendReceipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *client) SendImage(ctx context.Context, destination, url, caption string) (wa.SendReceipt, error) {
	to, err := types.ParseJID(destination)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendImage] parse %q: %w", destination, err)
	}
	data, mimeType, err := fetchMedia(ctx, url)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendImage] fetch %q: %w", url, err)
	}
	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendImage] upload: %w", err)
	}

	msg := &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
		Caption:       proto.String(caption),
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	resp, err := c.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendImage] %q: %w", destination, err)
	}
	return wa.SendReceipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (c *client) SendFile(ctx context.Context, destination, url string, opts wa.FileOptions) (wa.SendReceipt, error) {
	to, err := types.ParseJID(destination)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendFile] parse %q: %w", destination, err)
	}
	data, mimeType, err := fetchMedia(ctx, url)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendFile] fetch %q: %w", url, err)
	}
	if opts.MimeType != "" {
		mimeType = opts.MimeType
	}
	fileName := opts.FileName
	if fileName == "" {
		fileName = fileNameFromURL(url)
	}

	uploaded, err := c.cli.Upload(ctx, data, whatsmeow.MediaDocument)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendFile] upload: %w", err)
	}

	msg := &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
		Caption:       proto.String(opts.Caption),
		FileName:      proto.String(fileName),
		Mimetype:      proto.String(mimeType),
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}}
	resp, err := c.cli.SendMessage(ctx, to, msg)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendFile] %q: %w", destination, err)
	}
	return wa.SendReceipt{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

// SendMedia is the coarse primitive: it picks image or document handling from
// the fetched content type.
func (c *client) SendMedia(ctx context.Context, destination, url, caption string) (wa.SendReceipt, error) {
	_, mimeType, err := fetchMedia(ctx, url)
	if err != nil {
		return wa.SendReceipt{}, fmt.Errorf("[SendMedia] fetch %q: %w", url, err)
	}
	if strings.HasPrefix(mimeType, "image/") {
		return c.SendImage(ctx, destination, url, caption)
	}
	return c.SendFile(ctx, destination, url, wa.FileOptions{Caption: caption, MimeType: mimeType})
}

func fetchMedia(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("unexpected status %s", resp.Status)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaBytes))
	if err != nil {
		return nil, "", err
	}

	mimeType := resp.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

func fileNameFromURL(url string) string {
	trimmed := strings.TrimRight(url, "/")
	if idx := strings.LastIndex(trimmed, "/"); idx >= 0 && idx < len(trimmed)-1 {
		name := trimmed[idx+1:]
		if q := strings.IndexByte(name, '?'); q >= 0 {
			name = name[:q]
		}
		if name != "" {
			return name
		}
	}
	return "file"
}

func (c *client) snapshot() wa.EventHandlers {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.handlers
}
