// Package discovery enumerates a connected session's groups and
// deduplicates their members into a unique contact list. Discovery is
// eventually consistent right after connecting, so callers poll (see
// Poller) rather than trust a single pass.
package discovery

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa"
)

// DefaultSettleDelay gives the protocol store time to finish populating
// after a fresh connection before a contact scan.
const DefaultSettleDelay = 2 * time.Second

// minPhoneDigits rejects implausibly short values when a participant id is
// resolved to a phone number.
const minPhoneDigits = 7

// Group is one discovered group. InviteLink is empty when the caller lacks
// admin rights on the group.
type Group struct {
	ID          string `json:"group_id"`
	Name        string `json:"name"`
	MemberCount int    `json:"member_count"`
	InviteLink  string `json:"invite_link,omitempty"`
	Description string `json:"description,omitempty"`
}

// Contact is one deduplicated group member. Identifier is the resolved phone
// number, or the raw protocol id when resolution fails; Groups accumulates
// the names of every group the contact was seen in during one pass.
type Contact struct {
	Identifier  string   `json:"identifier"`
	DisplayName string   `json:"display_name,omitempty"`
	Groups      []string `json:"groups"`
}

// Service runs discovery passes against registered sessions.
type Service struct {
	registry    *sessions.Registry
	supervisor  *sessions.Supervisor
	settleDelay time.Duration
}

func NewService(registry *sessions.Registry, supervisor *sessions.Supervisor) *Service {
	return &Service{registry: registry, supervisor: supervisor, settleDelay: DefaultSettleDelay}
}

// SetSettleDelay overrides the pre-scan settle delay. Mainly for tests.
func (s *Service) SetSettleDelay(d time.Duration) {
	s.settleDelay = d
}

// ListGroups enumerates the session's groups. Member counts and invite
// links are best effort; a failure yields a zero count or an empty link,
// not an error. No ordering is guaranteed.
func (s *Service) ListGroups(ctx context.Context, tenantID string) ([]Group, error) {
	cli, err := s.handle(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	infos, err := cli.JoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("[ListGroups] enumerate groups for %q: %w", tenantID, err)
	}

	groups := make([]Group, 0, len(infos))
	for _, info := range infos {
		g := Group{
			ID:          info.ID,
			Name:        info.Name,
			MemberCount: info.MemberCount,
			Description: info.Description,
		}
		link, err := cli.GroupInviteLink(ctx, info.ID)
		if err != nil {
			// Typically the caller is not an admin of this group.
			log.Debug().Str("tenant_id", tenantID).Str("group_id", info.ID).Err(err).
				Msg("invite link unavailable")
		} else {
			g.InviteLink = link
		}
		groups = append(groups, g)
	}
	return groups, nil
}

// GroupContacts scans every group's membership and merges it into a
// deduplicated contact list. Individual group failures are logged and
// skipped; only a session with no client at all is a hard error. The
// forceRefresh flag is a caller signal to bypass any external cache; the
// scan itself is identical either way.
func (s *Service) GroupContacts(ctx context.Context, tenantID string, forceRefresh bool) ([]Contact, error) {
	cli, err := s.handle(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	log.Info().Str("tenant_id", tenantID).Bool("force_refresh", forceRefresh).
		Msg("starting contact discovery pass")

	// The discovery source is eventually consistent after a fresh
	// connection; give it a moment before scanning.
	if s.settleDelay > 0 {
		select {
		case <-time.After(s.settleDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	infos, err := cli.JoinedGroups(ctx)
	if err != nil {
		return nil, fmt.Errorf("[GroupContacts] enumerate groups for %q: %w", tenantID, err)
	}

	self := jidUser(cli.SelfID())
	byKey := make(map[string]*Contact)
	order := make([]string, 0)

	for _, info := range infos {
		participants, err := cli.GroupParticipants(ctx, info.ID)
		if err != nil {
			log.Warn().Str("tenant_id", tenantID).Str("group_id", info.ID).Err(err).
				Msg("skipping group, membership unavailable")
			continue
		}

		for _, p := range participants {
			if self != "" && jidUser(p.ID) == self {
				continue
			}
			key := contactKey(p)
			contact, ok := byKey[key]
			if !ok {
				byKey[key] = &Contact{
					Identifier:  key,
					DisplayName: p.Name,
					Groups:      []string{info.Name},
				}
				order = append(order, key)
				continue
			}
			if contact.DisplayName == "" {
				contact.DisplayName = p.Name
			}
			if !containsName(contact.Groups, info.Name) {
				contact.Groups = append(contact.Groups, info.Name)
			}
		}
	}

	contacts := make([]Contact, 0, len(order))
	for _, key := range order {
		contacts = append(contacts, *byKey[key])
	}
	return contacts, nil
}

// handle resolves the tenant's client, auto-initializing the session when it
// does not exist yet. It does not wait for pairing; callers needing a
// guaranteed-ready session poll the status service first.
func (s *Service) handle(ctx context.Context, tenantID string) (wa.Client, error) {
	if cli, ok := s.registry.Client(tenantID); ok {
		return cli, nil
	}
	cli, err := s.supervisor.InitializeSession(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", sessions.ErrNoSession, tenantID)
	}
	return cli, nil
}

// contactKey prefers a plausible phone number and falls back to the raw
// protocol id. The fallback may under-deduplicate a contact whose raw id is
// unstable across reconnects; approximate dedup is accepted.
func contactKey(p wa.Participant) string {
	if plausiblePhone(p.Phone) {
		return p.Phone
	}
	return p.ID
}

func plausiblePhone(phone string) bool {
	if len(phone) < minPhoneDigits {
		return false
	}
	for _, r := range phone {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// jidUser strips the server and device suffixes from a protocol id so the
// caller's own entry is recognized regardless of suffix form.
func jidUser(id string) string {
	if at := strings.IndexByte(id, '@'); at >= 0 {
		id = id[:at]
	}
	if colon := strings.IndexByte(id, ':'); colon >= 0 {
		id = id[:colon]
	}
	return id
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
