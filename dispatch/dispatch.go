// Package dispatch sends text, image and file messages through a tenant's
// session. Several underlying send primitives overlap in capability and
// reliability, so media dispatch walks an ordered fallback chain and keeps
// the first success.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vendio/wasession/sessions"
	"github.com/vendio/wasession/wa"
)

// Result is the structured outcome of one dispatch. A failed dispatch is
// reported here rather than raised: Error carries the last fallback's
// failure once every primitive has been tried.
type Result struct {
	Sent      bool   `json:"sent"`
	MessageID string `json:"message_id,omitempty"`
	Primitive string `json:"primitive,omitempty"`
	Error     string `json:"error,omitempty"`
}

// MessageResult reports the independent text and image outcomes of one
// SendMessage call.
type MessageResult struct {
	Text  *Result `json:"text_result,omitempty"`
	Image *Result `json:"image_result,omitempty"`
}

// primitive is one underlying send call in a fallback chain.
type primitive struct {
	name string
	send func(ctx context.Context) (wa.SendReceipt, error)
}

// Service dispatches against sessions resolved from the shared registry.
type Service struct {
	registry *sessions.Registry
}

func NewService(registry *sessions.Registry) *Service {
	return &Service{registry: registry}
}

// SendMessage dispatches text and/or an image to a destination. The two are
// independent operations: an image failure does not undo or mask a text
// success. At least one of text and imageURL must be non-empty.
func (s *Service) SendMessage(ctx context.Context, tenantID, destination, text, imageURL string) (*MessageResult, error) {
	if text == "" && imageURL == "" {
		return nil, fmt.Errorf("[SendMessage] nothing to send for %q", tenantID)
	}
	cli, ok := s.registry.Client(tenantID)
	if !ok {
		return nil, fmt.Errorf("[SendMessage] %w: %q", sessions.ErrNoSession, tenantID)
	}

	dispatchID := uuid.NewString()
	log.Info().Str("tenant_id", tenantID).Str("dispatch_id", dispatchID).
		Str("destination_kind", destinationKind(destination)).
		Bool("has_text", text != "").Bool("has_image", imageURL != "").
		Msg("dispatching message")

	result := &MessageResult{}
	if text != "" {
		r := trySend(ctx, dispatchID, []primitive{{
			name: "text",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendText(ctx, destination, text)
			},
		}})
		result.Text = &r
	}
	if imageURL != "" {
		r := trySend(ctx, dispatchID, imageChain(cli, destination, imageURL, text))
		result.Image = &r
	}
	return result, nil
}

// SendFileMessage dispatches a generic file with caller-supplied options,
// using the same fallback strategy as image dispatch.
func (s *Service) SendFileMessage(ctx context.Context, tenantID, destination, fileURL string, opts wa.FileOptions) (Result, error) {
	cli, ok := s.registry.Client(tenantID)
	if !ok {
		return Result{}, fmt.Errorf("[SendFileMessage] %w: %q", sessions.ErrNoSession, tenantID)
	}

	dispatchID := uuid.NewString()
	log.Info().Str("tenant_id", tenantID).Str("dispatch_id", dispatchID).
		Str("destination_kind", destinationKind(destination)).
		Msg("dispatching file message")

	return trySend(ctx, dispatchID, []primitive{
		{
			name: "file",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendFile(ctx, destination, fileURL, opts)
			},
		},
		{
			name: "media",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendMedia(ctx, destination, fileURL, opts.Caption)
			},
		},
	}), nil
}

// imageChain is the ordered image fallback: the dedicated image primitive,
// then the generic file primitive, then the coarse media primitive.
func imageChain(cli wa.Client, destination, imageURL, caption string) []primitive {
	return []primitive{
		{
			name: "image",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendImage(ctx, destination, imageURL, caption)
			},
		},
		{
			name: "file",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendFile(ctx, destination, imageURL, wa.FileOptions{Caption: caption})
			},
		},
		{
			name: "media",
			send: func(ctx context.Context) (wa.SendReceipt, error) {
				return cli.SendMedia(ctx, destination, imageURL, caption)
			},
		},
	}
}

// trySend walks the chain in order and returns on the first primitive that
// does not fail. Primitive panics count as failures. When every primitive
// fails the result carries the last error.
func trySend(ctx context.Context, dispatchID string, chain []primitive) Result {
	var lastErr error
	for _, prim := range chain {
		receipt, err := attempt(ctx, prim)
		if err == nil {
			return Result{Sent: true, MessageID: receipt.MessageID, Primitive: prim.name}
		}
		log.Warn().Str("dispatch_id", dispatchID).Str("primitive", prim.name).Err(err).
			Msg("send primitive failed, trying next")
		lastErr = err
	}
	return Result{Error: lastErr.Error()}
}

func attempt(ctx context.Context, prim primitive) (receipt wa.SendReceipt, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s primitive panicked: %v", prim.name, r)
		}
	}()
	return prim.send(ctx)
}

// destinationKind classifies a destination by its suffix for logging only;
// dispatch behavior does not branch on it.
func destinationKind(destination string) string {
	if strings.HasSuffix(destination, "@g.us") {
		return "group"
	}
	return "individual"
}
