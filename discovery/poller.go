package discovery

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// PollPolicy is the documented client-side retry contract for discovery:
// repeat GroupContacts with exponential backoff until a non-empty result
// appears or the attempts run out.
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     uint64
}

// DefaultPollPolicy matches what UI callers use after triggering a pairing.
var DefaultPollPolicy = PollPolicy{
	InitialInterval: 2 * time.Second,
	MaxInterval:     30 * time.Second,
	MaxAttempts:     8,
}

var errNoContactsYet = errors.New("discovery still settling")

// PollContacts runs discovery passes under the policy. Once the attempts
// are exhausted it returns the (empty) last result rather than an error;
// session-level failures abort immediately.
func (s *Service) PollContacts(ctx context.Context, tenantID string, policy PollPolicy) ([]Contact, error) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = policy.InitialInterval
	bo.MaxInterval = policy.MaxInterval
	bo.MaxElapsedTime = 0

	var contacts []Contact
	attempt := func() error {
		found, err := s.GroupContacts(ctx, tenantID, false)
		if err != nil {
			return backoff.Permanent(err)
		}
		if len(found) == 0 {
			return errNoContactsYet
		}
		contacts = found
		return nil
	}

	err := backoff.Retry(attempt, backoff.WithMaxRetries(backoff.WithContext(bo, ctx), policy.MaxAttempts))
	if errors.Is(err, errNoContactsYet) {
		// Attempts exhausted; the caller accepts an empty result rather
		// than retrying indefinitely.
		return []Contact{}, nil
	}
	if err != nil {
		return nil, err
	}
	return contacts, nil
}
