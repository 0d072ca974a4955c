package channel

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/httpretry"
	"github.com/postwave/postwave/internal/pkg/logger"
)

// IntegrationStore lists configured integrations.
type IntegrationStore interface {
	ActiveIntegrations(ctx context.Context) ([]domain.Integration, error)
	GetIntegration(ctx context.Context, id int64) (*domain.Integration, error)
}

// AttemptStore records delivery attempt outcomes.
type AttemptStore interface {
	MarkAttemptSent(ctx context.Context, id int64, channel domain.ChannelKind, messageID string, now time.Time) error
	MarkAttemptError(ctx context.Context, id int64, reason string) error
}

// Registry resolves active integrations into senders and walks them in
// priority order until one accepts the message. It is the sole writer
// of attempt outcomes; the dispatcher only creates pending rows.
type Registry struct {
	integrations IntegrationStore
	attempts     AttemptStore
	httpClient   httpretry.Doer
	sendTimeout  time.Duration
	sesDefaults  SESSettings
	now          func() time.Time

	// build is swapped by tests to inject fake senders.
	build func(domain.Integration, httpretry.Doer) (Sender, error)
}

// NewRegistry creates a Registry. sendTimeout bounds each individual
// channel try.
func NewRegistry(integrations IntegrationStore, attempts AttemptStore, httpClient httpretry.Doer, sendTimeout time.Duration) *Registry {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	r := &Registry{
		integrations: integrations,
		attempts:     attempts,
		httpClient:   httpClient,
		sendTimeout:  sendTimeout,
		now:          time.Now,
	}
	r.build = func(in domain.Integration, c httpretry.Doer) (Sender, error) {
		return FromIntegration(in, c, r.sesDefaults)
	}
	return r
}

// SetSESDefaults supplies application-level SES settings used when an
// SES integration's own settings leave region or credentials blank.
func (r *Registry) SetSESDefaults(s SESSettings) { r.sesDefaults = s }

// Dispatch tries every active integration for msg, highest priority
// first, stopping at the first success. The attempt row identified by
// msg.AttemptID is marked sent or error accordingly; on exhaustion the
// error wraps ErrAllChannelsExhausted.
func (r *Registry) Dispatch(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
	integrations, err := r.integrations.ActiveIntegrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("load integrations: %w", err)
	}

	var failures []string
	for _, in := range integrations {
		msgOut := *msg
		if msgOut.FromEmail == "" {
			msgOut.FromEmail = in.FromEmail
			msgOut.FromName = in.FromName
		}

		sender, err := r.build(in, r.httpClient)
		if err != nil {
			logger.Warn("integration skipped", "integration", in.Name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", in.Name, err))
			continue
		}

		tryCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
		result, err := sender.Send(tryCtx, &msgOut)
		cancel()

		if err != nil {
			logger.Warn("channel transport failure", "integration", in.Name, "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", in.Name, err))
			continue
		}
		if !result.Success {
			logger.Warn("channel rejected message", "integration", in.Name, "reason", result.Error)
			failures = append(failures, fmt.Sprintf("%s: %s", in.Name, result.Error))
			continue
		}

		if err := r.attempts.MarkAttemptSent(ctx, msg.AttemptID, result.Channel, result.MessageID, r.now()); err != nil {
			return nil, fmt.Errorf("record sent outcome: %w", err)
		}
		return result, nil
	}

	reason := "no active integrations"
	if len(failures) > 0 {
		reason = strings.Join(failures, "; ")
	}
	if err := r.attempts.MarkAttemptError(ctx, msg.AttemptID, reason); err != nil {
		return nil, fmt.Errorf("record error outcome: %w", err)
	}
	return nil, fmt.Errorf("%w: %s", ErrAllChannelsExhausted, reason)
}

// Test probes one integration's connectivity without sending mail.
func (r *Registry) Test(ctx context.Context, integrationID int64) error {
	in, err := r.integrations.GetIntegration(ctx, integrationID)
	if err != nil {
		return err
	}

	sender, err := r.build(*in, r.httpClient)
	if err != nil {
		return err
	}
	prober, ok := sender.(Prober)
	if !ok {
		return fmt.Errorf("channel %s has no probe", in.Kind)
	}

	probeCtx, cancel := context.WithTimeout(ctx, r.sendTimeout)
	defer cancel()
	return prober.Probe(probeCtx)
}
