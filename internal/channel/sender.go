// Package channel delivers rendered messages through configured
// integrations. The Registry tries integrations in priority order and
// is the only writer of delivery attempt outcomes.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/httpretry"
)

var (
	// ErrAllChannelsExhausted is returned when every active
	// integration failed for a message.
	ErrAllChannelsExhausted = errors.New("channel: all channels exhausted")
	// ErrBadSettings is returned when an integration's settings blob
	// cannot configure its adapter.
	ErrBadSettings = errors.New("channel: bad integration settings")
)

// Sender delivers one message through one provider. A nil error with
// Success=false is a provider-level rejection; a non-nil error is a
// transport failure. The Registry treats both as grounds for fallback.
type Sender interface {
	Send(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error)
}

// Prober is implemented by senders that can check connectivity and
// credentials without delivering mail.
type Prober interface {
	Probe(ctx context.Context) error
}

// SMTPSettings configures an SMTP integration.
type SMTPSettings struct {
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	InsecureTLS bool   `json:"insecure_tls"`
}

// APISettings configures an HTTP API integration (SendGrid, Mailgun,
// Brevo). Domain is only used by Mailgun.
type APISettings struct {
	APIKey  string `json:"api_key"`
	Domain  string `json:"domain"`
	BaseURL string `json:"base_url"`
}

// SESSettings configures an AWS SES integration. Blank keys fall back
// first to the application's SES config, then to the ambient AWS
// credential chain.
type SESSettings struct {
	Region    string `json:"region"`
	AccessKey string `json:"access_key"`
	SecretKey string `json:"secret_key"`
}

// fill layers defaults under s: a blank region or a fully blank key
// pair takes the default's value.
func (s SESSettings) fill(d SESSettings) SESSettings {
	if s.Region == "" {
		s.Region = d.Region
	}
	if s.AccessKey == "" && s.SecretKey == "" {
		s.AccessKey = d.AccessKey
		s.SecretKey = d.SecretKey
	}
	return s
}

// FromIntegration builds the adapter for an integration from its
// settings blob. ses supplies application-level defaults for SES
// integrations whose settings leave region or credentials blank.
func FromIntegration(in domain.Integration, httpClient httpretry.Doer, ses SESSettings) (Sender, error) {
	switch in.Kind {
	case domain.ChannelSMTP:
		var s SMTPSettings
		if err := decodeSettings(in, &s); err != nil {
			return nil, err
		}
		if s.Host == "" {
			return nil, fmt.Errorf("%w: smtp integration %d has no host", ErrBadSettings, in.ID)
		}
		return NewSMTPSender(s), nil

	case domain.ChannelSendGrid, domain.ChannelMailgun, domain.ChannelBrevo:
		var s APISettings
		if err := decodeSettings(in, &s); err != nil {
			return nil, err
		}
		if s.APIKey == "" {
			return nil, fmt.Errorf("%w: %s integration %d has no api key", ErrBadSettings, in.Kind, in.ID)
		}
		if in.Kind == domain.ChannelMailgun && s.Domain == "" {
			return nil, fmt.Errorf("%w: mailgun integration %d has no domain", ErrBadSettings, in.ID)
		}
		return NewAPISender(in.Kind, s, httpClient), nil

	case domain.ChannelSES:
		var s SESSettings
		if err := decodeSettings(in, &s); err != nil {
			return nil, err
		}
		return NewSESSender(s.fill(ses))

	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrBadSettings, in.Kind)
	}
}

func decodeSettings(in domain.Integration, dst any) error {
	if len(in.Settings) == 0 {
		return fmt.Errorf("%w: integration %d has no settings", ErrBadSettings, in.ID)
	}
	if err := json.Unmarshal(in.Settings, dst); err != nil {
		return fmt.Errorf("%w: integration %d: %v", ErrBadSettings, in.ID, err)
	}
	return nil
}
