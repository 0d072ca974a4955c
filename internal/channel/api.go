package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/postwave/postwave/internal/domain"
	"github.com/postwave/postwave/internal/pkg/httpretry"
	"github.com/postwave/postwave/internal/pkg/logger"
)

// APISender delivers mail through an HTTP provider API. One type covers
// SendGrid, Mailgun, and Brevo; the provider branch picks the payload
// shape and auth scheme.
type APISender struct {
	kind     domain.ChannelKind
	settings APISettings
	client   httpretry.Doer
	now      func() time.Time
}

// NewAPISender creates an API sender for the given provider kind.
func NewAPISender(kind domain.ChannelKind, s APISettings, client httpretry.Doer) *APISender {
	if s.BaseURL == "" {
		switch kind {
		case domain.ChannelSendGrid:
			s.BaseURL = "https://api.sendgrid.com"
		case domain.ChannelMailgun:
			s.BaseURL = "https://api.mailgun.net"
		case domain.ChannelBrevo:
			s.BaseURL = "https://api.brevo.com"
		}
	}
	s.BaseURL = strings.TrimRight(s.BaseURL, "/")
	if client == nil {
		client = httpretry.New(nil, 3)
	}
	return &APISender{kind: kind, settings: s, client: client, now: time.Now}
}

// Send delivers one message through the provider API.
func (s *APISender) Send(ctx context.Context, msg *domain.OutboundEmail) (*domain.SendResult, error) {
	req, err := s.buildRequest(ctx, msg)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s send: %w", s.kind, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	if resp.StatusCode >= 400 {
		return &domain.SendResult{
			Success: false,
			Channel: s.kind,
			Error:   fmt.Sprintf("%s error %d: %s", s.kind, resp.StatusCode, body),
		}, nil
	}

	messageID := s.messageID(resp, body)
	logger.Debug("api delivered", "channel", string(s.kind), "to", msg.To, "message_id", messageID)
	return &domain.SendResult{
		Success:   true,
		MessageID: messageID,
		Channel:   s.kind,
		SentAt:    s.now(),
	}, nil
}

// Probe calls a cheap authenticated endpoint to verify credentials.
func (s *APISender) Probe(ctx context.Context) error {
	var path string
	switch s.kind {
	case domain.ChannelSendGrid:
		path = "/v3/user/credits"
	case domain.ChannelMailgun:
		path = "/v3/domains/" + s.settings.Domain
	case domain.ChannelBrevo:
		path = "/v3/account"
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.settings.BaseURL+path, nil)
	if err != nil {
		return err
	}
	s.authorize(req)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s probe: %w", s.kind, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s probe: status %d", s.kind, resp.StatusCode)
	}
	return nil
}

func (s *APISender) buildRequest(ctx context.Context, msg *domain.OutboundEmail) (*http.Request, error) {
	var req *http.Request
	var err error

	switch s.kind {
	case domain.ChannelSendGrid:
		payload := map[string]any{
			"personalizations": []map[string]any{
				{"to": []map[string]string{{"email": msg.To, "name": msg.ToName}}},
			},
			"from":    map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"subject": msg.Subject,
			"content": sendgridContent(msg),
		}
		if msg.ReplyTo != "" {
			payload["reply_to"] = map[string]string{"email": msg.ReplyTo}
		}
		if len(msg.Headers) > 0 {
			payload["headers"] = msg.Headers
		}
		req, err = jsonRequest(ctx, s.settings.BaseURL+"/v3/mail/send", payload)

	case domain.ChannelMailgun:
		form := url.Values{}
		form.Set("from", fmt.Sprintf("%s <%s>", msg.FromName, msg.FromEmail))
		form.Set("to", msg.To)
		form.Set("subject", msg.Subject)
		form.Set("html", msg.HTML)
		if msg.Text != "" {
			form.Set("text", msg.Text)
		}
		if msg.ReplyTo != "" {
			form.Set("h:Reply-To", msg.ReplyTo)
		}
		for k, v := range msg.Headers {
			form.Set("h:"+k, v)
		}
		endpoint := fmt.Sprintf("%s/v3/%s/messages", s.settings.BaseURL, s.settings.Domain)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, endpoint,
			strings.NewReader(form.Encode()))
		if req != nil {
			req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		}

	case domain.ChannelBrevo:
		payload := map[string]any{
			"sender":      map[string]string{"email": msg.FromEmail, "name": msg.FromName},
			"to":          []map[string]string{{"email": msg.To, "name": msg.ToName}},
			"subject":     msg.Subject,
			"htmlContent": msg.HTML,
		}
		if msg.Text != "" {
			payload["textContent"] = msg.Text
		}
		if msg.ReplyTo != "" {
			payload["replyTo"] = map[string]string{"email": msg.ReplyTo}
		}
		if len(msg.Headers) > 0 {
			payload["headers"] = msg.Headers
		}
		req, err = jsonRequest(ctx, s.settings.BaseURL+"/v3/smtp/email", payload)

	default:
		return nil, fmt.Errorf("%w: kind %q is not an API channel", ErrBadSettings, s.kind)
	}
	if err != nil {
		return nil, err
	}

	s.authorize(req)
	return req, nil
}

// authorize sets the provider's auth header. Brevo uses a bare api-key
// header where the others use standard schemes.
func (s *APISender) authorize(req *http.Request) {
	switch s.kind {
	case domain.ChannelSendGrid:
		req.Header.Set("Authorization", "Bearer "+s.settings.APIKey)
	case domain.ChannelMailgun:
		req.SetBasicAuth("api", s.settings.APIKey)
	case domain.ChannelBrevo:
		req.Header.Set("api-key", s.settings.APIKey)
	}
}

func (s *APISender) messageID(resp *http.Response, body []byte) string {
	switch s.kind {
	case domain.ChannelSendGrid:
		if id := resp.Header.Get("X-Message-Id"); id != "" {
			return id
		}
	case domain.ChannelMailgun:
		var out struct {
			ID string `json:"id"`
		}
		if json.Unmarshal(body, &out) == nil && out.ID != "" {
			return out.ID
		}
	case domain.ChannelBrevo:
		var out struct {
			MessageID string `json:"messageId"`
		}
		if json.Unmarshal(body, &out) == nil && out.MessageID != "" {
			return out.MessageID
		}
	}
	return uuid.New().String()
}

func sendgridContent(msg *domain.OutboundEmail) []map[string]string {
	if msg.Text != "" {
		return []map[string]string{
			{"type": "text/plain", "value": msg.Text},
			{"type": "text/html", "value": msg.HTML},
		}
	}
	return []map[string]string{{"type": "text/html", "value": msg.HTML}}
}

func jsonRequest(ctx context.Context, endpoint string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBuffer(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}
