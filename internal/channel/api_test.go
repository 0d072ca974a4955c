package channel

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/postwave/postwave/internal/domain"
)

func captureServer(t *testing.T, status int, respBody string, headers map[string]string) (*httptest.Server, *http.Request, *[]byte) {
	t.Helper()
	var captured http.Request
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		body, _ = io.ReadAll(r.Body)
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(status)
		io.WriteString(w, respBody)
	}))
	t.Cleanup(srv.Close)
	return srv, &captured, &body
}

func testMessage() *domain.OutboundEmail {
	return &domain.OutboundEmail{
		AttemptID: 1,
		To:        "ana@acme.example",
		ToName:    "Ana",
		FromEmail: "no-reply@pw.example",
		FromName:  "Postwave",
		Subject:   "Hello",
		HTML:      "<p>Hi</p>",
	}
}

func TestSendGridRequestShape(t *testing.T) {
	srv, captured, body := captureServer(t, http.StatusAccepted, "", map[string]string{"X-Message-Id": "sg-123"})

	s := NewAPISender(domain.ChannelSendGrid, APISettings{APIKey: "key", BaseURL: srv.URL}, srv.Client())
	result, err := s.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !result.Success || result.MessageID != "sg-123" {
		t.Errorf("result = %+v", result)
	}
	if captured.URL.Path != "/v3/mail/send" {
		t.Errorf("path = %q", captured.URL.Path)
	}
	if auth := captured.Header.Get("Authorization"); auth != "Bearer key" {
		t.Errorf("auth = %q", auth)
	}

	var payload map[string]any
	if err := json.Unmarshal(*body, &payload); err != nil {
		t.Fatalf("payload not JSON: %v", err)
	}
	if payload["subject"] != "Hello" {
		t.Errorf("payload = %v", payload)
	}
}

func TestMailgunRequestShape(t *testing.T) {
	srv, captured, body := captureServer(t, http.StatusOK, `{"id":"<mg-1@pw>"}`, nil)

	s := NewAPISender(domain.ChannelMailgun, APISettings{APIKey: "key", Domain: "mg.pw.example", BaseURL: srv.URL}, srv.Client())
	result, err := s.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "<mg-1@pw>" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if captured.URL.Path != "/v3/mg.pw.example/messages" {
		t.Errorf("path = %q", captured.URL.Path)
	}
	user, pass, ok := captured.BasicAuth()
	if !ok || user != "api" || pass != "key" {
		t.Errorf("basic auth = %q/%q", user, pass)
	}
	if ct := captured.Header.Get("Content-Type"); ct != "application/x-www-form-urlencoded" {
		t.Errorf("content type = %q", ct)
	}
	if len(*body) == 0 {
		t.Error("empty form body")
	}
}

func TestBrevoUsesAPIKeyHeader(t *testing.T) {
	srv, captured, body := captureServer(t, http.StatusCreated, `{"messageId":"bv-7"}`, nil)

	s := NewAPISender(domain.ChannelBrevo, APISettings{APIKey: "key", BaseURL: srv.URL}, srv.Client())
	result, err := s.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if result.MessageID != "bv-7" {
		t.Errorf("message id = %q", result.MessageID)
	}
	if captured.URL.Path != "/v3/smtp/email" {
		t.Errorf("path = %q", captured.URL.Path)
	}
	if captured.Header.Get("api-key") != "key" {
		t.Error("api-key header missing")
	}
	if captured.Header.Get("Authorization") != "" {
		t.Error("brevo must not use Authorization header")
	}

	var payload map[string]any
	json.Unmarshal(*body, &payload)
	if payload["htmlContent"] != "<p>Hi</p>" {
		t.Errorf("payload = %v", payload)
	}
}

func TestAPIErrorIsRejectionNotTransportFailure(t *testing.T) {
	srv, _, _ := captureServer(t, http.StatusUnauthorized, `{"errors":["bad key"]}`, nil)

	s := NewAPISender(domain.ChannelSendGrid, APISettings{APIKey: "bad", BaseURL: srv.URL}, srv.Client())
	result, err := s.Send(context.Background(), testMessage())
	if err != nil {
		t.Fatalf("provider rejection must not be a transport error: %v", err)
	}
	if result.Success {
		t.Error("rejection reported as success")
	}
	if result.Error == "" {
		t.Error("rejection has no reason")
	}
}

func TestProbePaths(t *testing.T) {
	tests := []struct {
		kind     domain.ChannelKind
		settings APISettings
		wantPath string
	}{
		{domain.ChannelSendGrid, APISettings{APIKey: "k"}, "/v3/user/credits"},
		{domain.ChannelMailgun, APISettings{APIKey: "k", Domain: "mg.pw.example"}, "/v3/domains/mg.pw.example"},
		{domain.ChannelBrevo, APISettings{APIKey: "k"}, "/v3/account"},
	}
	for _, tt := range tests {
		srv, captured, _ := captureServer(t, http.StatusOK, "{}", nil)
		tt.settings.BaseURL = srv.URL
		s := NewAPISender(tt.kind, tt.settings, srv.Client())
		if err := s.Probe(context.Background()); err != nil {
			t.Errorf("%s probe: %v", tt.kind, err)
		}
		if captured.URL.Path != tt.wantPath {
			t.Errorf("%s probe path = %q, want %q", tt.kind, captured.URL.Path, tt.wantPath)
		}
	}
}

func TestFromIntegrationValidation(t *testing.T) {
	tests := []struct {
		name    string
		in      domain.Integration
		wantErr bool
	}{
		{
			name: "smtp ok",
			in:   domain.Integration{Kind: domain.ChannelSMTP, Settings: []byte(`{"host":"mx.example"}`)},
		},
		{
			name:    "smtp missing host",
			in:      domain.Integration{Kind: domain.ChannelSMTP, Settings: []byte(`{}`)},
			wantErr: true,
		},
		{
			name: "sendgrid ok",
			in:   domain.Integration{Kind: domain.ChannelSendGrid, Settings: []byte(`{"api_key":"k"}`)},
		},
		{
			name:    "mailgun missing domain",
			in:      domain.Integration{Kind: domain.ChannelMailgun, Settings: []byte(`{"api_key":"k"}`)},
			wantErr: true,
		},
		{
			name:    "unknown kind",
			in:      domain.Integration{Kind: "carrier-pigeon", Settings: []byte(`{}`)},
			wantErr: true,
		},
		{
			name:    "empty settings",
			in:      domain.Integration{Kind: domain.ChannelSendGrid},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := FromIntegration(tt.in, nil, SESSettings{})
			if tt.wantErr && err == nil {
				t.Error("expected error")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestSESSettingsFill(t *testing.T) {
	app := SESSettings{Region: "eu-west-1", AccessKey: "app-key", SecretKey: "app-secret"}

	tests := []struct {
		name string
		in   SESSettings
		want SESSettings
	}{
		{
			name: "all blank takes application settings",
			in:   SESSettings{},
			want: app,
		},
		{
			name: "own credentials kept",
			in:   SESSettings{AccessKey: "own", SecretKey: "own-secret"},
			want: SESSettings{Region: "eu-west-1", AccessKey: "own", SecretKey: "own-secret"},
		},
		{
			name: "own region kept",
			in:   SESSettings{Region: "sa-east-1"},
			want: SESSettings{Region: "sa-east-1", AccessKey: "app-key", SecretKey: "app-secret"},
		},
		{
			name: "half a key pair does not mix with the default pair",
			in:   SESSettings{AccessKey: "own"},
			want: SESSettings{Region: "eu-west-1", AccessKey: "own"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.fill(app); got != tt.want {
				t.Errorf("fill = %+v, want %+v", got, tt.want)
			}
		})
	}
}
