// Package token issues and validates the signed opaque tokens embedded
// in tracking pixel and click URLs.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/postwave/postwave/internal/domain"
)

// Claims is the payload carried by a tracking token.
type Claims struct {
	AttemptID int64
	ContactID int64
	Event     domain.EventType
	IssuedOn  time.Time
}

// Service signs token payloads with HMAC-SHA256. Tokens do not expire;
// an open or click long after the send is still a valid event.
type Service struct {
	secret []byte
	now    func() time.Time
}

// New creates a Service with the given signing secret.
func New(secret string) *Service {
	return &Service{secret: []byte(secret), now: time.Now}
}

// Issue builds a token binding an attempt, a contact, and an event
// type. The payload is attempt:contact:event:YYYYMMDD with the
// signature appended, the whole URL-safe base64 encoded.
func (s *Service) Issue(attemptID, contactID int64, event domain.EventType) string {
	payload := fmt.Sprintf("%d:%d:%s:%s", attemptID, contactID, event, s.now().UTC().Format("20060102"))
	signed := payload + ":" + s.sign(payload)
	return base64.URLEncoding.EncodeToString([]byte(signed))
}

// Validate decodes and verifies a token. Any malformed, truncated, or
// tampered token yields ok=false; no failure reason is exposed.
func (s *Service) Validate(tok string) (Claims, bool) {
	raw, err := base64.URLEncoding.DecodeString(tok)
	if err != nil {
		return Claims{}, false
	}

	signed := string(raw)
	idx := strings.LastIndex(signed, ":")
	if idx < 0 {
		return Claims{}, false
	}
	payload, sig := signed[:idx], signed[idx+1:]

	if !hmac.Equal([]byte(sig), []byte(s.sign(payload))) {
		return Claims{}, false
	}

	parts := strings.Split(payload, ":")
	if len(parts) != 4 {
		return Claims{}, false
	}
	attemptID, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return Claims{}, false
	}
	contactID, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return Claims{}, false
	}
	event := domain.EventType(parts[2])
	if !event.Valid() {
		return Claims{}, false
	}
	issued, err := time.ParseInLocation("20060102", parts[3], time.UTC)
	if err != nil {
		return Claims{}, false
	}

	return Claims{
		AttemptID: attemptID,
		ContactID: contactID,
		Event:     event,
		IssuedOn:  issued,
	}, true
}

func (s *Service) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
