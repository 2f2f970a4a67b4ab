package webhooks

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
	"github.com/goliatone/go-webhook-gateway/security"
)

const (
	EncodingHex    = "hex"
	EncodingBase64 = "base64"
)

var errSignatureMismatch = errors.New("webhooks: signature verification failed")

// Sign returns the hex HMAC-SHA256 of body under secret, the value a sender
// puts in the signature header.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify reports whether signature is the hex HMAC-SHA256 of the exact body
// bytes under secret. It fails closed on a missing secret, a missing or
// undecodable signature, and any mismatch.
func Verify(body []byte, signature string, secret string) bool {
	return verifyEncoded(body, signature, secret, EncodingHex) == nil
}

func verifyEncoded(body []byte, signature string, secret string, encoding string) error {
	if secret == "" {
		return errors.New("webhooks: signature secret is not configured")
	}
	signature = strings.TrimSpace(signature)
	if signature == "" {
		return errors.New("webhooks: signature value is required")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(body)
	expected := mac.Sum(nil)

	var (
		decoded []byte
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case EncodingBase64:
		decoded, err = base64.StdEncoding.DecodeString(signature)
	default:
		decoded, err = hex.DecodeString(strings.ToLower(signature))
	}
	if err != nil {
		return fmt.Errorf("webhooks: decode signature: %w", err)
	}
	if subtle.ConstantTimeCompare(decoded, expected) != 1 {
		return errSignatureMismatch
	}
	return nil
}

// SecretSource yields the secrets accepted at a given instant.
type SecretSource interface {
	ActiveSecrets(at time.Time) []string
}

// HMACVerifier checks the configured signature header against the raw body
// and, when ReplayWindow is set, the payload webhookTimestamp. When Secrets
// is set it replaces Secret and any active secret may match.
type HMACVerifier struct {
	Header       string
	Prefix       string
	Secret       string
	Secrets      SecretSource
	Encoding     string
	ReplayWindow time.Duration
	Now          core.Clock
}

func NewHMACVerifier(cfg core.WebhookConfig) HMACVerifier {
	verifier := HMACVerifier{
		Header:       cfg.SignatureHeader,
		Prefix:       cfg.SignaturePrefix,
		Secret:       cfg.Secret,
		Encoding:     EncodingHex,
		ReplayWindow: cfg.ReplayWindow,
		Now:          core.SystemClock,
	}
	if strings.TrimSpace(cfg.PreviousSecret) != "" {
		// Validate rejects a malformed deadline before this point.
		if ring, err := security.NewWebhookSecretRing(cfg); err == nil {
			verifier.Secrets = ring
		}
	}
	return verifier
}

func (v HMACVerifier) Verify(_ context.Context, req core.InboundRequest) error {
	headerName := strings.TrimSpace(v.Header)
	metadata := map[string]any{"header": headerName}
	header := headerValue(req.Headers, headerName)
	if header == "" {
		return core.Unauthorized(fmt.Errorf("webhooks: %s signature header is required", headerName), metadata)
	}
	signature := strings.TrimSpace(strings.TrimPrefix(header, strings.TrimSpace(v.Prefix)))
	if err := v.verifySignature(req.Body, signature); err != nil {
		return core.Unauthorized(err, metadata)
	}
	if v.ReplayWindow > 0 {
		if err := v.checkReplayWindow(req.Body); err != nil {
			return core.Unauthorized(err, metadata)
		}
	}
	return nil
}

func (v HMACVerifier) verifySignature(body []byte, signature string) error {
	if v.Secrets == nil {
		return verifyEncoded(body, signature, v.Secret, v.Encoding)
	}
	secrets := v.Secrets.ActiveSecrets(v.now())
	if len(secrets) == 0 {
		return errors.New("webhooks: no signature secret is active")
	}
	var err error
	for _, secret := range secrets {
		if err = verifyEncoded(body, signature, secret, v.Encoding); err == nil {
			return nil
		}
	}
	return err
}

func (v HMACVerifier) now() time.Time {
	if v.Now != nil {
		return v.Now().UTC()
	}
	return time.Now().UTC()
}

type timestampProbe struct {
	WebhookTimestamp int64 `json:"webhookTimestamp"`
}

func (v HMACVerifier) checkReplayWindow(body []byte) error {
	var probe timestampProbe
	if err := json.Unmarshal(body, &probe); err != nil || probe.WebhookTimestamp <= 0 {
		return errors.New("webhooks: webhookTimestamp is required inside the replay window")
	}
	now := v.now()
	sentAt := time.UnixMilli(probe.WebhookTimestamp).UTC()
	skew := now.Sub(sentAt)
	if skew < 0 {
		skew = -skew
	}
	if skew > v.ReplayWindow {
		return fmt.Errorf("webhooks: webhookTimestamp outside replay window (%s)", skew.Truncate(time.Second))
	}
	return nil
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), key) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}
