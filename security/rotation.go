package security

import (
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-webhook-gateway/core"
)

// KeyRotationWindow gates when a signing secret is accepted.
type KeyRotationWindow struct {
	NotBefore time.Time
	NotAfter  time.Time
}

func (w KeyRotationWindow) Allows(at time.Time) bool {
	ts := at.UTC()
	if !w.NotBefore.IsZero() && ts.Before(w.NotBefore.UTC()) {
		return false
	}
	if !w.NotAfter.IsZero() && ts.After(w.NotAfter.UTC()) {
		return false
	}
	return true
}

type SigningSecret struct {
	Version string
	Value   string
	Window  KeyRotationWindow
}

// SecretRing holds the current webhook secret and any retired secrets that
// are still honoured while senders roll over.
type SecretRing struct {
	secrets []SigningSecret
}

func NewSecretRing(secrets ...SigningSecret) *SecretRing {
	ring := &SecretRing{}
	for _, secret := range secrets {
		if strings.TrimSpace(secret.Value) == "" {
			continue
		}
		ring.secrets = append(ring.secrets, secret)
	}
	return ring
}

// NewWebhookSecretRing builds the ring from webhook.secret and the optional
// webhook.previous_secret, which expires at webhook.previous_secret_expires_at.
func NewWebhookSecretRing(cfg core.WebhookConfig) (*SecretRing, error) {
	secrets := []SigningSecret{{Version: "current", Value: cfg.Secret}}
	if strings.TrimSpace(cfg.PreviousSecret) != "" {
		expiresAt, err := ParseRotationDeadline(cfg.PreviousSecretExpiresAt)
		if err != nil {
			return nil, err
		}
		secrets = append(secrets, SigningSecret{
			Version: "previous",
			Value:   cfg.PreviousSecret,
			Window:  KeyRotationWindow{NotAfter: expiresAt},
		})
	}
	return NewSecretRing(secrets...), nil
}

// ParseRotationDeadline accepts an RFC 3339 timestamp. An empty value means
// no deadline.
func ParseRotationDeadline(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("security: rotation deadline must be RFC 3339: %w", err)
	}
	return parsed.UTC(), nil
}

// ActiveSecrets returns the secret values accepted at the given instant,
// current secret first.
func (r *SecretRing) ActiveSecrets(at time.Time) []string {
	if r == nil {
		return nil
	}
	active := make([]string, 0, len(r.secrets))
	for _, secret := range r.secrets {
		if secret.Window.Allows(at) {
			active = append(active, secret.Value)
		}
	}
	return active
}

func (r *SecretRing) Len() int {
	if r == nil {
		return 0
	}
	return len(r.secrets)
}
