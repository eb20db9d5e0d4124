// Package settings stores operator-editable runtime settings such as the
// webhook URL. Dispatch callers read the URL on every call.
package settings

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
)

// ErrInvalidURL is returned when a webhook URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("webhook url must be an absolute http or https url")

// Store reads and writes the webhook URL. An empty URL means "not configured".
type Store interface {
	WebhookURL(ctx context.Context) (string, error)
	SetWebhookURL(ctx context.Context, rawURL string) error
}

// MemoryStore keeps settings in process memory.
type MemoryStore struct {
	mu         sync.RWMutex
	webhookURL string
}

// NewMemoryStore seeds the store with an initial URL, which must be valid or empty.
func NewMemoryStore(initial string) (*MemoryStore, error) {
	normalized, err := ValidateWebhookURL(initial)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{webhookURL: normalized}, nil
}

// WebhookURL returns the current URL.
func (s *MemoryStore) WebhookURL(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.webhookURL, nil
}

// SetWebhookURL replaces the URL. An empty value clears it.
func (s *MemoryStore) SetWebhookURL(_ context.Context, rawURL string) error {
	normalized, err := ValidateWebhookURL(rawURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.webhookURL = normalized
	return nil
}

// ValidateWebhookURL trims rawURL and checks it is empty or an absolute http(s) URL.
func ValidateWebhookURL(rawURL string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	if trimmed == "" {
		return "", nil
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", ErrInvalidURL
	}
	return trimmed, nil
}
