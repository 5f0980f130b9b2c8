package credential

import (
	"context"
	"errors"
	"strings"
)

var ErrMissingCredential = errors.New("missing credential")

// Store is a read-only view of provider credentials, keyed by credential
// key. Implementations return ErrMissingCredential when no usable value
// exists. Credentials must never be logged.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
}

// MapStore serves credentials from memory, e.g. process configuration or
// keys supplied with a single request.
type MapStore map[string]string

func (m MapStore) Get(_ context.Context, key string) (string, error) {
	v := strings.TrimSpace(m[key])
	if v == "" {
		return "", ErrMissingCredential
	}
	return v, nil
}

// Chain asks each store in turn and returns the first credential found.
type Chain []Store

func (c Chain) Get(ctx context.Context, key string) (string, error) {
	for _, s := range c {
		if s == nil {
			continue
		}
		v, err := s.Get(ctx, key)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, ErrMissingCredential) {
			return "", err
		}
	}
	return "", ErrMissingCredential
}

// Has reports whether key resolves to a credential. Lookup errors count as
// not configured.
func Has(ctx context.Context, s Store, key string) bool {
	_, err := s.Get(ctx, key)
	return err == nil
}
