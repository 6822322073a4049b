// Package kv holds per-session state behind a small key-value interface.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	ErrNotFound  = errors.New("kv: key not found")
	ErrMalformed = errors.New("kv: malformed value")
)

type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

type prefixed struct {
	next   Store
	prefix string
}

// Prefixed scopes every key of next under prefix.
func Prefixed(next Store, prefix string) Store {
	return &prefixed{next: next, prefix: prefix}
}

// SessionKeys returns the view of s used by one browser session.
func SessionKeys(s Store, sessionID string) Store {
	return Prefixed(s, "session:"+sessionID+":")
}

func (p *prefixed) Get(ctx context.Context, key string) ([]byte, error) {
	return p.next.Get(ctx, p.prefix+key)
}

func (p *prefixed) Set(ctx context.Context, key string, value []byte) error {
	return p.next.Set(ctx, p.prefix+key, value)
}

func (p *prefixed) Delete(ctx context.Context, key string) error {
	return p.next.Delete(ctx, p.prefix+key)
}

// GetJSON decodes the value at key into v. A value that does not decode is
// reported as ErrMalformed.
func GetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, key, err)
	}
	return nil
}

func SetJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}
