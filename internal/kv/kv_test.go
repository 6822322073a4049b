package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func exerciseStore(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	_, err := s.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Set(ctx, "cart", []byte(`[1]`)))
	got, err := s.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))

	require.NoError(t, s.Set(ctx, "cart", []byte(`[2]`)))
	got, err = s.Get(ctx, "cart")
	require.NoError(t, err)
	assert.Equal(t, `[2]`, string(got))

	require.NoError(t, s.Delete(ctx, "cart"))
	_, err = s.Get(ctx, "cart")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(ctx, "never-set"))
}

func TestMemory(t *testing.T) {
	exerciseStore(t, NewMemory())
}

func TestMemoryCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'

	got, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "abc", string(got))
}

func TestSessionKeysIsolatesSessions(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	a := SessionKeys(m, "a")
	b := SessionKeys(m, "b")
	exerciseStore(t, a)

	require.NoError(t, a.Set(ctx, "cart", []byte("A")))
	_, err := b.Get(ctx, "cart")
	assert.ErrorIs(t, err, ErrNotFound)

	raw, err := m.Get(ctx, "session:a:cart")
	require.NoError(t, err)
	assert.Equal(t, "A", string(raw))
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	type payload struct {
		Step int `json:"step"`
	}

	require.NoError(t, SetJSON(ctx, m, "state", payload{Step: 2}))
	var p payload
	require.NoError(t, GetJSON(ctx, m, "state", &p))
	assert.Equal(t, 2, p.Step)

	require.NoError(t, m.Set(ctx, "state", []byte("{not json")))
	err := GetJSON(ctx, m, "state", &p)
	assert.True(t, errors.Is(err, ErrMalformed), "got %v", err)

	err = GetJSON(ctx, m, "absent", &p)
	assert.ErrorIs(t, err, ErrNotFound)
}
