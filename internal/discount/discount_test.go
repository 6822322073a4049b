package discount

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/safar/storefront/internal/models"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows  []models.Discount
	err   error
	calls [][]string
}

func (f *fakeSource) ActiveDiscounts(_ context.Context, ids []string, _ time.Time) ([]models.Discount, error) {
	f.calls = append(f.calls, ids)
	if f.err != nil {
		return nil, f.err
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	var out []models.Discount
	for _, d := range f.rows {
		if want[d.ProductID] {
			out = append(out, d)
		}
	}
	return out, nil
}

var fixedNow = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func newResolver(t *testing.T, src Source) *Resolver {
	t.Helper()
	r, err := NewResolver(ResolverDeps{Source: src, Now: func() time.Time { return fixedNow }})
	require.NoError(t, err)
	return r
}

func pct(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func at(d time.Duration) *time.Time {
	t := fixedNow.Add(d)
	return &t
}

func TestCalculateDiscountedPrice(t *testing.T) {
	cases := []struct {
		base, percent, want string
	}{
		{"100", "25", "75"},
		{"100", "0", "100"},
		{"100", "150", "100"},
		{"100", "-10", "100"},
		{"100", "100", "0"},
		{"39.900", "10", "35.91"},
	}

	for _, tc := range cases {
		t.Run(tc.base+"@"+tc.percent, func(t *testing.T) {
			got := CalculateDiscountedPrice(decimal.RequireFromString(tc.base), decimal.RequireFromString(tc.percent))
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

func TestIsValid(t *testing.T) {
	cases := []struct {
		name string
		d    models.Discount
		want bool
	}{
		{"open window", models.Discount{Active: true}, true},
		{"inactive", models.Discount{Active: false}, false},
		{"not started", models.Discount{Active: true, StartsAt: at(time.Minute)}, false},
		{"starts now", models.Discount{Active: true, StartsAt: at(0)}, true},
		{"ended", models.Discount{Active: true, EndsAt: at(-time.Second)}, false},
		{"ends now", models.Discount{Active: true, EndsAt: at(0)}, true},
		{"inside window", models.Discount{Active: true, StartsAt: at(-time.Hour), EndsAt: at(time.Hour)}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsValid(tc.d, fixedNow))
		})
	}
}

func TestInactiveDiscountIsIgnored(t *testing.T) {
	src := &fakeSource{rows: []models.Discount{
		{ID: "off", ProductID: "p1", DiscountPercent: pct(50), Active: false, CreatedAt: fixedNow},
		{ID: "on", ProductID: "p1", DiscountPercent: pct(10), Active: true, CreatedAt: fixedNow.Add(-time.Hour)},
	}}

	d, err := newResolver(t, src).ActiveProductDiscount(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "on", d.ID)
}

func TestLatestCreatedAtWins(t *testing.T) {
	src := &fakeSource{rows: []models.Discount{
		{ID: "newer", ProductID: "p1", DiscountPercent: pct(20), Active: true, CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: "older", ProductID: "p1", DiscountPercent: pct(30), Active: true, CreatedAt: fixedNow.Add(-48 * time.Hour)},
	}}

	d, err := newResolver(t, src).ActiveProductDiscount(context.Background(), "p1")
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "newer", d.ID)
}

func TestNoDiscountReturnsNil(t *testing.T) {
	d, err := newResolver(t, &fakeSource{}).ActiveProductDiscount(context.Background(), "p1")
	require.NoError(t, err)
	assert.Nil(t, d)
}

func TestBatchMatchesSingleLookups(t *testing.T) {
	src := &fakeSource{rows: []models.Discount{
		{ID: "a1", ProductID: "a", DiscountPercent: pct(10), Active: true, CreatedAt: fixedNow.Add(-3 * time.Hour)},
		{ID: "a2", ProductID: "a", DiscountPercent: pct(15), Active: true, CreatedAt: fixedNow.Add(-2 * time.Hour)},
		{ID: "b1", ProductID: "b", DiscountPercent: pct(40), Active: false, CreatedAt: fixedNow},
		{ID: "c1", ProductID: "c", DiscountPercent: pct(5), Active: true, StartsAt: at(time.Hour), CreatedAt: fixedNow},
		{ID: "c2", ProductID: "c", DiscountPercent: pct(7), Active: true, EndsAt: at(time.Hour), CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: "e1", ProductID: "e", DiscountPercent: pct(12), Active: true, EndsAt: at(-time.Hour), CreatedAt: fixedNow.Add(-time.Hour)},
	}}
	r := newResolver(t, src)
	ctx := context.Background()
	ids := []string{"a", "b", "c", "d", "e"}

	batch, err := r.ActiveProductDiscounts(ctx, ids)
	require.NoError(t, err)
	require.Len(t, src.calls, 1, "batch must use a single round trip")

	for _, id := range ids {
		single, err := r.ActiveProductDiscount(ctx, id)
		require.NoError(t, err)

		got, ok := batch[id]
		if single == nil {
			assert.False(t, ok, "product %s", id)
			continue
		}
		require.True(t, ok, "product %s", id)
		assert.Equal(t, single.ID, got.ID)
	}

	assert.Equal(t, "a2", batch["a"].ID)
	assert.Equal(t, "c2", batch["c"].ID)
}

func TestBatchEmptyInputSkipsSource(t *testing.T) {
	src := &fakeSource{}
	got, err := newResolver(t, src).ActiveProductDiscounts(context.Background(), []string{"", ""})
	require.NoError(t, err)
	assert.Empty(t, got)
	assert.Empty(t, src.calls)
}

func TestBatchDedupesIDs(t *testing.T) {
	src := &fakeSource{}
	_, err := newResolver(t, src).ActiveProductDiscounts(context.Background(), []string{"a", "b", "a"})
	require.NoError(t, err)
	require.Len(t, src.calls, 1)
	assert.Equal(t, []string{"a", "b"}, src.calls[0])
}

func TestSourceErrorIsWrapped(t *testing.T) {
	boom := errors.New("connection reset")
	_, err := newResolver(t, &fakeSource{err: boom}).ActiveProductDiscounts(context.Background(), []string{"a"})
	assert.ErrorIs(t, err, boom)
}

func TestNewResolverRequiresSource(t *testing.T) {
	_, err := NewResolver(ResolverDeps{})
	assert.Error(t, err)
}
