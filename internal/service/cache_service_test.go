package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/noah-isme/studyplan-api/internal/models"
	appErrors "github.com/noah-isme/studyplan-api/pkg/errors"
)

type memoryCacheRepo struct {
	items    map[string][]byte
	ttls     map[string]time.Duration
	getErr   error
	patterns []string
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{items: map[string][]byte{}, ttls: map[string]time.Duration{}}
}

func (m *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	if m.getErr != nil {
		return m.getErr
	}
	raw, ok := m.items[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.items[key] = raw
	m.ttls[key] = ttl
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(ctx context.Context, pattern string) (int, error) {
	m.patterns = append(m.patterns, pattern)
	prefix := strings.TrimSuffix(pattern, "*")
	n := 0
	for key := range m.items {
		if strings.HasPrefix(key, prefix) {
			delete(m.items, key)
			n++
		}
	}
	return n, nil
}

func TestCacheServiceRoundTrip(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, NewMetricsService(), time.Minute, zap.NewNop(), true)

	var out map[string]int
	assert.False(t, svc.Get(context.Background(), "k", &out))

	svc.Set(context.Background(), "k", map[string]int{"a": 1}, 0)
	assert.Equal(t, time.Minute, repo.ttls["k"])
	require.True(t, svc.Get(context.Background(), "k", &out))
	assert.Equal(t, 1, out["a"])

	repo.getErr = errors.New("redis down")
	assert.False(t, svc.Get(context.Background(), "k", &out))
}

func TestCacheServiceDisabled(t *testing.T) {
	repo := newMemoryCacheRepo()
	svc := NewCacheService(repo, nil, time.Minute, nil, false)
	svc.Set(context.Background(), "k", 1, 0)
	assert.Empty(t, repo.items)

	var nilSvc *CacheService
	assert.False(t, nilSvc.Enabled())
	nilSvc.Invalidate(context.Background(), "*")
}

func TestPreviewCacheKey(t *testing.T) {
	today := models.MustDate("2026-03-02")
	adjustments := []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 10)}

	a := PreviewCacheKey("group-1", adjustments, nil, today)
	b := PreviewCacheKey("group-1", adjustments, nil, today)
	assert.Equal(t, a, b)
	assert.True(t, strings.HasPrefix(a, "reschedule:preview:group-1:"))

	assert.NotEqual(t, a, PreviewCacheKey("group-1", adjustments, nil, today.AddDays(1)))
	assert.NotEqual(t, a, PreviewCacheKey("group-1", []models.AdjustmentInput{rangeAdjustment("pc-1", 1, 11)}, nil, today))
	assert.NotEqual(t, a, PreviewCacheKey("group-1", adjustments, &models.PlacementDateRange{From: datePtr("2026-03-04")}, today))
}

func TestReschedulePreviewIsCachedAndInvalidatedOnCommit(t *testing.T) {
	f := newRescheduleFixture(t)
	repo := newMemoryCacheRepo()
	WithCache(NewCacheService(repo, nil, time.Minute, zap.NewNop(), true))(f.svc)
	adjustments := []models.AdjustmentInput{rangeAdjustment("pc-1", 16, 27)}

	first, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1", adjustments, nil)
	require.NoError(t, err)
	require.Len(t, repo.items, 1)

	f.contents.contents = nil
	cached, err := f.svc.GetReschedulePreview(context.Background(), studentActor, "group-1", adjustments, nil)
	require.NoError(t, err, "a cache hit must not reload contents")
	assert.Equal(t, first.PlansAfterCount, cached.PlansAfterCount)

	_, err = f.svc.GetReschedulePreview(context.Background(), otherStudent, "group-1", adjustments, nil)
	assert.ErrorIs(t, err, appErrors.ErrForbidden, "cached previews are still access checked")

	f.contents = &fakeContents{contents: []models.PlanContent{
		{ID: "pc-1", PlanGroupID: "group-1", ContentID: "book-1", ContentType: models.ContentTypeBook, StartRange: 1, EndRange: 30},
	}}
	f.svc.contents = f.contents
	f.mock.ExpectBegin()
	f.mock.ExpectCommit()
	_, err = f.svc.RescheduleContents(context.Background(), studentActor, "group-1", adjustments, RescheduleOptions{Confirm: true}, nil)
	require.NoError(t, err)
	assert.Empty(t, repo.items)
	assert.Contains(t, repo.patterns, "reschedule:preview:group-1:*")
}
