package service

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/studyplan-api/pkg/clock"
)

func TestTTLStoreClaimIsExclusive(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newTTLStore[string](time.Minute, clk)
	store.Put("token", "value")

	v, err := store.Claim("token")
	require.NoError(t, err)
	assert.Equal(t, "value", v)

	_, err = store.Claim("token")
	assert.ErrorIs(t, err, errEntryClaimed)

	store.Release("token")
	_, err = store.Claim("token")
	assert.NoError(t, err)

	store.Delete("token")
	_, err = store.Claim("token")
	assert.ErrorIs(t, err, errEntryMissing)
}

func TestTTLStoreExpiry(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newTTLStore[int](time.Minute, clk)
	expiresAt := store.Put("a", 1)
	store.Put("b", 2)
	assert.Equal(t, clk.Now().Add(time.Minute), expiresAt)

	clk.Advance(30 * time.Second)
	store.Put("b", 3)
	clk.Advance(45 * time.Second)

	_, ok := store.Get("a")
	assert.False(t, ok)
	v, ok := store.Get("b")
	require.True(t, ok)
	assert.Equal(t, 3, v)

	clk.Advance(time.Minute)
	assert.Equal(t, 1, store.Purge())
	assert.Equal(t, 0, store.Len())
}

func TestTTLStoreUpdateIsAtomic(t *testing.T) {
	clk := clock.NewFixed(time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC))
	store := newTTLStore[int](time.Minute, clk)
	store.Put("counter", 0)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := store.Update("counter", func(v int) (int, error) { return v + 1, nil })
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	v, ok := store.Get("counter")
	require.True(t, ok)
	assert.Equal(t, 50, v)

	boom := errors.New("boom")
	_, _, err := store.Update("counter", func(int) (int, error) { return -1, boom })
	assert.ErrorIs(t, err, boom)
	v, _ = store.Get("counter")
	assert.Equal(t, 50, v)

	_, _, err = store.Update("missing", func(v int) (int, error) { return v, nil })
	assert.ErrorIs(t, err, errEntryMissing)
}
