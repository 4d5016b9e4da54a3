package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedToday(t *testing.T) {
	c := NewFixed(time.Date(2024, 4, 30, 23, 10, 0, 0, time.UTC))
	assert.Equal(t, "2024-04-30", FormatDate(c.Today()))

	c.Advance(time.Hour)
	assert.Equal(t, "2024-05-01", FormatDate(c.Today()))
}

func TestParseDate(t *testing.T) {
	d, err := ParseDate("2024-05-01")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), d)

	_, err = ParseDate("05/01/2024")
	assert.Error(t, err)
}

func TestNewRealFallsBackToUTC(t *testing.T) {
	c := NewReal("Not/AZone")
	assert.Equal(t, time.UTC, c.loc)
}
