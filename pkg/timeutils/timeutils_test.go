package timeutils

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClock(t *testing.T) {
	m, err := ParseClock("08:30")
	require.NoError(t, err)
	assert.Equal(t, 510, m)

	for _, bad := range []string{"", "8", "24:00", "10:60", "aa:bb"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}

func TestWithinWindows(t *testing.T) {
	windows := []Window{
		{Day: time.Monday, Open: "08:00", Close: "12:00"},
		{Day: time.Monday, Open: "14:00", Close: "18:00"},
	}
	bogota := "America/Bogota" // UTC-5, no DST

	// Monday 2024-06-03 09:15 local == 14:15 UTC
	open, err := WithinWindows(time.Date(2024, 6, 3, 14, 15, 0, 0, time.UTC), bogota, windows)
	require.NoError(t, err)
	assert.True(t, open)

	// lunch break
	open, err = WithinWindows(time.Date(2024, 6, 3, 17, 30, 0, 0, time.UTC), bogota, windows)
	require.NoError(t, err)
	assert.False(t, open)

	// close is exclusive
	open, _ = WithinWindows(time.Date(2024, 6, 3, 23, 0, 0, 0, time.UTC), bogota, windows)
	assert.False(t, open)

	// Tuesday
	open, _ = WithinWindows(time.Date(2024, 6, 4, 14, 15, 0, 0, time.UTC), bogota, windows)
	assert.False(t, open)

	_, err = WithinWindows(time.Now(), "Mars/Olympus", windows)
	assert.Error(t, err)
}
