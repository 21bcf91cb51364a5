package travel

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
)

func interval(placeID string, weekday, open, close int32) *store.OpeningInterval {
	return &store.OpeningInterval{PlaceID: placeID, Weekday: weekday, OpenMinute: open, CloseMinute: close}
}

func TestBuildHoursPlainWindow(t *testing.T) {
	h := BuildHours([]*store.OpeningInterval{
		interval("p1", 1, 540, 1080), // Monday 09:00-18:00
	})

	windows := h.Windows("p1", 1)
	require.Len(t, windows, 1)
	assert.Equal(t, OpenWindow{Start: 540, End: 1080}, windows[0])

	assert.Empty(t, h.Windows("p1", 2), "no rows for Tuesday")
	assert.Empty(t, h.Windows("p2", 1), "unknown place is closed")
}

func TestBuildHoursOvernightWrapSplits(t *testing.T) {
	// Friday 22:00 through 02:00 Saturday, stored as a single wrap row.
	h := BuildHours([]*store.OpeningInterval{
		interval("bar", 5, 1320, 120),
	})

	friday := h.Windows("bar", 5)
	require.Len(t, friday, 1)
	assert.Equal(t, OpenWindow{Start: 1320, End: 1440}, friday[0])

	saturday := h.Windows("bar", 6)
	require.Len(t, saturday, 1)
	assert.Equal(t, OpenWindow{Start: 0, End: 120}, saturday[0])
}

func TestBuildHoursSplitRowsEquivalentToWrap(t *testing.T) {
	wrap := BuildHours([]*store.OpeningInterval{interval("bar", 5, 1320, 120)})
	split := BuildHours([]*store.OpeningInterval{
		interval("bar", 5, 1320, 1440),
		interval("bar", 6, 0, 120),
	})

	for day := 0; day < 7; day++ {
		assert.Equal(t, wrap.Windows("bar", day), split.Windows("bar", day), "day %d", day)
	}
}

func TestBuildHoursMergesOverlaps(t *testing.T) {
	h := BuildHours([]*store.OpeningInterval{
		interval("p1", 2, 600, 720),
		interval("p1", 2, 540, 660),
		interval("p1", 2, 900, 1020),
	})

	windows := h.Windows("p1", 2)
	require.Len(t, windows, 2)
	assert.Equal(t, OpenWindow{Start: 540, End: 720}, windows[0])
	assert.Equal(t, OpenWindow{Start: 900, End: 1020}, windows[1])
}

func TestNextFit(t *testing.T) {
	h := BuildHours([]*store.OpeningInterval{
		interval("p1", 3, 600, 720),
		interval("p1", 3, 900, 1080),
	})

	tests := []struct {
		name      string
		arrival   int
		stay      int
		wantStart int
		wantOK    bool
	}{
		{"arrive before open waits until open", 500, 60, 600, true},
		{"arrive inside window starts immediately", 630, 60, 630, true},
		{"stay too long for first window rolls to second", 650, 90, 900, true},
		{"arrive after last window fails", 1090, 30, 0, false},
		{"stay longer than any window fails", 500, 200, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start, ok := h.NextFit("p1", 3, tt.arrival, tt.stay)
			require.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.wantStart, start)
			}
		})
	}
}

func TestOpenAt(t *testing.T) {
	h := BuildHours([]*store.OpeningInterval{interval("p1", 0, 540, 1080)})

	assert.True(t, h.OpenAt("p1", 0, 540, 1080))
	assert.True(t, h.OpenAt("p1", 0, 600, 700))
	assert.False(t, h.OpenAt("p1", 0, 500, 700))
	assert.False(t, h.OpenAt("p1", 0, 600, 1100))
	assert.False(t, h.OpenAt("p1", 1, 600, 700))
}
