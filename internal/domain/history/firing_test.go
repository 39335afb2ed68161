package history

import (
	"testing"
	"time"

	"github.com/chronos-os/chronos/internal/domain/shared"
	"github.com/stretchr/testify/assert"
)

func TestClampLimit(t *testing.T) {
	assert.Equal(t, DefaultLimit, ClampLimit(0))
	assert.Equal(t, DefaultLimit, ClampLimit(-3))
	assert.Equal(t, 7, ClampLimit(7))
	assert.Equal(t, MaxLimit, ClampLimit(MaxLimit+1))
}

func TestEventTime(t *testing.T) {
	now := time.Date(2026, 10, 19, 7, 0, 0, 0, time.UTC)
	almaty := time.FixedZone("ALMT", 5*3600)
	at := time.Date(2026, 10, 19, 12, 0, 0, 0, almaty)

	assert.Equal(t, now, EventTime(shared.Event{}, now))
	assert.Equal(t, at.UTC(), EventTime(shared.Event{At: at}, now))
	assert.Equal(t, time.UTC, EventTime(shared.Event{At: at}, now).Location())
}
