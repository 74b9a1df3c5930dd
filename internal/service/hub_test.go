package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runtime/internal/session"
)

func TestHubDropsOlderVersions(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	defer cancel()

	h.publish(session.Snapshot{Version: 2})
	h.publish(session.Snapshot{Version: 1})
	h.publish(session.Snapshot{Version: 3})

	assert.Equal(t, uint64(2), (<-ch).Version)
	assert.Equal(t, uint64(3), (<-ch).Version)
	assert.Empty(t, ch)
}

func TestHubSlowSubscriberKeepsNewest(t *testing.T) {
	h := newHub()
	ch, cancel := h.subscribe()
	defer cancel()

	for v := uint64(1); v <= subscriberBuffer+3; v++ {
		h.publish(session.Snapshot{Version: v})
	}
	require.Len(t, ch, subscriberBuffer)

	var last uint64
	for len(ch) > 0 {
		last = (<-ch).Version
	}
	assert.Equal(t, uint64(subscriberBuffer+3), last)
}

func TestHubPrimesAndCloses(t *testing.T) {
	h := newHub()
	h.publish(session.Snapshot{Version: 5})

	ch, cancel := h.subscribe()
	assert.Equal(t, uint64(5), (<-ch).Version)

	h.close()
	_, open := <-ch
	assert.False(t, open)
	cancel()

	late, _ := h.subscribe()
	_, open = <-late
	assert.False(t, open)
}
