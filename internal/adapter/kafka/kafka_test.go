package kafka

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/opendata-relay/internal/domain"
)

func TestToMessage(t *testing.T) {
	now := time.Date(2025, 3, 1, 0, 14, 23, 0, time.UTC)
	event, err := domain.SerializeUpdate(domain.Update{
		SourceKey: "earthquake.normal",
		CacheKey:  "earthquake.normal",
		Digest:    "0f3c",
		FetchedAt: now,
		Record:    domain.EarthquakeFeed{Reports: []domain.EarthquakeReport{{ID: 11410005}}},
	})
	require.NoError(t, err)

	msg := toMessage(event)

	assert.Equal(t, []byte("earthquake.normal"), msg.Key)
	assert.Contains(t, string(msg.Value), `"id":11410005`)
	require.Len(t, msg.Headers, 3)
	assert.Equal(t, "digest", msg.Headers[0].Key)
	assert.Equal(t, []byte("0f3c"), msg.Headers[0].Value)
	assert.Equal(t, "fetched_at", msg.Headers[1].Key)
	assert.Equal(t, []byte(now.Format(time.RFC3339)), msg.Headers[1].Value)
	assert.Equal(t, "source", msg.Headers[2].Key)
	assert.Equal(t, []byte("earthquake.normal"), msg.Headers[2].Value)
}

func TestToMessage_NoHeaders(t *testing.T) {
	msg := toMessage(domain.OutputEvent{Key: []byte("k"), Value: []byte("{}")})
	assert.Empty(t, msg.Headers)
	assert.Equal(t, []byte("{}"), msg.Value)
}
