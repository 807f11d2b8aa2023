package cacheddata

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateRecord_AppendAndLatest(t *testing.T) {
	r := NewStateRecord(fakeLocker{held: true}, "/p")
	_, ok := r.Latest()
	assert.False(t, ok)

	ts := time.Unix(1000, 0).UTC()
	r.Append(ts, map[string]interface{}{"HEALTH": "ok"})

	latest, ok := r.Latest()
	require.True(t, ok)
	assert.Equal(t, ts, latest.Timestamp)
	assert.Equal(t, "ok", latest.KeyValues["HEALTH"])
}

func TestStateRecord_HistoryBounded(t *testing.T) {
	r := NewStateRecord(fakeLocker{held: true}, "/p").WithHistoryDepth(3)
	for i := 0; i < 5; i++ {
		r.Append(time.Unix(int64(i), 0), map[string]interface{}{"i": i})
	}
	history := r.History()
	require.Len(t, history, 3)
	assert.Equal(t, 2, history[0].KeyValues["i"])
	assert.Equal(t, 4, history[2].KeyValues["i"])
}

func TestStateRecord_PublishAndLoadRoundTrip(t *testing.T) {
	path := "/_clusterlib/_1.0/_root"
	s := newTestStore(t, path)
	r := NewStateRecord(fakeLocker{held: true}, path)
	r.Append(time.Unix(1, 0).UTC(), map[string]interface{}{"PID": float64(42)})

	require.NoError(t, r.Publish(context.Background(), s))

	data, version, err := s.GetData(context.Background(), path, "")
	require.NoError(t, err)

	reader := NewStateRecord(fakeLocker{held: true}, path)
	require.NoError(t, reader.Load(data, version))
	latest, ok := reader.Latest()
	require.True(t, ok)
	assert.Equal(t, float64(42), latest.KeyValues["PID"])
}

func TestStateRecord_DefaultHistoryDepth(t *testing.T) {
	assert.Equal(t, 32, DefaultHistoryDepth)
}
