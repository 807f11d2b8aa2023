package cacheddata

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessInfo_MarshalRoundTrip(t *testing.T) {
	p := ProcessInfo{
		PortVec:  []int{8080, 8443},
		ExecArgs: []string{"/bin/worker", "--config", "/etc/worker.conf"},
		Env:      map[string]string{"REGION": "us-east"},
	}
	data, err := p.Marshal()
	require.NoError(t, err)

	got, err := UnmarshalProcessInfo(data)
	require.NoError(t, err)
	assert.Equal(t, p, got)
}

func TestUnmarshalProcessInfo_Empty(t *testing.T) {
	got, err := UnmarshalProcessInfo(nil)
	require.NoError(t, err)
	assert.Empty(t, got.PortVec)
}
