package blockdev

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/fleetctl/pkg/types"
)

const sampleProcDRBD = `version: 8.4.10 (api:1/proto:86-101)
 0: cs:Connected ro:Primary/Secondary ds:UpToDate/UpToDate C r-----
    ns:1048576 nr:0 dw:0 dr:1048576 al:0 bm:0 lo:0 pe:0 ua:0 ap:0 ep:1 wo:f oos:0
 1: cs:SyncSource ro:Primary/Secondary ds:Inconsistent/UpToDate C r-----
    ns:524288 nr:0 dw:0 dr:524288 al:0 bm:32 lo:0 pe:1 ua:0 ap:0 ep:1 wo:f oos:524288
	[=====>..............] sync'ed: 33.3% (524288/1048576)K delay_probe: 22 finish: 0:02:15 speed: 4,096 (4,096) K/sec
`

func TestParseProcDRBDTwoMinors(t *testing.T) {
	states, err := ParseProcDRBD(sampleProcDRBD)
	require.NoError(t, err)
	require.Len(t, states, 2)

	assert.Equal(t, 0, states[0].Minor)
	assert.Equal(t, types.DRBDConnConnected, states[0].Conn)
	assert.True(t, states[0].IsConnected())
	assert.Nil(t, states[0].SyncPercent)

	assert.Equal(t, 1, states[1].Minor)
	assert.Equal(t, types.DRBDConnSyncSource, states[1].Conn)
	assert.True(t, states[1].IsInResync())
	require.NotNil(t, states[1].SyncPercent)
	assert.InDelta(t, 33.3, *states[1].SyncPercent, 0.01)
	assert.True(t, states[1].Degraded())
}

func TestParseDRBDDurationMinutesSeconds(t *testing.T) {
	d, err := parseDRBDDuration("2:15.000")
	require.NoError(t, err)
	assert.Equal(t, "2m15s", d.Round(0).String())
}

func TestParseDRBDDurationHoursMinutesSeconds(t *testing.T) {
	d, err := parseDRBDDuration("1:02:15")
	require.NoError(t, err)
	assert.Equal(t, "1h2m15s", d.Round(0).String())
}

func TestParseDRBDShowDetectsLocalAndNetwork(t *testing.T) {
	out := `
resource r0 {
  disk {
    disk /dev/vgdata/data0;
  }
  net {
    address ipv4 10.0.0.1:7789;
    peer_addr ipv4 10.0.0.2:7789;
  }
}
`
	cfg := parseDRBDShow(out)
	assert.True(t, cfg.hasLocal)
	assert.True(t, cfg.hasNetwork)
}

func TestExtractAddr(t *testing.T) {
	assert.Equal(t, "10.0.0.1:7789", extractAddr("address ipv4 10.0.0.1:7789;"))
	assert.Equal(t, "", extractAddr("disk /dev/vgdata/data0;"))
}
