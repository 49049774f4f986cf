package wisun

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScanBlock(t *testing.T) {
	lines := []string{
		"SKSCAN 2 FFFFFFFF 6 0",
		"OK",
		"EVENT 20 FE80::1 0",
		"EPANDESC",
		"  Channel:21",
		"  Channel Page:09",
		"  Pan ID:8888",
		"  Addr:001D129012345678",
		"  LQI:E1",
		"  Side:0",
		"  PairID:00000000",
		"EVENT 22 FE80::1 0",
	}
	result, err := ParseScan(lines)
	require.NoError(t, err)
	assert.Equal(t, byte(0x21), result.Channel)
	assert.Equal(t, byte(0x09), result.ChannelPage)
	assert.Equal(t, uint16(0x8888), result.PanID)
	assert.Equal(t, "001D129012345678", result.MAC)
	assert.Equal(t, byte(0xE1), result.LQI)
	assert.Equal(t, byte(0), result.Side)
	assert.InDelta(t, 0.275*float64(0xE1)-104.27, result.RSSI(), 0.0001)
}

func TestParseScanMissingBlock(t *testing.T) {
	_, err := ParseScan([]string{"EVENT 22 FE80::1 0"})
	assert.Error(t, err)
}

func TestParseLL64(t *testing.T) {
	addr, err := ParseLL64([]string{"SKLL64 001D129012345678", "FE80:0000:0000:0000:021D:1290:1234:5678"})
	require.NoError(t, err)
	assert.Equal(t, "FE80:0000:0000:0000:021D:1290:1234:5678", addr)
}

func TestParseEventWithParam(t *testing.T) {
	ev, err := ParseEvent("EVENT 21 FE80::1 0 00")
	require.NoError(t, err)
	assert.Equal(t, byte(0x21), ev.Number)
	assert.Equal(t, "00", ev.Param)
}

func TestParseEventWithoutParam(t *testing.T) {
	ev, err := ParseEvent("EVENT 25 FE80::1 0")
	require.NoError(t, err)
	assert.Equal(t, byte(0x25), ev.Number)
	assert.Equal(t, "", ev.Param)
}

func TestParseERXUDP(t *testing.T) {
	line := "ERXUDP FE80:0000:0000:0000:021D:1290:1234:5678 FE80:0000:0000:0000:021D:1290:ABCD:EF01 0E1A 0E1A 001D129012345678 A0 0 0 0004 00000001"
	ev, err := ParseERXUDP(line)
	require.NoError(t, err)
	assert.Equal(t, uint16(0x0E1A), ev.SrcPort)
	assert.Equal(t, uint16(0x0E1A), ev.DstPort)
	assert.Equal(t, byte(0xA0), ev.LQI)
	assert.False(t, ev.Secure)
	assert.Equal(t, []byte{0x00, 0x00, 0x00, 0x01}, ev.Data)
}

func TestParseInfo(t *testing.T) {
	info, err := ParseInfo([]string{"EINFO FE80:0000:0000:0000:021D:1290:1234:5678 001D129012345678 21 8888 0"})
	require.NoError(t, err)
	assert.Equal(t, byte(0x21), info.Channel)
	assert.Equal(t, uint16(0x8888), info.PanID)
}

func TestParseVersionAndAppVersion(t *testing.T) {
	v, err := ParseVersion([]string{"EVER 1.2.10"})
	require.NoError(t, err)
	assert.Equal(t, "1.2.10", v)

	av, err := ParseAppVersion([]string{"EAPPVER rev0a01"})
	require.NoError(t, err)
	assert.Equal(t, "rev0a01", av)
}
