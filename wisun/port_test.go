package wisun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReadLineReturnsStrippedLine(t *testing.T) {
	tr := &stubTransport{}
	tr.feed("EVER 1.2.10")
	p := WrapPort(tr)

	line, err := p.ReadLine(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "EVER 1.2.10", line)
}

func TestReadLineTimesOutToEmptyString(t *testing.T) {
	tr := &stubTransport{}
	p := WrapPort(tr)

	line, err := p.ReadLine(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "", line)
}

func TestReadLineSplitsMultipleLines(t *testing.T) {
	tr := &stubTransport{}
	tr.feed("OK", "EVENT 22 FE80::1 0")
	p := WrapPort(tr)

	first, err := p.ReadLine(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "OK", first)

	second, err := p.ReadLine(200 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "EVENT 22 FE80::1 0", second)
}

func TestWriteBytesPassesThrough(t *testing.T) {
	tr := &stubTransport{}
	p := WrapPort(tr)

	require.NoError(t, p.WriteBytes([]byte("SKVER\r\n")))
	assert.Equal(t, []string{"SKVER\r\n"}, tr.writes())
}

func TestDrainWithIdleTimeoutConsumesBacklog(t *testing.T) {
	tr := &stubTransport{}
	tr.feed("garbage1", "garbage2")
	p := WrapPort(tr)

	p.DrainWithIdleTimeout(20 * time.Millisecond)

	line, err := p.ReadLine(20 * time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, "", line)
}
