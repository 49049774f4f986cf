package wisun

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuramo.ch/rbmeter/rberrors"
)

func TestExecReturnsLinesUpToTerminator(t *testing.T) {
	tr := &stubTransport{}
	pub := NewPublisher(WrapPort(tr), testLogger())
	e := NewEngine(pub, WrapPort(tr))
	pub.Start()
	defer pub.Stop()

	tr.feed("OK")
	lines, err := e.Exec([]string{"SKRESET"}, []string{"OK"}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, lines)
	assert.Equal(t, []string{"SKRESET\r\n"}, tr.writes())
}

func TestExecSkipsERXUDPLines(t *testing.T) {
	tr := &stubTransport{}
	pub := NewPublisher(WrapPort(tr), testLogger())
	e := NewEngine(pub, WrapPort(tr))
	pub.Start()
	defer pub.Stop()

	tr.feed("ERXUDP FE80::1 FE80::2 0E1A 0E1A 001D129012345678 A0 0 0 0004 00000000", "OK")
	lines, err := e.Exec([]string{"SKSREG", "S2", "21"}, []string{"OK"}, time.Second, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, lines)
}

func TestExecMapsFailLine(t *testing.T) {
	tr := &stubTransport{}
	pub := NewPublisher(WrapPort(tr), testLogger())
	e := NewEngine(pub, WrapPort(tr))
	pub.Start()
	defer pub.Stop()

	tr.feed("FAIL ER04")
	_, err := e.Exec([]string{"SKSCAN"}, []string{"EVENT 22"}, time.Second, nil)
	require.Error(t, err)
	var skErr *rberrors.SkCommandError
	require.True(t, errors.As(err, &skErr))
	assert.Equal(t, rberrors.SkUnsupported, skErr.Kind)
	assert.Equal(t, 4, skErr.Code)
}

func TestExecTimesOut(t *testing.T) {
	tr := &stubTransport{}
	pub := NewPublisher(WrapPort(tr), testLogger())
	e := NewEngine(pub, WrapPort(tr))
	pub.Start()
	defer pub.Stop()

	_, err := e.Exec([]string{"SKVER"}, []string{"OK"}, 20*time.Millisecond, nil)
	require.Error(t, err)
	var to *rberrors.Timeout
	assert.True(t, errors.As(err, &to))
}

func TestExecWritesPayloadWithoutTerminator(t *testing.T) {
	tr := &stubTransport{}
	pub := NewPublisher(WrapPort(tr), testLogger())
	e := NewEngine(pub, WrapPort(tr))
	pub.Start()
	defer pub.Stop()

	tr.feed("OK")
	payload := []byte{0x10, 0x81, 0x00, 0x01}
	_, err := e.Exec([]string{"SKSENDTO", "1", "FE80::1", "0E1A", "2", "0", "0004"}, []string{"OK"}, time.Second, payload)
	require.NoError(t, err)
	assert.Equal(t, []string{"SKSENDTO 1 FE80::1 0E1A 2 0 0004 \x10\x81\x00\x01"}, tr.writes())
}
