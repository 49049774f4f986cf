package wisun

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuramo.ch/rbmeter/rberrors"
)

func newTestRadio(tr *stubTransport) (*Radio, *Publisher) {
	pub := NewPublisher(WrapPort(tr), testLogger())
	engine := NewEngine(pub, WrapPort(tr))
	pub.Start()
	return NewRadio(engine), pub
}

func TestScanSucceedsOnFirstAttempt(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	tr.feed("OK",
		"EPANDESC",
		"  Channel:21",
		"  Channel Page:09",
		"  Pan ID:8888",
		"  Addr:001D129012345678",
		"  LQI:E1",
		"  Side:0",
		"  PairID:00000000",
		"EVENT 22 FE80::1 0")

	result, err := r.Scan()
	require.NoError(t, err)
	assert.Equal(t, "001D129012345678", result.MAC)
}

func TestScanFailsAfterRetries(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	for i := 0; i < scanRetries; i++ {
		tr.feed("OK", "EVENT 22 FE80::1 0")
	}

	_, err := r.Scan()
	require.Error(t, err)
	assert.True(t, errors.Is(err, rberrors.ErrScanFailure))
}

func TestJoinSucceeds(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	tr.feed("OK", "EVENT 25 FE80::1 0")
	err := r.Join("FE80:0000:0000:0000:021D:1290:1234:5678")
	require.NoError(t, err)
}

func TestJoinFailsAfterRetries(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	for i := 0; i < joinRetries; i++ {
		tr.feed("OK", "EVENT 24 FE80::1 0")
	}

	err := r.Join("FE80:0000:0000:0000:021D:1290:1234:5678")
	require.Error(t, err)
	assert.True(t, errors.Is(err, rberrors.ErrJoinFailure))
}

func TestSendToFormatsTokensAndPayload(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	tr.feed("OK")
	payload := []byte{0x10, 0x81, 0x00, 0x01, 0x05, 0xFF, 0x01, 0x02, 0x88, 0x01, 0x62, 0x01, 0xE7, 0x00}
	err := r.SendTo("FE80:0000:0000:0000:021D:1290:1234:5678", payload)
	require.NoError(t, err)

	writes := tr.writes()
	require.Len(t, writes, 1)
	assert.Contains(t, writes[0], "SKSENDTO 1 FE80:0000:0000:0000:021D:1290:1234:5678 0E1A 2 0 000E ")
}

func TestSetRegisterFormatsUppercaseHex(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	tr.feed("OK")
	require.NoError(t, r.SetRegister("S2", 21))
	assert.Equal(t, []string{"SKSREG S2 15\r\n"}, tr.writes())
}

func TestTerminate(t *testing.T) {
	tr := &stubTransport{}
	r, pub := newTestRadio(tr)
	defer pub.Stop()

	tr.feed("EVENT 27 FE80::1 0")
	require.NoError(t, r.Terminate())
}
