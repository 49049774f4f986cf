package session

import (
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kuramo.ch/rbmeter/wisun"
)

func buildMeterFrame(tid uint16, esv byte, epc byte, edt []byte) []byte {
	buf := []byte{0x10, 0x81, byte(tid >> 8), byte(tid), 0x02, 0x88, 0x01, 0x05, 0xFF, 0x01, esv, 0x01, epc, byte(len(edt))}
	return append(buf, edt...)
}

func erxudpLine(meterAddr string, frame []byte) string {
	return "ERXUDP " + meterAddr + " FE80:0000:0000:0000:021D:1290:0000:0001 0E1A 0E1A 001D129012345678 A0 0 0 " +
		hexLen4(len(frame)) + " " + hex.EncodeToString(frame)
}

func hexLen4(n int) string {
	const hexdigits = "0123456789ABCDEF"
	return string([]byte{hexdigits[(n>>12)&0xF], hexdigits[(n>>8)&0xF], hexdigits[(n>>4)&0xF], hexdigits[n&0xF]})
}

const testMeterAddr = "FE80:0000:0000:0000:021D:1290:1234:5678"

func feedOpenSequenceTranscript(tr *stubTransport, coefficientEDT, coefficientESV []byte, unitEDT []byte) {
	tr.feed("OK 1") // EnsureASCIIMode
	tr.feed("OK")   // SKRESET
	tr.feed("OK")   // SKSREG SA2 1
	tr.feed("OK")   // SKSETRBID
	tr.feed("OK")   // SKSETPWD
	tr.feed("OK",   // SKSCAN ack
		"EPANDESC",
		"  Channel:21",
		"  Channel Page:09",
		"  Pan ID:8888",
		"  Addr:001D129012345678",
		"  LQI:E1",
		"  Side:0",
		"  PairID:00000000",
		"EVENT 22 FE80::1 0")
	tr.feed(testMeterAddr) // SKLL64
	tr.feed("OK")          // SKSREG S2
	tr.feed("OK")          // SKSREG S3
	tr.feed("EVENT 25 FE80::1 0") // SKJOIN

	// primeScaling: coefficient (tid=1), then unit (tid=2).
	tr.feed("OK")
	if coefficientESV != nil {
		tr.feed(erxudpLine(testMeterAddr, buildMeterFrame(1, coefficientESV[0], 0xD3, nil)))
	} else {
		tr.feed(erxudpLine(testMeterAddr, buildMeterFrame(1, 0x72, 0xD3, coefficientEDT)))
	}
	tr.feed("OK")
	tr.feed(erxudpLine(testMeterAddr, buildMeterFrame(2, 0x72, 0xE1, unitEDT)))
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Device = "/dev/stub"
	cfg.RouteBID = "00112233445566778899AABBCCDDEEFF"
	cfg.Password = "password"
	cfg.InternalXmitInterval = 10 * time.Millisecond
	return cfg
}

func TestOpenHappyPath(t *testing.T) {
	tr := &stubTransport{}
	feedOpenSequenceTranscript(tr, []byte{0x00, 0x00, 0x00, 0x01}, nil, []byte{0x00})

	s, err := OpenOver(testConfig(), testLogger(), wisun.WrapPort(tr))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, testMeterAddr, s.MeterAddr())
	assert.True(t, s.isEstablished())
	assert.Equal(t, uint32(1), s.Scaling().Coefficient)
	assert.Equal(t, 1.0, s.Scaling().Unit)
}

func TestOpenMeterRefusesCoefficient(t *testing.T) {
	tr := &stubTransport{}
	feedOpenSequenceTranscript(tr, nil, []byte{0x52}, []byte{0x00})

	s, err := OpenOver(testConfig(), testLogger(), wisun.WrapPort(tr))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, uint32(1), s.Scaling().Coefficient)
}

func TestGateLifecycleDuringOpenSession(t *testing.T) {
	tr := &stubTransport{}
	feedOpenSequenceTranscript(tr, []byte{0x00, 0x00, 0x00, 0x01}, nil, []byte{0x00})

	s, err := OpenOver(testConfig(), testLogger(), wisun.WrapPort(tr))
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, 0, s.gate.currentDepth())

	tr.feed("EVENT 29 FE80::1 0")
	waitForDepth(t, s, 1)
	assert.False(t, s.gate.tryAcquire())

	tr.feed("EVENT 25 FE80::1 0")
	waitForDepth(t, s, 0)
	assert.True(t, s.gate.tryAcquire())
}

func waitForDepth(t *testing.T, s *Session, want int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if s.gate.currentDepth() == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("gate depth never reached %d (stuck at %d)", want, s.gate.currentDepth())
}

func TestCloseIsIdempotentAndForceOpensGate(t *testing.T) {
	tr := &stubTransport{}
	feedOpenSequenceTranscript(tr, []byte{0x00, 0x00, 0x00, 0x01}, nil, []byte{0x00})

	s, err := OpenOver(testConfig(), testLogger(), wisun.WrapPort(tr))
	require.NoError(t, err)

	tr.feed("EVENT 29 FE80::1 0")
	waitForDepth(t, s, 1)

	tr.feed("EVENT 27 FE80::1 0") // SKTERM response consumed by Terminate()
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	assert.Equal(t, 0, s.gate.currentDepth())
	assert.True(t, s.gate.tryAcquire())
}
