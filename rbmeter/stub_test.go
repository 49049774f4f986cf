package rbmeter

import (
	"encoding/hex"
	"io"
	"log"
	"sync"
	"time"

	"kuramo.ch/rbmeter/session"
	"kuramo.ch/rbmeter/wisun"
)

// stubTransport is a fake wisun.RawPort scripted by feeding lines and
// inspected via writes().
type stubTransport struct {
	mu      sync.Mutex
	toRead  []byte
	written [][]byte
}

func (s *stubTransport) Read(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.toRead) == 0 {
		return 0, nil
	}
	n := copy(b, s.toRead)
	s.toRead = s.toRead[n:]
	return n, nil
}

func (s *stubTransport) Write(b []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, append([]byte(nil), b...))
	return len(b), nil
}

func (s *stubTransport) Close() error { return nil }

func (s *stubTransport) feed(lines ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, l := range lines {
		s.toRead = append(s.toRead, []byte(l+"\r\n")...)
	}
}

func (s *stubTransport) writes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

const testMeterAddr = "FE80:0000:0000:0000:021D:1290:1234:5678"

func buildMeterFrame(tid uint16, esv byte, epc byte, edt []byte) []byte {
	buf := []byte{0x10, 0x81, byte(tid >> 8), byte(tid), 0x02, 0x88, 0x01, 0x05, 0xFF, 0x01, esv, 0x01, epc, byte(len(edt))}
	return append(buf, edt...)
}

func hexLen4(n int) string {
	const hexdigits = "0123456789ABCDEF"
	return string([]byte{hexdigits[(n>>12)&0xF], hexdigits[(n>>8)&0xF], hexdigits[(n>>4)&0xF], hexdigits[n&0xF]})
}

func erxudpLine(meterAddr string, frame []byte) string {
	return "ERXUDP " + meterAddr + " FE80:0000:0000:0000:021D:1290:0000:0001 0E1A 0E1A 001D129012345678 A0 0 0 " +
		hexLen4(len(frame)) + " " + hex.EncodeToString(frame)
}

func feedOpenSequenceTranscript(tr *stubTransport) {
	tr.feed("OK 1") // EnsureASCIIMode
	tr.feed("OK")   // SKRESET
	tr.feed("OK")   // SKSREG SA2 1
	tr.feed("OK")   // SKSETRBID
	tr.feed("OK")   // SKSETPWD
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
	tr.feed(testMeterAddr) // SKLL64
	tr.feed("OK")          // SKSREG S2
	tr.feed("OK")          // SKSREG S3
	tr.feed("EVENT 25 FE80::1 0")

	// primeScaling: coefficient (tid=1) then unit (tid=2), both neutral.
	tr.feed("OK")
	tr.feed(erxudpLine(testMeterAddr, buildMeterFrame(1, 0x72, 0xD3, []byte{0, 0, 0, 1})))
	tr.feed("OK")
	tr.feed(erxudpLine(testMeterAddr, buildMeterFrame(2, 0x72, 0xE1, []byte{0x00})))
}

func testSessionConfig() session.Config {
	cfg := session.DefaultConfig()
	cfg.Device = "/dev/stub"
	cfg.RouteBID = "00112233445566778899AABBCCDDEEFF"
	cfg.Password = "password"
	cfg.InternalXmitInterval = 10 * time.Millisecond
	return cfg
}

// openTestClient builds a Client around a session opened over tr, with
// the open-sequence transcript already fed. txnCfg lets a test shrink
// the transaction core's retry/timeout knobs so scenarios like retry
// exhaustion don't take the full spec.md defaults (12 rounds x 12 s)
// to run.
func openTestClient(tr *stubTransport, txnCfg TransactionConfig) (*Client, error) {
	sess, err := session.OpenOver(testSessionConfig(), testLogger(), wisun.WrapPort(tr))
	if err != nil {
		return nil, err
	}
	return &Client{sess: sess, txn: newTransaction(sess, testLogger(), txnCfg), log: testLogger()}, nil
}

func fastTransactionConfig() TransactionConfig {
	return TransactionConfig{
		XmitRetries:          DefaultXmitRetries,
		RecvTimeout:          200 * time.Millisecond,
		InternalXmitInterval: 10 * time.Millisecond,
	}
}
