package session

import "sync"

// stubTransport is a fake wisun.RawPort that lets a test script bytes
// to be read back and records everything written to it.
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

func (s *stubTransport) writeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.written)
}
