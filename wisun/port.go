// Package wisun speaks the line-oriented AT-style dialect of a Wi-SUN
// radio module: byte-level transport, line fan-out to subscribers, a
// command/response engine, and the high-level SKxxx commands built on
// top of it.
package wisun

import (
	"bytes"
	"io"
	"time"

	"github.com/tarm/serial"

	"kuramo.ch/rbmeter/rberrors"
)

// pollInterval is the granularity at which Port polls the underlying
// driver for new bytes. tarm/serial fixes its read timeout at Open
// time, so a variable-timeout ReadLine is built by polling at this
// interval and checking elapsed time ourselves.
const pollInterval = 100 * time.Millisecond

// RawPort is the byte-level duplex transport Port polls. Satisfied by
// *serial.Port; a stub implementation stands in for it in tests.
type RawPort interface {
	Read(b []byte) (int, error)
	Write(b []byte) (int, error)
	Close() error
}

// Port is a duplex line transport to the radio module.
type Port struct {
	sp  RawPort
	buf []byte
}

// Open opens dev at baud and returns a ready Port.
func Open(dev string, baud int) (*Port, error) {
	sp, err := serial.OpenPort(&serial.Config{Name: dev, Baud: baud, ReadTimeout: pollInterval})
	if err != nil {
		return nil, rberrors.Transport("open serial port", err)
	}
	return &Port{sp: sp}, nil
}

// WrapPort adapts an existing duplex byte transport as a Port,
// bypassing the real serial driver. Used to script a transcript in
// tests, or to run this client over a non-serial transport.
func WrapPort(rw RawPort) *Port { return &Port{sp: rw} }

// Close releases the underlying serial port.
func (p *Port) Close() error {
	if err := p.sp.Close(); err != nil {
		return rberrors.Transport("close serial port", err)
	}
	return nil
}

// WriteBytes writes b verbatim to the port.
func (p *Port) WriteBytes(b []byte) error {
	if _, err := p.sp.Write(b); err != nil {
		return rberrors.Transport("write", err)
	}
	return nil
}

// ReadLine returns one \r\n-terminated line with the terminator
// stripped, or an empty string if timeout elapses with no complete
// line available.
func (p *Port) ReadLine(timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	chunk := make([]byte, 256)
	for {
		if i := bytes.IndexByte(p.buf, '\n'); i >= 0 {
			line := p.buf[:i]
			p.buf = p.buf[i+1:]
			return string(bytes.TrimRight(line, "\r")), nil
		}
		if !time.Now().Before(deadline) {
			return "", nil
		}
		n, err := p.sp.Read(chunk)
		if err != nil && err != io.EOF {
			return "", rberrors.Transport("read_line", err)
		}
		if n > 0 {
			p.buf = append(p.buf, chunk[:n]...)
		}
	}
}

// DrainWithIdleTimeout reads and discards lines until idle elapses
// with no new line arriving. Used exactly once, before the publisher
// starts, to flush boot-time garbage from the module.
func (p *Port) DrainWithIdleTimeout(idle time.Duration) {
	for {
		line, _ := p.ReadLine(idle)
		if line == "" {
			return
		}
	}
}
