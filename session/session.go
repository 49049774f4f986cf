// Package session implements the PANA session lifecycle on top of
// wisun's radio commands: scan, join, and maintain a session against
// one smart meter, gating outbound transmission on an event-driven
// transmit gate and exposing a queue of inbound ECHONET-bearing lines
// to the transaction layer above it.
package session

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"kuramo.ch/rbmeter/echonetlite"
	"kuramo.ch/rbmeter/rberrors"
	"kuramo.ch/rbmeter/wisun"
)

const sessionQueueName = "session"

// closeSentinel terminates the receiver task when posted to its queue.
const closeSentinel = "__CLOSE__"

const (
	xmitSendRetries  = 3
	xmitSendPause    = 3 * time.Second
	lockAcquireBound = 120 * time.Second
	lockAcquireTries = 30
	lockPollInterval = lockAcquireBound / lockAcquireTries

	rejoinLockBound = 120 * time.Second

	// Priming (open()'s step 10 coefficient/unit read) uses its own
	// small, fixed retry budget rather than the transaction core's
	// xmit_retries/recv_timeout knobs: the transaction core is
	// constructed from this session only after Open returns, so no
	// shared counter or timeout exists yet to prime with.
	primeRetries     = 3
	primeRecvTimeout = 5 * time.Second
)

// Config is the radio module and Route-B credential configuration
// needed to establish a session.
type Config struct {
	Device      string
	Baud        int
	RouteBID    string
	Password    string
	ResetDevice bool

	// InternalXmitInterval is the post-open settle delay (step 10) and
	// the back-off applied after a link-layer retransmit signal.
	InternalXmitInterval time.Duration
}

// DefaultConfig returns the baud rate and reset/interval defaults
// spec.md lists for everything the caller doesn't override.
func DefaultConfig() Config {
	return Config{
		Baud:                 115200,
		ResetDevice:          true,
		InternalXmitInterval: 5 * time.Second,
	}
}

// Session is one open PANA session against a smart meter.
type Session struct {
	log *log.Logger
	cfg Config

	port      *wisun.Port
	publisher *wisun.Publisher
	radio     *wisun.Radio

	gate *gate

	establishedMu sync.Mutex
	established   bool

	meterAddr string
	meterMAC  string
	channel   byte
	panID     uint16

	rejoinLock sync.Mutex

	eventQueue    chan string
	receivedQueue chan string
	receiverDone  chan struct{}

	fatalMu sync.Mutex
	fatal   error

	tidCounter uint32

	scalingMu sync.Mutex
	scaling   echonetlite.Scaling

	closeOnce sync.Once
}

// Open runs the full open sequence (scan, join, prime scaling) and
// returns a ready Session. On any failure, the session is closed
// before the error is returned.
func Open(cfg Config, logger *log.Logger) (*Session, error) {
	port, err := wisun.Open(cfg.Device, cfg.Baud)
	if err != nil {
		return nil, err
	}
	return OpenOver(cfg, logger, port)
}

// OpenOver runs the open sequence over an already-constructed port,
// letting tests substitute a scripted transport for the real serial
// driver.
func OpenOver(cfg Config, logger *log.Logger, port *wisun.Port) (*Session, error) {
	s := &Session{
		log:           logger,
		cfg:           cfg,
		gate:          newGate(logger),
		receivedQueue: make(chan string, 64),
		scaling:       echonetlite.Scaling{Coefficient: 1, Unit: 1},
	}
	if err := s.open(port); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) open(port *wisun.Port) error {
	s.port = port
	port.DrainWithIdleTimeout(500 * time.Millisecond)

	pub := wisun.NewPublisher(port, s.log)
	if err := pub.EnsureASCIIMode(); err != nil {
		return err
	}
	pub.Start()
	s.publisher = pub

	engine := wisun.NewEngine(pub, port)
	s.radio = wisun.NewRadio(engine)

	if s.cfg.ResetDevice {
		if err := s.radio.Reset(); err != nil {
			return err
		}
	}
	if err := s.radio.SetRegister("SA2", 1); err != nil {
		return err
	}
	if err := s.radio.SetRouteBID(s.cfg.RouteBID); err != nil {
		return err
	}
	if err := s.radio.SetPassword(s.cfg.Password); err != nil {
		return err
	}

	scan, err := s.radio.Scan()
	if err != nil {
		return err
	}
	s.meterMAC = scan.MAC
	s.channel = scan.Channel
	s.panID = scan.PanID

	addr, err := s.radio.TranslateMAC(scan.MAC)
	if err != nil {
		return err
	}
	s.meterAddr = addr

	if err := s.radio.SetRegister("S2", uint32(scan.Channel)); err != nil {
		return err
	}
	if err := s.radio.SetRegister("S3", uint32(scan.PanID)); err != nil {
		return err
	}

	if err := s.radio.Join(addr); err != nil {
		return err
	}
	s.setEstablished(true)

	s.eventQueue = pub.Subscribe(sessionQueueName, 64)
	s.receiverDone = make(chan struct{})
	go s.receiverLoop()

	time.Sleep(s.cfg.InternalXmitInterval)

	return s.primeScaling()
}

// MeterAddr returns the meter's link-local IPv6 address established during open.
func (s *Session) MeterAddr() string { return s.meterAddr }

// Radio exposes the underlying radio command wrapper for the
// diagnostic-only reads (SKVER/SKAPPVER/SKINFO) that sit outside the
// transaction core's request/response path.
func (s *Session) Radio() *wisun.Radio { return s.radio }

// Scaling returns the energy scaling state primed during open.
func (s *Session) Scaling() echonetlite.Scaling {
	s.scalingMu.Lock()
	defer s.scalingMu.Unlock()
	return s.scaling
}

// NextTID draws the next transaction ID from this session's counter.
func (s *Session) NextTID() uint16 {
	return uint16(atomic.AddUint32(&s.tidCounter, 1))
}

// ReceivedLines returns the queue of EVENT 21/EVENT 02/ERXUDP lines
// the receiver task forwards, for the transaction core to drain.
func (s *Session) ReceivedLines() chan string { return s.receivedQueue }

func (s *Session) setEstablished(v bool) {
	s.establishedMu.Lock()
	s.established = v
	s.establishedMu.Unlock()
}

func (s *Session) isEstablished() bool {
	s.establishedMu.Lock()
	defer s.establishedMu.Unlock()
	return s.established
}

func (s *Session) recordFatal(err error) {
	s.fatalMu.Lock()
	s.fatal = err
	s.fatalMu.Unlock()
}

func (s *Session) fatalError() error {
	s.fatalMu.Lock()
	defer s.fatalMu.Unlock()
	return s.fatal
}

// Send transmits payload, retrying up to xmitSendRetries times. Each
// attempt waits for the transmit gate to open (bounded by
// lockAcquireBound, polled lockAcquireTries times) before issuing
// SKSENDTO.
func (s *Session) Send(payload []byte) error {
	var lastErr error
	for attempt := 0; attempt < xmitSendRetries; attempt++ {
		if err := s.acquireGate(); err != nil {
			lastErr = err
			time.Sleep(xmitSendPause)
			continue
		}
		if !s.isEstablished() {
			panic(rberrors.Invariant("send attempted while session is not established"))
		}
		if err := s.radio.SendTo(s.meterAddr, payload); err != nil {
			lastErr = err
			time.Sleep(xmitSendPause)
			continue
		}
		return nil
	}
	return rberrors.NeedToReopen("exhausted transmit retries", lastErr)
}

func (s *Session) acquireGate() error {
	for i := 0; i < lockAcquireTries; i++ {
		if s.gate.tryAcquire() {
			return nil
		}
		if err := s.fatalError(); err != nil {
			return rberrors.NeedToReopen("transmit gate is blocked and the receiver reported a fatal error", err)
		}
		time.Sleep(lockPollInterval)
	}
	return rberrors.NewTimeout("acquire transmit gate")
}

// Close tears the session down: terminates the PANA session if
// established, stops the receiver task, unregisters from the
// publisher, force-opens the transmit gate, and releases the serial
// port. It is idempotent and best-effort: every step is attempted
// even if an earlier one failed.
func (s *Session) Close() error {
	var firstErr error
	s.closeOnce.Do(func() {
		firstErr = s.close()
	})
	return firstErr
}

func (s *Session) close() error {
	var firstErr error
	record := func(err error) {
		if err != nil {
			s.log.Printf("session: close: %v", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	if s.radio != nil {
		if !s.acquireRejoinLockBounded() {
			s.log.Printf("session: close: rejoin-lock acquisition timed out, proceeding anyway")
		} else {
			defer s.rejoinLock.Unlock()
		}
		if s.isEstablished() {
			s.setEstablished(false)
			record(s.radio.Terminate())
		}
	}

	if s.eventQueue != nil {
		s.eventQueue <- closeSentinel
		<-s.receiverDone
	}
	if s.publisher != nil {
		s.publisher.Unsubscribe(sessionQueueName)
	}

	s.gate.unrestrict(true)

	if s.publisher != nil {
		s.publisher.Stop()
	}
	if s.port != nil {
		record(s.port.Close())
	}
	return firstErr
}

func (s *Session) acquireRejoinLockBounded() bool {
	done := make(chan struct{})
	go func() {
		s.rejoinLock.Lock()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(rejoinLockBound):
		return false
	}
}

func (s *Session) receiverLoop() {
	defer close(s.receiverDone)
	for line := range s.eventQueue {
		if line == closeSentinel {
			return
		}
		s.handleLine(line)
	}
}

func (s *Session) handleLine(line string) {
	switch {
	case strings.HasPrefix(line, "EVENT 29"):
		s.gate.restrict()
	case strings.HasPrefix(line, "EVENT 24"):
		s.handleRejoinFailure()
	case strings.HasPrefix(line, "EVENT 25"):
		s.setEstablished(true)
		s.gate.unrestrict(false)
	case strings.HasPrefix(line, "EVENT 32"):
		s.gate.restrict()
	case strings.HasPrefix(line, "EVENT 33"):
		s.gate.unrestrict(false)
	case strings.HasPrefix(line, "EVENT 27"):
		s.gate.restrict()
	case strings.HasPrefix(line, "EVENT 28"):
		s.log.Printf("session: EVENT 28 (no session existed)")
		s.gate.restrict()
	case strings.HasPrefix(line, "EVENT 21"), strings.HasPrefix(line, "EVENT 02"), strings.HasPrefix(line, "ERXUDP"):
		s.receivedQueue <- line
	default:
	}
}

func (s *Session) handleRejoinFailure() {
	s.rejoinLock.Lock()
	defer s.rejoinLock.Unlock()
	if !s.isEstablished() {
		return
	}
	s.setEstablished(false)
	if err := s.radio.Join(s.meterAddr); err != nil {
		s.recordFatal(rberrors.NeedToReopen("automatic rejoin failed", err))
		return
	}
	s.setEstablished(true)
	s.gate.unrestrict(false)
}

// primeScaling reads the coefficient (0xD3) and unit (0xE1) registers
// during open. Coefficient is the one optional property here: a
// ResponseNotPossible refusal defaults it to 1. Any other coefficient
// failure, and any unit failure at all, propagates and fails open().
func (s *Session) primeScaling() error {
	coefficient := uint32(1)
	props, err := s.primeRequest(echonetlite.EPCCoefficientForCumulativeEnergy)
	switch {
	case err == nil:
		coefficient = echonetlite.ParseCoefficientForCumulativeEnergy(props[0].EDT)
	case errors.Is(err, rberrors.ErrResponseNotPossible):
		s.log.Printf("session: meter refused coefficient property, defaulting to 1: %v", err)
	default:
		return err
	}

	props, err = s.primeRequest(echonetlite.EPCUnitForCumulativeEnergy)
	if err != nil {
		return err
	}
	unit, err := echonetlite.ParseUnitForCumulativeEnergy(props[0].EDT)
	if err != nil {
		return err
	}

	s.scalingMu.Lock()
	s.scaling = echonetlite.Scaling{Coefficient: coefficient, Unit: unit}
	s.scalingMu.Unlock()
	return nil
}

// primeRequest performs one bounded Get round trip for a single EPC,
// used only during open() before a transaction core exists. Later
// public-API requests go through the transaction core instead.
func (s *Session) primeRequest(epc byte) ([]echonetlite.Property, error) {
	reqProps := []echonetlite.Property{{EPC: epc}}
	var lastErr error
	for attempt := 0; attempt < primeRetries; attempt++ {
		tid := s.NextTID()
		payload := echonetlite.Build(tid, echonetlite.ESVGet, reqProps)
		if err := s.Send(payload); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(primeRecvTimeout)
		for time.Now().Before(deadline) {
			remaining := time.Until(deadline)
			var line string
			select {
			case line = <-s.receivedQueue:
			case <-time.After(remaining):
				lastErr = rberrors.NewTimeout("prime " + fmt.Sprintf("0x%02X", epc))
				goto nextAttempt
			}
			if !strings.HasPrefix(line, "ERXUDP") {
				continue
			}
			udp, everr := wisun.ParseERXUDP(line)
			if everr != nil {
				continue
			}
			if udp.SrcPort != 0x0E1A || udp.DstPort != 0x0E1A || udp.Side != 0 || udp.SrcAddr != s.meterAddr {
				continue
			}
			props, perr := echonetlite.Parse(udp.Data, tid, reqProps)
			if perr != nil {
				if errors.Is(perr, rberrors.ErrResponseNotPossible) {
					return nil, perr
				}
				continue
			}
			return props, nil
		}
	nextAttempt:
	}
	return nil, rberrors.NeedToReopen("exhausted priming retries", lastErr)
}
