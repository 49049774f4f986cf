// Package rbmeter is a Route-B smart electric energy meter client: it
// drives a Wi-SUN radio module over a serial line, keeps a PANA
// session open against one meter, and exposes typed getters/setters
// for the meter's ECHONET Lite properties.
//
// Adapted from the teacher's echonetlite request/response round trip
// in main.go's sendAndReceiveEchonetLiteFrame, generalized from one UDP
// socket exchange into a retrying transaction against the session
// manager's received-line queue.
package rbmeter

import (
	"errors"
	"log"
	"time"

	"kuramo.ch/rbmeter/echonetlite"
	"kuramo.ch/rbmeter/rberrors"
	"kuramo.ch/rbmeter/session"
	"kuramo.ch/rbmeter/wisun"
)

// Defaults for TransactionConfig, matching spec.md §6's configuration
// inputs.
const (
	DefaultXmitRetries = 12
	DefaultRecvTimeout = 12 * time.Second
)

// TransactionConfig holds the transaction core's own retry/timeout
// knobs, distinct from the session manager's send-path retries.
type TransactionConfig struct {
	XmitRetries          int
	RecvTimeout          time.Duration
	InternalXmitInterval time.Duration
}

// DefaultTransactionConfig returns the spec.md §6 defaults, with
// InternalXmitInterval inherited from the session it will run against.
func DefaultTransactionConfig(internalXmitInterval time.Duration) TransactionConfig {
	return TransactionConfig{
		XmitRetries:          DefaultXmitRetries,
		RecvTimeout:          DefaultRecvTimeout,
		InternalXmitInterval: internalXmitInterval,
	}
}

// transaction runs one request/response round trip against an open
// session, with its own transmit-retry loop layered over the
// session's send-path retries.
type transaction struct {
	sess *session.Session
	log  *log.Logger
	cfg  TransactionConfig
}

func newTransaction(sess *session.Session, logger *log.Logger, cfg TransactionConfig) *transaction {
	return &transaction{sess: sess, log: logger, cfg: cfg}
}

// request sends one ECHONET Lite frame built from esv and properties
// and waits for the matching response, retrying the full send up to
// xmitRetries times. Foreign or malformed traffic is discarded as
// noise; only ResponseNotPossible and terminal conditions escape.
func (t *transaction) request(esv echonetlite.ESV, properties []echonetlite.Property) ([]echonetlite.Property, error) {
	tid := t.sess.NextTID()
	payload := echonetlite.Build(tid, esv, properties)
	drainReceivedLines(t.sess.ReceivedLines())

	var lastErr error
	for attempt := 0; attempt < t.cfg.XmitRetries; attempt++ {
		if err := t.sess.Send(payload); err != nil {
			return nil, err
		}

		props, retry, err := t.awaitResponse(tid, properties)
		if err != nil {
			return nil, err
		}
		if !retry {
			return props, nil
		}
		lastErr = rberrors.NewTimeout("await response")
	}
	return nil, rberrors.NeedToReopen("exhausted transmit retries", lastErr)
}

// awaitResponse drains the session's received-line queue for at most
// recvTimeout of inactivity, classifying each line. It returns
// (props, false, nil) on a matching response, (nil, true, nil) when
// the inner loop should give up and let request retransmit, or a
// non-nil error for a terminal condition.
func (t *transaction) awaitResponse(tid uint16, properties []echonetlite.Property) ([]echonetlite.Property, bool, error) {
	for {
		var line string
		select {
		case line = <-t.sess.ReceivedLines():
		case <-time.After(t.cfg.RecvTimeout):
			return nil, true, nil
		}

		switch {
		case hasEventNumber(line, 0x21):
			ev, err := wisun.ParseEvent(line)
			if err != nil {
				continue
			}
			switch ev.Param {
			case "00":
				// Transmit acknowledged; keep waiting for the ECHONET reply.
			case "01":
				t.log.Printf("rbmeter: link-layer retransmit signalled, backing off %s", t.cfg.InternalXmitInterval)
				time.Sleep(t.cfg.InternalXmitInterval)
				return nil, true, nil
			case "02":
				// Neighbor solicitation in progress; keep waiting.
			}
		case hasEventNumber(line, 0x02):
			// Neighbor advertisement received; keep waiting.
		case isERXUDP(line):
			props, done, err := t.handleERXUDP(line, tid, properties)
			if err != nil || done {
				return props, false, err
			}
		}
	}
}

func (t *transaction) handleERXUDP(line string, tid uint16, properties []echonetlite.Property) ([]echonetlite.Property, bool, error) {
	udp, err := wisun.ParseERXUDP(line)
	if err != nil {
		return nil, false, nil
	}
	if udp.SrcPort != 0x0E1A || udp.DstPort != 0x0E1A || udp.Side != 0 || udp.SrcAddr != t.sess.MeterAddr() {
		return nil, false, nil
	}

	props, perr := echonetlite.Parse(udp.Data, tid, properties)
	if perr != nil {
		if isResponseNotPossible(perr) {
			return nil, false, perr
		}
		return nil, false, nil
	}
	return props, true, nil
}

func isResponseNotPossible(err error) bool {
	return errors.Is(err, rberrors.ErrResponseNotPossible)
}

func hasEventNumber(line string, want byte) bool {
	ev, err := wisun.ParseEvent(line)
	return err == nil && ev.Number == want
}

func isERXUDP(line string) bool {
	return len(line) >= 6 && line[:6] == "ERXUDP"
}

func drainReceivedLines(ch chan string) {
	for {
		select {
		case <-ch:
		default:
			return
		}
	}
}
