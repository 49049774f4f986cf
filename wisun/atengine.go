package wisun

import (
	"strconv"
	"strings"
	"time"

	"kuramo.ch/rbmeter/rberrors"
)

// commandQueueName is the subscriber name the command engine
// registers with the publisher under.
const commandQueueName = "command"

// Engine serialises command execution over a Publisher: it writes
// one command at a time and consumes lines from its own subscriber
// queue until a terminator line or a FAIL ER line appears.
type Engine struct {
	port  *Port
	lines chan string
}

// NewEngine subscribes a command queue to pub and returns an Engine
// that writes through port.
func NewEngine(pub *Publisher, port *Port) *Engine {
	return &Engine{port: port, lines: pub.Subscribe(commandQueueName, 64)}
}

// Exec writes command_tokens joined by single spaces (or, if payload
// is non-nil, the joined tokens plus a space plus the raw payload
// bytes with no terminator), then reads lines until one starts with
// any of waitUntil or a FAIL ER line appears. ERXUDP lines are
// skipped transparently; they belong to the session manager.
func (e *Engine) Exec(tokens []string, waitUntil []string, timeout time.Duration, payload []byte) ([]string, error) {
	e.drain()

	cmd := strings.Join(tokens, " ")
	if payload != nil {
		if err := e.port.WriteBytes(append([]byte(cmd+" "), payload...)); err != nil {
			return nil, err
		}
	} else {
		if err := e.port.WriteBytes([]byte(cmd + "\r\n")); err != nil {
			return nil, err
		}
	}

	deadline := time.Now().Add(timeout)
	var lines []string
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, rberrors.NewTimeout(cmd)
		}
		var line string
		select {
		case line = <-e.lines:
		case <-time.After(remaining):
			return nil, rberrors.NewTimeout(cmd)
		}
		if strings.HasPrefix(line, "ERXUDP") {
			continue
		}
		lines = append(lines, line)
		if strings.HasPrefix(line, "FAIL ER") {
			code, convErr := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, "FAIL ER")))
			if convErr != nil {
				return nil, rberrors.Invariant("malformed FAIL ER line: " + line)
			}
			return nil, rberrors.NewSkCommandError(cmd, code)
		}
		for _, prefix := range waitUntil {
			if strings.HasPrefix(line, prefix) {
				return lines, nil
			}
		}
	}
}

func (e *Engine) drain() {
	for {
		select {
		case <-e.lines:
		default:
			return
		}
	}
}
