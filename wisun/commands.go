package wisun

import (
	"fmt"
	"math"
	"strings"
	"time"

	"kuramo.ch/rbmeter/rberrors"
)

const (
	defaultCommandTimeout = 2 * time.Second
	joinCommandTimeout    = 30 * time.Second
	sendCommandTimeout    = 5 * time.Second
	scanCommandMargin     = 5 * time.Second

	scanRetries = 3
	joinRetries = 3

	initialScanDuration = 6

	udpPort = 0x0E1A
)

// Radio is the set of high-level SKxxx commands built on an Engine.
type Radio struct {
	engine *Engine
}

// NewRadio builds a Radio that issues commands through engine.
func NewRadio(engine *Engine) *Radio { return &Radio{engine: engine} }

// Reset soft-resets the module.
func (r *Radio) Reset() error {
	_, err := r.engine.Exec([]string{"SKRESET"}, []string{"OK"}, defaultCommandTimeout, nil)
	return err
}

// SetRegister writes a register, formatting val as uppercase hex without "0x".
func (r *Radio) SetRegister(reg string, val uint32) error {
	_, err := r.engine.Exec([]string{"SKSREG", reg, fmt.Sprintf("%X", val)}, []string{"OK"}, defaultCommandTimeout, nil)
	return err
}

// SetRouteBID registers the 32-hex-char Route-B ID.
func (r *Radio) SetRouteBID(id string) error {
	_, err := r.engine.Exec([]string{"SKSETRBID", id}, []string{"OK"}, defaultCommandTimeout, nil)
	return err
}

// SetPassword registers the Route-B password.
func (r *Radio) SetPassword(pwd string) error {
	_, err := r.engine.Exec(
		[]string{"SKSETPWD", fmt.Sprintf("%X", len(pwd)), pwd}, []string{"OK"}, defaultCommandTimeout, nil)
	return err
}

// estimatedScanDuration returns the module's own estimate of how long
// an active scan with the given duration parameter will take, plus
// scanCommandMargin.
func estimatedScanDuration(duration int) time.Duration {
	secs := 0.0096 * (math.Pow(2, float64(duration)) + 1) * 28
	return time.Duration(secs*float64(time.Second)) + scanCommandMargin
}

// Scan runs an active SKSCAN, retrying up to scanRetries times with
// an incrementing duration parameter, until a PAN is found.
func (r *Radio) Scan() (*ScanResult, error) {
	duration := initialScanDuration
	var lastErr error
	for attempt := 0; attempt < scanRetries; attempt++ {
		lines, err := r.engine.Exec(
			[]string{"SKSCAN", "2", "FFFFFFFF", fmt.Sprintf("%d", duration), "0"},
			[]string{"EVENT 22"}, estimatedScanDuration(duration), nil)
		if err != nil {
			lastErr = err
			duration++
			continue
		}
		result, perr := ParseScan(lines)
		if perr == nil {
			return result, nil
		}
		lastErr = perr
		duration++
	}
	return nil, rberrors.ScanFailure(fmt.Sprintf("exhausted %d scan attempts: %v", scanRetries, lastErr))
}

// TranslateMAC converts a MAC address to its link-local IPv6 form via SKLL64.
func (r *Radio) TranslateMAC(mac string) (string, error) {
	lines, err := r.engine.Exec([]string{"SKLL64", mac}, []string{"FE80:"}, defaultCommandTimeout, nil)
	if err != nil {
		return "", err
	}
	return ParseLL64(lines)
}

// Join establishes a PANA session with the meter at addr, retrying up
// to joinRetries times.
func (r *Radio) Join(addr string) error {
	var lastErr error
	for attempt := 0; attempt < joinRetries; attempt++ {
		lines, err := r.engine.Exec([]string{"SKJOIN", addr}, []string{"EVENT 24", "EVENT 25"}, joinCommandTimeout, nil)
		if err != nil {
			lastErr = err
			continue
		}
		if strings.HasPrefix(lines[len(lines)-1], "EVENT 25") {
			return nil
		}
		lastErr = rberrors.Invariant("SKJOIN reported EVENT 24")
	}
	return rberrors.JoinFailure(fmt.Sprintf("exhausted %d join attempts: %v", joinRetries, lastErr))
}

// Terminate ends the PANA session via SKTERM.
func (r *Radio) Terminate() error {
	_, err := r.engine.Exec([]string{"SKTERM"}, []string{"EVENT 27", "EVENT 28"}, defaultCommandTimeout, nil)
	return err
}

// SendTo transmits payload to addr on the fixed Route-B UDP port.
func (r *Radio) SendTo(addr string, payload []byte) error {
	tokens := []string{"SKSENDTO", "1", addr, fmt.Sprintf("%04X", udpPort), "2", "0", fmt.Sprintf("%04X", len(payload))}
	_, err := r.engine.Exec(tokens, []string{"OK"}, sendCommandTimeout, payload)
	return err
}

// Version reads the module's Wi-SUN stack version via SKVER.
func (r *Radio) Version() (string, error) {
	lines, err := r.engine.Exec([]string{"SKVER"}, []string{"OK"}, defaultCommandTimeout, nil)
	if err != nil {
		return "", err
	}
	return ParseVersion(lines)
}

// AppVersion reads the module's application version via SKAPPVER.
func (r *Radio) AppVersion() (string, error) {
	lines, err := r.engine.Exec([]string{"SKAPPVER"}, []string{"OK"}, defaultCommandTimeout, nil)
	if err != nil {
		return "", err
	}
	return ParseAppVersion(lines)
}

// Info reads the module's current configuration via SKINFO.
func (r *Radio) Info() (*InfoResult, error) {
	lines, err := r.engine.Exec([]string{"SKINFO"}, []string{"OK"}, defaultCommandTimeout, nil)
	if err != nil {
		return nil, err
	}
	return ParseInfo(lines)
}
