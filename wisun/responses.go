package wisun

import (
	"encoding/hex"
	"strconv"
	"strings"

	"kuramo.ch/rbmeter/rberrors"
)

// ScanResult is the decoded EPANDESC block from a successful SKSCAN.
type ScanResult struct {
	Channel     byte
	ChannelPage byte
	PanID       uint16
	MAC         string // 16 hex chars
	LQI         byte
	Side        byte
	PairID      string
}

// RSSI derives received signal strength in dBm from LQI.
func (s ScanResult) RSSI() float64 { return RSSIFromLQI(s.LQI) }

// RSSIFromLQI converts a link-quality indicator to an estimated RSSI in dBm.
func RSSIFromLQI(lqi byte) float64 { return 0.275*float64(lqi) - 104.27 }

// InfoResult is the decoded EINFO line: link-local address, MAC,
// channel, PAN ID and side of the currently configured radio.
type InfoResult struct {
	IPv6    string
	MAC     string
	Channel byte
	PanID   uint16
	Side    byte
}

// EventLine is a decoded unsolicited "EVENT NN <addr> <side> [<param>]" line.
type EventLine struct {
	Number byte
	Addr   string
	Side   byte
	Param  string // empty when absent
}

// UDPEvent is a decoded ERXUDP line.
type UDPEvent struct {
	SrcAddr string
	DstAddr string
	SrcPort uint16
	DstPort uint16
	SrcMAC  string
	LQI     byte
	Secure  bool
	Side    byte
	Data    []byte
}

func lastLineWithPrefix(lines []string, prefix string) (string, bool) {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], prefix) {
			return lines[i], true
		}
	}
	return "", false
}

func hexByte(s string) (byte, error) {
	v, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, rberrors.Invariant("not a hex byte: " + s)
	}
	return byte(v), nil
}

func hexUint16(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 16, 16)
	if err != nil {
		return 0, rberrors.Invariant("not a hex uint16: " + s)
	}
	return uint16(v), nil
}

// ParseVersion extracts the Wi-SUN stack version from an SKVER response.
func ParseVersion(lines []string) (string, error) {
	line, ok := lastLineWithPrefix(lines, "EVER ")
	if !ok {
		return "", rberrors.Invariant("no EVER line in response")
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "EVER ")), nil
}

// ParseAppVersion extracts the application version from an SKAPPVER response.
func ParseAppVersion(lines []string) (string, error) {
	line, ok := lastLineWithPrefix(lines, "EAPPVER ")
	if !ok {
		return "", rberrors.Invariant("no EAPPVER line in response")
	}
	return strings.TrimSpace(strings.TrimPrefix(line, "EAPPVER ")), nil
}

// ParseInfo extracts the current radio configuration from an SKINFO response:
// "EINFO <ip6> <mac> <ch> <panid> <side>".
func ParseInfo(lines []string) (*InfoResult, error) {
	line, ok := lastLineWithPrefix(lines, "EINFO ")
	if !ok {
		return nil, rberrors.Invariant("no EINFO line in response")
	}
	fields := strings.Fields(strings.TrimPrefix(line, "EINFO "))
	if len(fields) < 5 {
		return nil, rberrors.Invariant("malformed EINFO line: " + line)
	}
	ch, err := hexByte(fields[2])
	if err != nil {
		return nil, err
	}
	pan, err := hexUint16(fields[3])
	if err != nil {
		return nil, err
	}
	side, err := hexByte(fields[4])
	if err != nil {
		return nil, err
	}
	return &InfoResult{IPv6: fields[0], MAC: fields[1], Channel: ch, PanID: pan, Side: side}, nil
}

// ParseScan extracts the EPANDESC block from an SKSCAN response.
// Returns an error if no block is present -- the caller treats that
// as "no PAN found this attempt" and retries.
func ParseScan(lines []string) (*ScanResult, error) {
	fields := make(map[string]string)
	found := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "EPANDESC" {
			found = true
			continue
		}
		if !found {
			continue
		}
		idx := strings.IndexByte(trimmed, ':')
		if idx < 0 {
			break
		}
		fields[trimmed[:idx]] = strings.TrimSpace(trimmed[idx+1:])
	}
	if !found {
		return nil, rberrors.Invariant("no EPANDESC block in response")
	}

	ch, err := hexByte(fields["Channel"])
	if err != nil {
		return nil, err
	}
	page, err := hexByte(fields["Channel Page"])
	if err != nil {
		return nil, err
	}
	pan, err := hexUint16(fields["Pan ID"])
	if err != nil {
		return nil, err
	}
	lqi, err := hexByte(fields["LQI"])
	if err != nil {
		return nil, err
	}
	side, err := hexByte(fields["Side"])
	if err != nil {
		return nil, err
	}

	return &ScanResult{
		Channel: ch, ChannelPage: page, PanID: pan,
		MAC: fields["Addr"], LQI: lqi, Side: side, PairID: fields["PairID"],
	}, nil
}

// ParseLL64 extracts the link-local IPv6 address from an SKLL64 response.
func ParseLL64(lines []string) (string, error) {
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.HasPrefix(lines[i], "FE80:") {
			return strings.TrimSpace(lines[i]), nil
		}
	}
	return "", rberrors.Invariant("no FE80: line in response")
}

// ParseEvent decodes an unsolicited "EVENT NN <addr> <side> [<param>]" line.
func ParseEvent(line string) (*EventLine, error) {
	fields := strings.Fields(line)
	if len(fields) < 4 || fields[0] != "EVENT" {
		return nil, rberrors.Invariant("malformed EVENT line: " + line)
	}
	num, err := hexByte(fields[1])
	if err != nil {
		return nil, err
	}
	side, err := hexByte(fields[3])
	if err != nil {
		return nil, err
	}
	ev := &EventLine{Number: num, Addr: fields[2], Side: side}
	if len(fields) > 4 {
		ev.Param = fields[4]
	}
	return ev, nil
}

// ParseERXUDP decodes an unsolicited
// "ERXUDP <src> <dst> <sport4> <dport4> <srcmac> <lqi> <sec> <side> <len4> <hex-payload>" line.
func ParseERXUDP(line string) (*UDPEvent, error) {
	fields := strings.Fields(line)
	if len(fields) < 11 || fields[0] != "ERXUDP" {
		return nil, rberrors.Invariant("malformed ERXUDP line: " + line)
	}
	sport, err := hexUint16(fields[3])
	if err != nil {
		return nil, err
	}
	dport, err := hexUint16(fields[4])
	if err != nil {
		return nil, err
	}
	lqi, err := hexByte(fields[6])
	if err != nil {
		return nil, err
	}
	side, err := hexByte(fields[8])
	if err != nil {
		return nil, err
	}
	data, err := hex.DecodeString(fields[10])
	if err != nil {
		return nil, rberrors.Invariant("malformed ERXUDP payload: " + line)
	}
	return &UDPEvent{
		SrcAddr: fields[1], DstAddr: fields[2],
		SrcPort: sport, DstPort: dport,
		SrcMAC: fields[5], LQI: lqi,
		Secure: fields[7] == "1", Side: side,
		Data: data,
	}, nil
}
