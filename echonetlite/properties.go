package echonetlite

import (
	"fmt"
	"time"

	"kuramo.ch/rbmeter/rberrors"
)

// EPC is an ECHONET Lite property code for the low-voltage smart
// electric energy meter class (0x0288xx).
type EPC byte

const (
	EPCOperationStatus                  EPC = 0x80
	EPCInstallationLocation             EPC = 0x81
	EPCStandardVersionInformation       EPC = 0x82
	EPCFaultStatus                      EPC = 0x88
	EPCManufacturerCode                 EPC = 0x8A
	EPCSerialNumber                     EPC = 0x8D
	EPCCurrentTimeSetting               EPC = 0x97
	EPCCurrentDateSetting               EPC = 0x98
	EPCPropertiesForStatusNotification  EPC = 0x9D
	EPCPropertiesToSetValues            EPC = 0x9E
	EPCPropertiesToGetValues            EPC = 0x9F
	EPCRouteBID                         EPC = 0xC0
	EPCOneMinuteCumulativeEnergy        EPC = 0xD0
	EPCCoefficientForCumulativeEnergy   EPC = 0xD3
	EPCEffectiveDigitsForCumEnergy      EPC = 0xD7
	EPCCumulativeEnergy                 EPC = 0xE0
	EPCUnitForCumulativeEnergy          EPC = 0xE1
	EPCHistoricalCumulativeEnergy1      EPC = 0xE2
	EPCCumulativeEnergyReversed         EPC = 0xE3
	EPCHistoricalCumulativeEnergy1Rev   EPC = 0xE4
	EPCDayForHistoricalData1            EPC = 0xE5
	EPCInstantaneousPower               EPC = 0xE7
	EPCInstantaneousCurrent             EPC = 0xE8
	EPCCumulativeEnergyAtFixedTime      EPC = 0xEA
	EPCCumulativeEnergyAtFixedTimeRev   EPC = 0xEB
	EPCHistoricalCumulativeEnergy2      EPC = 0xEC
	EPCTimeForHistoricalData2           EPC = 0xED
	EPCHistoricalCumulativeEnergy3      EPC = 0xEE
	EPCTimeForHistoricalData3           EPC = 0xEF
)

// Scaling is the per-session state that converts a raw cumulative
// energy register into kWh: effective scale = Coefficient * Unit.
type Scaling struct {
	Coefficient uint32
	Unit        float64
}

// TimeOfDay is the meter's current-time-setting property (EPC 0x97).
type TimeOfDay struct {
	Hour   uint8
	Minute uint8
}

// CalendarDate is the meter's current-date-setting property (EPC 0x98).
type CalendarDate struct {
	Year  uint16
	Month uint8
	Day   uint8
}

// RouteBID is the decoded Route-B identifier property (EPC 0xC0).
type RouteBID struct {
	ManufacturerCode [3]byte
	AuthenticationID []byte
}

// CurrentPair is the R-phase/T-phase instantaneous current (EPC 0xE8), in amperes.
type CurrentPair struct {
	RPhase float64
	TPhase float64
}

// TimestampedEnergy pairs a cumulative energy reading with its
// timestamp. Normal/Reverse are nil when the register reported the
// "no data" sentinel (0xFFFFFFFE).
type TimestampedEnergy struct {
	Timestamp time.Time
	Normal    *float64
	Reverse   *float64
}

// FixedTimeEnergy is the cumulative-energy-measured-at-fixed-time property (EPC 0xEA/0xEB).
type FixedTimeEnergy struct {
	Timestamp time.Time
	Value     float64
}

// HistoryPoint is one sample of the 48-point half-hour history (EPC 0xE2/0xE4).
type HistoryPoint struct {
	Timestamp time.Time
	Value     *float64
}

// HistoryTimeInfo is the anchor/point-count for history-2/history-3 (EPC 0xED/0xEF).
type HistoryTimeInfo struct {
	Timestamp *time.Time // nil when the meter reported year 0xFFFF
	NumPoints uint8
}

// --- property map decoding -------------------------------------------------

// ParsePropertyMap decodes a property-map property (EPC 0x9D/0x9E/0x9F).
//
// If the leading count byte m is < 16, the remaining m bytes list the
// EPCs directly. Otherwise the following 16 bytes are a bitmap: for
// row i in [0,16) and bit j in [0,8), a set bit denotes EPC
// ((j+8)<<4)|i.
func ParsePropertyMap(edt []byte) map[byte]struct{} {
	m := int(edt[0])
	rest := edt[1:]
	props := make(map[byte]struct{})
	if m < 16 {
		for _, epc := range rest {
			props[epc] = struct{}{}
		}
		return props
	}
	for i := 0; i < len(rest) && i < 16; i++ {
		b := rest[i]
		for j := 0; j < 8; j++ {
			if b&(1<<uint(j)) != 0 {
				epc := byte(((j + 8) << 4) | i)
				props[epc] = struct{}{}
			}
		}
	}
	return props
}

// --- installation location --------------------------------------------------

var installationLocationNames = map[byte]string{
	1: "living room", 2: "dining room", 3: "kitchen", 4: "bathroom",
	5: "toilet", 6: "washroom", 7: "hallway", 8: "room", 9: "stairs",
	10: "entrance", 11: "storage room", 12: "garden/perimeter",
	13: "garage", 14: "veranda", 15: "other",
}

// ParseInstallationLocation decodes EPC 0x81.
func ParseInstallationLocation(edt []byte) string {
	code := edt[0]
	switch {
	case code == 0x00:
		return "location not set"
	case code == 0x01:
		return fmt.Sprintf("location information: %x", edt[1:])
	case code >= 0x02 && code <= 0x07:
		return "not implemented"
	case code >= 0x08 && code <= 0x7F:
		name := installationLocationNames[code>>3]
		return fmt.Sprintf("%s %d", name, code&0x07)
	case code >= 0x80 && code <= 0xFE:
		return "not implemented"
	case code == 0xFF:
		return "location not fixed"
	default:
		return "unknown"
	}
}

// --- simple scalar parsers ---------------------------------------------------

// ParseOperationStatus decodes EPC 0x80. Returns nil when the status byte is unrecognized.
func ParseOperationStatus(edt []byte) *bool {
	t, f := true, false
	switch edt[0] {
	case 0x30:
		return &t
	case 0x31:
		return &f
	default:
		return nil
	}
}

// ParseFaultStatus decodes EPC 0x88. Returns nil when the status byte is unrecognized.
func ParseFaultStatus(edt []byte) *bool {
	t, f := true, false
	switch edt[0] {
	case 0x41:
		return &t
	case 0x42:
		return &f
	default:
		return nil
	}
}

// ParseStandardVersionInformation decodes EPC 0x82.
func ParseStandardVersionInformation(edt []byte) string {
	version := ""
	if edt[0] > 0 {
		version += string(rune(edt[0]))
	}
	if edt[1] > 0 {
		version += string(rune(edt[1]))
	}
	return fmt.Sprintf("%s%c.%d", version, edt[2], edt[3])
}

// ParseManufacturerCode decodes EPC 0x8A: the raw 3-byte code.
func ParseManufacturerCode(edt []byte) []byte { return append([]byte(nil), edt...) }

// ParseSerialNumber decodes EPC 0x8D: ASCII serial number.
func ParseSerialNumber(edt []byte) string { return string(edt) }

// ParseCurrentTimeSetting decodes EPC 0x97.
func ParseCurrentTimeSetting(edt []byte) TimeOfDay {
	return TimeOfDay{Hour: edt[0], Minute: edt[1]}
}

// ParseCurrentDateSetting decodes EPC 0x98.
func ParseCurrentDateSetting(edt []byte) CalendarDate {
	return CalendarDate{Year: uint16(edt[0])<<8 | uint16(edt[1]), Month: edt[2], Day: edt[3]}
}

// ParseRouteBID decodes EPC 0xC0.
func ParseRouteBID(edt []byte) RouteBID {
	var rb RouteBID
	copy(rb.ManufacturerCode[:], edt[1:4])
	rb.AuthenticationID = append([]byte(nil), edt[4:]...)
	return rb
}

// ParseCoefficientForCumulativeEnergy decodes EPC 0xD3.
func ParseCoefficientForCumulativeEnergy(edt []byte) uint32 { return beUint32(edt) }

// ParseEffectiveDigitsForCumulativeEnergy decodes EPC 0xD7.
func ParseEffectiveDigitsForCumulativeEnergy(edt []byte) uint8 { return edt[0] }

// ParseDayForHistoricalData1 decodes EPC 0xE5.
func ParseDayForHistoricalData1(edt []byte) uint8 { return edt[0] }

// ParseInstantaneousPower decodes EPC 0xE7, in watts.
func ParseInstantaneousPower(edt []byte) int32 { return int32(beUint32(edt)) }

// ParseInstantaneousCurrent decodes EPC 0xE8, in amperes.
func ParseInstantaneousCurrent(edt []byte) CurrentPair {
	r := int16(uint16(edt[0])<<8 | uint16(edt[1]))
	t := int16(uint16(edt[2])<<8 | uint16(edt[3]))
	return CurrentPair{RPhase: float64(r) * 0.1, TPhase: float64(t) * 0.1}
}

// unitTable maps the EPC 0xE1 unit code to a multiplier.
var unitTable = map[byte]float64{
	0x00: 1, 0x01: 0.1, 0x02: 0.01, 0x03: 0.001, 0x04: 0.0001,
	0x0A: 10, 0x0B: 100, 0x0C: 1000, 0x0D: 10000,
}

// ParseUnitForCumulativeEnergy decodes EPC 0xE1.
func ParseUnitForCumulativeEnergy(edt []byte) (float64, error) {
	unit, ok := unitTable[edt[0]]
	if !ok {
		return 0, rberrors.Invariant(fmt.Sprintf("obtained unit for cumulative energy (%02X) is not defined", edt[0]))
	}
	return unit, nil
}

// --- scaled cumulative-energy parsers ----------------------------------------

const energyNoData = 0xFFFFFFFE

func scaledEnergyOrNil(raw uint32, scale float64) *float64 {
	if raw == energyNoData {
		return nil
	}
	v := float64(raw) * scale
	return &v
}

// ParseCumulativeEnergy decodes EPC 0xE0/0xE3, in effective-scale units.
func ParseCumulativeEnergy(edt []byte, s Scaling) float64 {
	return float64(beUint32(edt)) * float64(s.Coefficient) * s.Unit
}

// ParseOneMinuteCumulativeEnergy decodes EPC 0xD0.
func ParseOneMinuteCumulativeEnergy(edt []byte, s Scaling) TimestampedEnergy {
	scale := float64(s.Coefficient) * s.Unit
	ts := time.Date(int(uint16(edt[0])<<8|uint16(edt[1])), time.Month(edt[2]), int(edt[3]), int(edt[4]), int(edt[5]), int(edt[6]), 0, time.Local)
	return TimestampedEnergy{
		Timestamp: ts,
		Normal:    scaledEnergyOrNil(beUint32(edt[7:11]), scale),
		Reverse:   scaledEnergyOrNil(beUint32(edt[11:15]), scale),
	}
}

// ParseCumulativeEnergyAtFixedTime decodes EPC 0xEA/0xEB.
func ParseCumulativeEnergyAtFixedTime(edt []byte, s Scaling) FixedTimeEnergy {
	ts := time.Date(int(uint16(edt[0])<<8|uint16(edt[1])), time.Month(edt[2]), int(edt[3]), int(edt[4]), int(edt[5]), int(edt[6]), 0, time.Local)
	return FixedTimeEnergy{Timestamp: ts, Value: float64(beUint32(edt[7:])) * float64(s.Coefficient) * s.Unit}
}

// ParseHistoricalCumulativeEnergy1 decodes EPC 0xE2/0xE4: 48 half-hour
// samples anchored at today minus the day offset encoded in the first
// two bytes, stepping forward 30 minutes per sample.
func ParseHistoricalCumulativeEnergy1(edt []byte, s Scaling) []HistoryPoint {
	scale := float64(s.Coefficient) * s.Unit
	day := int(uint16(edt[0])<<8 | uint16(edt[1]))
	now := time.Now()
	ts := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.Local).AddDate(0, 0, -day)
	points := make([]HistoryPoint, 0, 48)
	data := edt[2:]
	for i := 0; i < 48; i++ {
		raw := beUint32(data[i*4 : i*4+4])
		points = append(points, HistoryPoint{Timestamp: ts, Value: scaledEnergyOrNil(raw, scale)})
		ts = ts.Add(30 * time.Minute)
	}
	return points
}

// HistoryPoint2 is one sample of the history-2/history-3 properties,
// which carry both directions per sample.
type HistoryPoint2 struct {
	Timestamp time.Time
	Normal    *float64
	Reverse   *float64
}

func parseDirectionalHistory(edt []byte, s Scaling, step time.Duration) []HistoryPoint2 {
	scale := float64(s.Coefficient) * s.Unit
	year := int(uint16(edt[0])<<8 | uint16(edt[1]))
	numPoints := int(edt[6])
	ts := time.Date(year, time.Month(edt[2]), int(edt[3]), int(edt[4]), int(edt[5]), 0, 0, time.Local)
	data := edt[7:]
	points := make([]HistoryPoint2, 0, numPoints)
	for i := 0; i < numPoints; i++ {
		j := i * 8
		points = append(points, HistoryPoint2{
			Timestamp: ts,
			Normal:    scaledEnergyOrNil(beUint32(data[j:j+4]), scale),
			Reverse:   scaledEnergyOrNil(beUint32(data[j+4:j+8]), scale),
		})
		ts = ts.Add(step)
	}
	return points
}

// ParseHistoricalCumulativeEnergy2 decodes EPC 0xEC: newest-first half-hour samples.
func ParseHistoricalCumulativeEnergy2(edt []byte, s Scaling) []HistoryPoint2 {
	return parseDirectionalHistory(edt, s, -30*time.Minute)
}

// ParseHistoricalCumulativeEnergy3 decodes EPC 0xEE: newest-first one-minute samples.
func ParseHistoricalCumulativeEnergy3(edt []byte, s Scaling) []HistoryPoint2 {
	return parseDirectionalHistory(edt, s, -1*time.Minute)
}

func parseHistoryTimeInfo(edt []byte) HistoryTimeInfo {
	year := int(uint16(edt[0])<<8 | uint16(edt[1]))
	info := HistoryTimeInfo{NumPoints: edt[6]}
	if year != 0xFFFF {
		ts := time.Date(year, time.Month(edt[2]), int(edt[3]), int(edt[4]), int(edt[5]), 0, 0, time.Local)
		info.Timestamp = &ts
	}
	return info
}

// ParseTimeForHistoricalData2 decodes EPC 0xED.
func ParseTimeForHistoricalData2(edt []byte) HistoryTimeInfo { return parseHistoryTimeInfo(edt) }

// ParseTimeForHistoricalData3 decodes EPC 0xEF.
func ParseTimeForHistoricalData3(edt []byte) HistoryTimeInfo { return parseHistoryTimeInfo(edt) }

// --- set-EDATA builders -------------------------------------------------------

// BuildDayForHistoricalData1 builds the EDT to set EPC 0xE5. day must be in [0, 99].
func BuildDayForHistoricalData1(day int) ([]byte, error) {
	if day < 0 || day > 99 {
		return nil, rberrors.Value(`the parameter "day" must be between 0 and 99`)
	}
	return []byte{byte(day)}, nil
}

// BuildTimeForHistoricalData2 builds the EDT to set EPC 0xED. The
// minute is snapped to 0 or 30. numPoints must be in [1, 12].
func BuildTimeForHistoricalData2(timestamp time.Time, numPoints int) ([]byte, error) {
	if numPoints < 1 || numPoints > 12 {
		return nil, rberrors.Value(`the parameter "num_of_data_points" must be between 1 and 12`)
	}
	if timestamp.Year() < 1 || timestamp.Year() > 9999 {
		return nil, rberrors.Value(`the year specified by the parameter "timestamp" must be between 1 and 9999`)
	}
	minute := 0
	if timestamp.Minute() >= 30 {
		minute = 30
	}
	return buildHistoryTimeEDT(timestamp, minute, numPoints), nil
}

// BuildTimeForHistoricalData3 builds the EDT to set EPC 0xEF. The
// minute is used verbatim. numPoints must be in [1, 10].
func BuildTimeForHistoricalData3(timestamp time.Time, numPoints int) ([]byte, error) {
	if numPoints < 1 || numPoints > 10 {
		return nil, rberrors.Value(`the parameter "num_of_data_points" must be between 1 and 10`)
	}
	if timestamp.Year() < 1 || timestamp.Year() > 9999 {
		return nil, rberrors.Value(`the year specified by the parameter "timestamp" must be between 1 and 9999`)
	}
	return buildHistoryTimeEDT(timestamp, timestamp.Minute(), numPoints), nil
}

func buildHistoryTimeEDT(ts time.Time, minute, numPoints int) []byte {
	return []byte{
		byte(ts.Year() >> 8), byte(ts.Year()),
		byte(ts.Month()), byte(ts.Day()), byte(ts.Hour()), byte(minute), byte(numPoints),
	}
}

func beUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
