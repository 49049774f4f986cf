package rbmeter

import (
	"fmt"

	"kuramo.ch/rbmeter/echonetlite"
	"kuramo.ch/rbmeter/rberrors"
)

// ValueKind tags which field of ParsedValue is populated.
type ValueKind int

const (
	KindBool ValueKind = iota
	KindString
	KindBytes
	KindUint8
	KindUint32
	KindInt32
	KindFloat64
	KindTimeOfDay
	KindCalendarDate
	KindRouteBID
	KindCurrentPair
	KindPropertyMap
	KindTimestampedEnergy
	KindFixedTimeEnergy
	KindHistoryPoints
	KindHistoryPoints2
	KindHistoryTimeInfo
)

// ParsedValue is the tagged-union result of dispatching one EPC/EDT
// pair through ParseProperty. Exactly the field named by Kind is
// meaningful; the rest are zero.
type ParsedValue struct {
	Kind ValueKind

	Bool    *bool
	String  string
	Bytes   []byte
	Uint8   uint8
	Uint32  uint32
	Int32   int32
	Float64 float64

	TimeOfDay         echonetlite.TimeOfDay
	CalendarDate      echonetlite.CalendarDate
	RouteBID          echonetlite.RouteBID
	CurrentPair       echonetlite.CurrentPair
	PropertyMap       map[byte]struct{}
	TimestampedEnergy echonetlite.TimestampedEnergy
	FixedTimeEnergy   echonetlite.FixedTimeEnergy
	HistoryPoints     []echonetlite.HistoryPoint
	HistoryPoints2    []echonetlite.HistoryPoint2
	HistoryTimeInfo   echonetlite.HistoryTimeInfo
}

// ParseProperty is a pure function of (epc, edt, scaling): it holds no
// dispatch table, only an exhaustive switch over the supported EPC
// set, per the tagged-variant-enumeration redesign of the property
// dispatch. An EPC outside that set is a RuntimeError, not a silently
// skipped entry.
func ParseProperty(epc echonetlite.EPC, edt []byte, scaling echonetlite.Scaling) (ParsedValue, error) {
	switch epc {
	case echonetlite.EPCOperationStatus:
		return ParsedValue{Kind: KindBool, Bool: echonetlite.ParseOperationStatus(edt)}, nil

	case echonetlite.EPCInstallationLocation:
		return ParsedValue{Kind: KindString, String: echonetlite.ParseInstallationLocation(edt)}, nil

	case echonetlite.EPCStandardVersionInformation:
		return ParsedValue{Kind: KindString, String: echonetlite.ParseStandardVersionInformation(edt)}, nil

	case echonetlite.EPCFaultStatus:
		return ParsedValue{Kind: KindBool, Bool: echonetlite.ParseFaultStatus(edt)}, nil

	case echonetlite.EPCManufacturerCode:
		return ParsedValue{Kind: KindBytes, Bytes: echonetlite.ParseManufacturerCode(edt)}, nil

	case echonetlite.EPCSerialNumber:
		return ParsedValue{Kind: KindString, String: echonetlite.ParseSerialNumber(edt)}, nil

	case echonetlite.EPCCurrentTimeSetting:
		return ParsedValue{Kind: KindTimeOfDay, TimeOfDay: echonetlite.ParseCurrentTimeSetting(edt)}, nil

	case echonetlite.EPCCurrentDateSetting:
		return ParsedValue{Kind: KindCalendarDate, CalendarDate: echonetlite.ParseCurrentDateSetting(edt)}, nil

	case echonetlite.EPCPropertiesForStatusNotification,
		echonetlite.EPCPropertiesToSetValues,
		echonetlite.EPCPropertiesToGetValues:
		return ParsedValue{Kind: KindPropertyMap, PropertyMap: echonetlite.ParsePropertyMap(edt)}, nil

	case echonetlite.EPCRouteBID:
		return ParsedValue{Kind: KindRouteBID, RouteBID: echonetlite.ParseRouteBID(edt)}, nil

	case echonetlite.EPCOneMinuteCumulativeEnergy:
		return ParsedValue{Kind: KindTimestampedEnergy, TimestampedEnergy: echonetlite.ParseOneMinuteCumulativeEnergy(edt, scaling)}, nil

	case echonetlite.EPCCoefficientForCumulativeEnergy:
		return ParsedValue{Kind: KindUint32, Uint32: echonetlite.ParseCoefficientForCumulativeEnergy(edt)}, nil

	case echonetlite.EPCEffectiveDigitsForCumEnergy:
		return ParsedValue{Kind: KindUint8, Uint8: echonetlite.ParseEffectiveDigitsForCumulativeEnergy(edt)}, nil

	case echonetlite.EPCCumulativeEnergy, echonetlite.EPCCumulativeEnergyReversed:
		return ParsedValue{Kind: KindFloat64, Float64: echonetlite.ParseCumulativeEnergy(edt, scaling)}, nil

	case echonetlite.EPCUnitForCumulativeEnergy:
		u, err := echonetlite.ParseUnitForCumulativeEnergy(edt)
		if err != nil {
			return ParsedValue{}, err
		}
		return ParsedValue{Kind: KindFloat64, Float64: u}, nil

	case echonetlite.EPCHistoricalCumulativeEnergy1, echonetlite.EPCHistoricalCumulativeEnergy1Rev:
		return ParsedValue{Kind: KindHistoryPoints, HistoryPoints: echonetlite.ParseHistoricalCumulativeEnergy1(edt, scaling)}, nil

	case echonetlite.EPCDayForHistoricalData1:
		return ParsedValue{Kind: KindUint8, Uint8: echonetlite.ParseDayForHistoricalData1(edt)}, nil

	case echonetlite.EPCInstantaneousPower:
		return ParsedValue{Kind: KindInt32, Int32: echonetlite.ParseInstantaneousPower(edt)}, nil

	case echonetlite.EPCInstantaneousCurrent:
		return ParsedValue{Kind: KindCurrentPair, CurrentPair: echonetlite.ParseInstantaneousCurrent(edt)}, nil

	case echonetlite.EPCCumulativeEnergyAtFixedTime, echonetlite.EPCCumulativeEnergyAtFixedTimeRev:
		return ParsedValue{Kind: KindFixedTimeEnergy, FixedTimeEnergy: echonetlite.ParseCumulativeEnergyAtFixedTime(edt, scaling)}, nil

	case echonetlite.EPCHistoricalCumulativeEnergy2:
		return ParsedValue{Kind: KindHistoryPoints2, HistoryPoints2: echonetlite.ParseHistoricalCumulativeEnergy2(edt, scaling)}, nil

	case echonetlite.EPCTimeForHistoricalData2:
		return ParsedValue{Kind: KindHistoryTimeInfo, HistoryTimeInfo: echonetlite.ParseTimeForHistoricalData2(edt)}, nil

	case echonetlite.EPCHistoricalCumulativeEnergy3:
		return ParsedValue{Kind: KindHistoryPoints2, HistoryPoints2: echonetlite.ParseHistoricalCumulativeEnergy3(edt, scaling)}, nil

	case echonetlite.EPCTimeForHistoricalData3:
		return ParsedValue{Kind: KindHistoryTimeInfo, HistoryTimeInfo: echonetlite.ParseTimeForHistoricalData3(edt)}, nil

	default:
		return ParsedValue{}, rberrors.Invariant(fmt.Sprintf("unknown EPC in dispatch: 0x%02X", byte(epc)))
	}
}
