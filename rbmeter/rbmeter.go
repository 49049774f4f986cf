package rbmeter

import (
	"io"
	"log"
	"time"

	"kuramo.ch/rbmeter/echonetlite"
	"kuramo.ch/rbmeter/rberrors"
	"kuramo.ch/rbmeter/session"
	"kuramo.ch/rbmeter/wisun"
)

// Client is the public handle to one open Route-B session. Open and
// Close form a scoped-acquisition pair: Open establishes the session
// and primes scaling; Close is idempotent and releases the serial
// port on every exit path, including a failure inside Open.
type Client struct {
	sess *session.Session
	txn  *transaction
	log  *log.Logger
}

// Open establishes a PANA session against the meter reachable through
// cfg and returns a ready Client. logger may be nil, in which case
// library output is discarded.
func Open(cfg session.Config, logger *log.Logger) (*Client, error) {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	sess, err := session.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Client{
		sess: sess,
		txn:  newTransaction(sess, logger, DefaultTransactionConfig(cfg.InternalXmitInterval)),
		log:  logger,
	}, nil
}

// Close tears down the session. It is safe to call more than once.
func (c *Client) Close() error { return c.sess.Close() }

// StackVersion reads the Wi-SUN stack version (SKVER).
func (c *Client) StackVersion() (string, error) { return c.sess.Radio().Version() }

// AppVersion reads the module firmware version (SKAPPVER).
func (c *Client) AppVersion() (string, error) { return c.sess.Radio().AppVersion() }

// LinkInfo reads the module's current address/MAC/channel/PAN ID/side (SKINFO).
func (c *Client) LinkInfo() (*wisun.InfoResult, error) {
	return c.sess.Radio().Info()
}

func (c *Client) get(epc echonetlite.EPC) ([]byte, error) {
	props, err := c.txn.request(echonetlite.ESVGet, []echonetlite.Property{{EPC: byte(epc)}})
	if err != nil {
		return nil, err
	}
	return props[0].EDT, nil
}

func (c *Client) scaling() echonetlite.Scaling { return c.sess.Scaling() }

// GetOperationStatus reads whether the meter is on (true) or off (false).
// Returns nil when the meter reports neither known code.
func (c *Client) GetOperationStatus() (*bool, error) {
	edt, err := c.get(echonetlite.EPCOperationStatus)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseOperationStatus(edt), nil
}

// GetInstallationLocation reads the textual installation-location label.
func (c *Client) GetInstallationLocation() (string, error) {
	edt, err := c.get(echonetlite.EPCInstallationLocation)
	if err != nil {
		return "", err
	}
	return echonetlite.ParseInstallationLocation(edt), nil
}

// GetStandardVersionInformation reads the ECHONET Lite standard version string.
func (c *Client) GetStandardVersionInformation() (string, error) {
	edt, err := c.get(echonetlite.EPCStandardVersionInformation)
	if err != nil {
		return "", err
	}
	return echonetlite.ParseStandardVersionInformation(edt), nil
}

// GetFaultStatus reads whether a fault is present.
func (c *Client) GetFaultStatus() (*bool, error) {
	edt, err := c.get(echonetlite.EPCFaultStatus)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseFaultStatus(edt), nil
}

// GetManufacturerCode reads the raw 3-byte manufacturer code.
func (c *Client) GetManufacturerCode() ([]byte, error) {
	edt, err := c.get(echonetlite.EPCManufacturerCode)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseManufacturerCode(edt), nil
}

// GetSerialNumber reads the meter's ASCII serial number.
func (c *Client) GetSerialNumber() (string, error) {
	edt, err := c.get(echonetlite.EPCSerialNumber)
	if err != nil {
		return "", err
	}
	return echonetlite.ParseSerialNumber(edt), nil
}

// GetCurrentTimeSetting reads the meter's current time-of-day setting.
func (c *Client) GetCurrentTimeSetting() (echonetlite.TimeOfDay, error) {
	edt, err := c.get(echonetlite.EPCCurrentTimeSetting)
	if err != nil {
		return echonetlite.TimeOfDay{}, err
	}
	return echonetlite.ParseCurrentTimeSetting(edt), nil
}

// GetCurrentDateSetting reads the meter's current date setting.
func (c *Client) GetCurrentDateSetting() (echonetlite.CalendarDate, error) {
	edt, err := c.get(echonetlite.EPCCurrentDateSetting)
	if err != nil {
		return echonetlite.CalendarDate{}, err
	}
	return echonetlite.ParseCurrentDateSetting(edt), nil
}

// GetRouteBID reads the meter's Route-B authentication identity.
func (c *Client) GetRouteBID() (echonetlite.RouteBID, error) {
	edt, err := c.get(echonetlite.EPCRouteBID)
	if err != nil {
		return echonetlite.RouteBID{}, err
	}
	return echonetlite.ParseRouteBID(edt), nil
}

// GetOneMinuteCumulativeEnergy reads the most recent minute-stamped cumulative energy reading.
func (c *Client) GetOneMinuteCumulativeEnergy() (echonetlite.TimestampedEnergy, error) {
	edt, err := c.get(echonetlite.EPCOneMinuteCumulativeEnergy)
	if err != nil {
		return echonetlite.TimestampedEnergy{}, err
	}
	return echonetlite.ParseOneMinuteCumulativeEnergy(edt, c.scaling()), nil
}

// GetCoefficientForCumulativeEnergy re-reads the energy coefficient
// directly (the session's own copy, primed during Open, is used for
// scaling all other readings).
func (c *Client) GetCoefficientForCumulativeEnergy() (uint32, error) {
	edt, err := c.get(echonetlite.EPCCoefficientForCumulativeEnergy)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseCoefficientForCumulativeEnergy(edt), nil
}

// GetEffectiveDigitsForCumulativeEnergy reads the meter's configured digit count.
func (c *Client) GetEffectiveDigitsForCumulativeEnergy() (uint8, error) {
	edt, err := c.get(echonetlite.EPCEffectiveDigitsForCumEnergy)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseEffectiveDigitsForCumulativeEnergy(edt), nil
}

// GetCumulativeEnergy reads the forward cumulative energy, in kWh.
func (c *Client) GetCumulativeEnergy() (float64, error) {
	edt, err := c.get(echonetlite.EPCCumulativeEnergy)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseCumulativeEnergy(edt, c.scaling()), nil
}

// GetCumulativeEnergyReversed reads the reverse cumulative energy, in kWh.
func (c *Client) GetCumulativeEnergyReversed() (float64, error) {
	edt, err := c.get(echonetlite.EPCCumulativeEnergyReversed)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseCumulativeEnergy(edt, c.scaling()), nil
}

// GetUnitForCumulativeEnergy reads the energy unit scale directly from the meter.
func (c *Client) GetUnitForCumulativeEnergy() (float64, error) {
	edt, err := c.get(echonetlite.EPCUnitForCumulativeEnergy)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseUnitForCumulativeEnergy(edt)
}

// GetHistoricalCumulativeEnergy1 reads 48 half-hour forward energy samples
// anchored at the day previously set with SetDayForHistoricalData1.
func (c *Client) GetHistoricalCumulativeEnergy1() ([]echonetlite.HistoryPoint, error) {
	edt, err := c.get(echonetlite.EPCHistoricalCumulativeEnergy1)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseHistoricalCumulativeEnergy1(edt, c.scaling()), nil
}

// GetHistoricalCumulativeEnergy1Reversed is the reverse-direction counterpart of GetHistoricalCumulativeEnergy1.
func (c *Client) GetHistoricalCumulativeEnergy1Reversed() ([]echonetlite.HistoryPoint, error) {
	edt, err := c.get(echonetlite.EPCHistoricalCumulativeEnergy1Rev)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseHistoricalCumulativeEnergy1(edt, c.scaling()), nil
}

// GetDayForHistoricalData1 reads the day offset currently configured for history-1 reads.
func (c *Client) GetDayForHistoricalData1() (uint8, error) {
	edt, err := c.get(echonetlite.EPCDayForHistoricalData1)
	if err != nil {
		return 0, err
	}
	return echonetlite.ParseDayForHistoricalData1(edt), nil
}

// SetDayForHistoricalData1 configures the day offset (0-99, 0 = today) for subsequent history-1 reads.
func (c *Client) SetDayForHistoricalData1(day int) error {
	edt, err := echonetlite.BuildDayForHistoricalData1(day)
	if err != nil {
		return err
	}
	_, err = c.txn.request(echonetlite.ESVSetC, []echonetlite.Property{{EPC: byte(echonetlite.EPCDayForHistoricalData1), EDT: edt}})
	return err
}

// GetInstantaneousPower reads the current instantaneous power draw, in watts.
func (c *Client) GetInstantaneousPower() (float64, error) {
	edt, err := c.get(echonetlite.EPCInstantaneousPower)
	if err != nil {
		return 0, err
	}
	return float64(echonetlite.ParseInstantaneousPower(edt)), nil
}

// GetInstantaneousCurrent reads the R-phase/T-phase instantaneous current, in amperes.
func (c *Client) GetInstantaneousCurrent() (echonetlite.CurrentPair, error) {
	edt, err := c.get(echonetlite.EPCInstantaneousCurrent)
	if err != nil {
		return echonetlite.CurrentPair{}, err
	}
	return echonetlite.ParseInstantaneousCurrent(edt), nil
}

// GetCumulativeEnergyAtFixedTime reads the forward cumulative energy as of the meter's last fixed-time snapshot.
func (c *Client) GetCumulativeEnergyAtFixedTime() (echonetlite.FixedTimeEnergy, error) {
	edt, err := c.get(echonetlite.EPCCumulativeEnergyAtFixedTime)
	if err != nil {
		return echonetlite.FixedTimeEnergy{}, err
	}
	return echonetlite.ParseCumulativeEnergyAtFixedTime(edt, c.scaling()), nil
}

// GetCumulativeEnergyAtFixedTimeReversed is the reverse-direction counterpart of GetCumulativeEnergyAtFixedTime.
func (c *Client) GetCumulativeEnergyAtFixedTimeReversed() (echonetlite.FixedTimeEnergy, error) {
	edt, err := c.get(echonetlite.EPCCumulativeEnergyAtFixedTimeRev)
	if err != nil {
		return echonetlite.FixedTimeEnergy{}, err
	}
	return echonetlite.ParseCumulativeEnergyAtFixedTime(edt, c.scaling()), nil
}

// GetHistoricalCumulativeEnergy2 reads the history-2 series, newest first, 30-minute steps.
func (c *Client) GetHistoricalCumulativeEnergy2() ([]echonetlite.HistoryPoint2, error) {
	edt, err := c.get(echonetlite.EPCHistoricalCumulativeEnergy2)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseHistoricalCumulativeEnergy2(edt, c.scaling()), nil
}

// GetTimeForHistoricalData2 reads the anchor timestamp and sample count configured for history-2 reads.
func (c *Client) GetTimeForHistoricalData2() (echonetlite.HistoryTimeInfo, error) {
	edt, err := c.get(echonetlite.EPCTimeForHistoricalData2)
	if err != nil {
		return echonetlite.HistoryTimeInfo{}, err
	}
	return echonetlite.ParseTimeForHistoricalData2(edt), nil
}

// SetTimeForHistoricalData2 configures the anchor timestamp (minute snapped to 0 or 30) and
// sample count (1-12) for subsequent history-2 reads.
func (c *Client) SetTimeForHistoricalData2(timestamp time.Time, numPoints int) error {
	edt, err := echonetlite.BuildTimeForHistoricalData2(timestamp, numPoints)
	if err != nil {
		return err
	}
	_, err = c.txn.request(echonetlite.ESVSetC, []echonetlite.Property{{EPC: byte(echonetlite.EPCTimeForHistoricalData2), EDT: edt}})
	return err
}

// GetHistoricalCumulativeEnergy3 reads the history-3 series, newest first, 1-minute steps.
func (c *Client) GetHistoricalCumulativeEnergy3() ([]echonetlite.HistoryPoint2, error) {
	edt, err := c.get(echonetlite.EPCHistoricalCumulativeEnergy3)
	if err != nil {
		return nil, err
	}
	return echonetlite.ParseHistoricalCumulativeEnergy3(edt, c.scaling()), nil
}

// GetTimeForHistoricalData3 reads the anchor timestamp and sample count configured for history-3 reads.
func (c *Client) GetTimeForHistoricalData3() (echonetlite.HistoryTimeInfo, error) {
	edt, err := c.get(echonetlite.EPCTimeForHistoricalData3)
	if err != nil {
		return echonetlite.HistoryTimeInfo{}, err
	}
	return echonetlite.ParseTimeForHistoricalData3(edt), nil
}

// SetTimeForHistoricalData3 configures the anchor timestamp (minute used verbatim) and
// sample count (1-10) for subsequent history-3 reads.
func (c *Client) SetTimeForHistoricalData3(timestamp time.Time, numPoints int) error {
	edt, err := echonetlite.BuildTimeForHistoricalData3(timestamp, numPoints)
	if err != nil {
		return err
	}
	_, err = c.txn.request(echonetlite.ESVSetC, []echonetlite.Property{{EPC: byte(echonetlite.EPCTimeForHistoricalData3), EDT: edt}})
	return err
}

// RequestToGet is the batch read form: it fetches every EPC in one
// transaction and dispatches each response property through
// ParseProperty, keyed by EPC.
func (c *Client) RequestToGet(epcs []echonetlite.EPC) (map[echonetlite.EPC]ParsedValue, error) {
	reqProps := make([]echonetlite.Property, len(epcs))
	for i, epc := range epcs {
		reqProps[i] = echonetlite.Property{EPC: byte(epc)}
	}
	props, err := c.txn.request(echonetlite.ESVGet, reqProps)
	if err != nil {
		return nil, err
	}

	scaling := c.scaling()
	out := make(map[echonetlite.EPC]ParsedValue, len(props))
	for _, p := range props {
		v, perr := ParseProperty(echonetlite.EPC(p.EPC), p.EDT, scaling)
		if perr != nil {
			return nil, perr
		}
		out[echonetlite.EPC(p.EPC)] = v
	}
	return out, nil
}

// HistoricalDataSetArgs is the argument set for RequestToSet: each
// non-nil field is encoded and included in a single SetC transaction.
type HistoricalDataSetArgs struct {
	DayForHistoricalData1  *int
	TimeForHistoricalData2 *HistoricalDataTimeArg
	TimeForHistoricalData3 *HistoricalDataTimeArg
}

// HistoricalDataTimeArg is an anchor timestamp plus sample count, as
// accepted by SetTimeForHistoricalData2/3.
type HistoricalDataTimeArg struct {
	Timestamp time.Time
	NumPoints int
}

// RequestToSet is the batch write form. Every present argument is
// encoded to its EDT and included in a single SetC transaction.
func (c *Client) RequestToSet(args HistoricalDataSetArgs) error {
	var props []echonetlite.Property

	if args.DayForHistoricalData1 != nil {
		edt, err := echonetlite.BuildDayForHistoricalData1(*args.DayForHistoricalData1)
		if err != nil {
			return err
		}
		props = append(props, echonetlite.Property{EPC: byte(echonetlite.EPCDayForHistoricalData1), EDT: edt})
	}
	if args.TimeForHistoricalData2 != nil {
		a := args.TimeForHistoricalData2
		edt, err := echonetlite.BuildTimeForHistoricalData2(a.Timestamp, a.NumPoints)
		if err != nil {
			return err
		}
		props = append(props, echonetlite.Property{EPC: byte(echonetlite.EPCTimeForHistoricalData2), EDT: edt})
	}
	if args.TimeForHistoricalData3 != nil {
		a := args.TimeForHistoricalData3
		edt, err := echonetlite.BuildTimeForHistoricalData3(a.Timestamp, a.NumPoints)
		if err != nil {
			return err
		}
		props = append(props, echonetlite.Property{EPC: byte(echonetlite.EPCTimeForHistoricalData3), EDT: edt})
	}

	if len(props) == 0 {
		return rberrors.Value("RequestToSet called with no arguments")
	}
	_, err := c.txn.request(echonetlite.ESVSetC, props)
	return err
}
