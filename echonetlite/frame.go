// Package echonetlite builds and parses ECHONET Lite frames exchanged
// with a low-voltage smart electric energy meter, and decodes the
// meter's property values (EPC/EDT pairs) into Go values.
//
// Adapted from the teacher's echonetlite.Frame: the frame layout, EOJ
// and ESV types are kept, but SEOJ/DEOJ are fixed to the
// controller/meter pair this client always talks to, and a Parse
// function replaces the never-shipped UnmarshalBinary with the
// validation order the protocol core requires.
package echonetlite

import (
	"encoding/binary"
	"fmt"

	"kuramo.ch/rbmeter/rberrors"
)

// Echonet Lite Header bytes. This client only ever speaks format 1.
const (
	EHD1 byte = 0x10
	EHD2 byte = 0x81
)

// EOJ is an ECHONET Lite object code: class group, class, instance.
type EOJ struct {
	ClassGroupCode byte
	ClassCode      byte
	InstanceCode   byte
}

// NewEOJ builds an EOJ from its three component bytes.
func NewEOJ(classGroup, class, instance byte) EOJ {
	return EOJ{ClassGroupCode: classGroup, ClassCode: class, InstanceCode: instance}
}

func (o EOJ) bytes() [3]byte { return [3]byte{o.ClassGroupCode, o.ClassCode, o.InstanceCode} }

// ControllerEOJ and MeterEOJ are the two objects this client ever
// sees as SEOJ/DEOJ: itself, and the low-voltage smart electric
// energy meter class.
var (
	ControllerEOJ = NewEOJ(0x05, 0xFF, 0x01)
	MeterEOJ      = NewEOJ(0x02, 0x88, 0x01)
)

// ESV is the ECHONET Lite service code.
type ESV byte

const (
	ESVSetI ESV = 0x60
	ESVSetC ESV = 0x61
	ESVGet  ESV = 0x62

	ESVSetRes ESV = 0x71
	ESVGetRes ESV = 0x72

	ESVSetISNA ESV = 0x50
	ESVSetCSNA ESV = 0x51
	ESVGetSNA  ESV = 0x52
)

// IsFailure reports whether esv falls in the failure-response window [0x50, 0x5F].
func (e ESV) IsFailure() bool { return e >= 0x50 && e <= 0x5F }

// Property is one EPC/EDT property block. EDT is nil for a Get
// request property (PDC is always sent as 0 for Get) and for a
// response property whose PDC was 0.
type Property struct {
	EPC byte
	EDT []byte
}

// Build serializes a request frame: the controller addressing the
// meter with esv and properties. For ESVGet, every property's EDT is
// dropped (PDC=0) regardless of what the caller set in p.EDT.
func Build(tid uint16, esv ESV, properties []Property) []byte {
	seoj := ControllerEOJ.bytes()
	deoj := MeterEOJ.bytes()

	size := 2 + 2 + 3 + 3 + 1 + 1
	for _, p := range properties {
		n := 0
		if esv == ESVSetC {
			n = len(p.EDT)
		}
		size += 2 + n
	}

	buf := make([]byte, 0, size)
	buf = append(buf, EHD1, EHD2)
	tidBytes := make([]byte, 2)
	binary.BigEndian.PutUint16(tidBytes, tid)
	buf = append(buf, tidBytes...)
	buf = append(buf, seoj[:]...)
	buf = append(buf, deoj[:]...)
	buf = append(buf, byte(esv))
	buf = append(buf, byte(len(properties)))
	for _, p := range properties {
		buf = append(buf, p.EPC)
		if esv == ESVSetC {
			buf = append(buf, byte(len(p.EDT)))
			buf = append(buf, p.EDT...)
		} else {
			buf = append(buf, 0)
		}
	}
	return buf
}

// Parse validates and extracts a response frame addressed to the
// controller from the meter, matching it against the TID and ordered
// property list of the request that produced it.
//
// Validation runs in the order spec.md §4.G lists it. Any failure
// raises rberrors.ErrResponseNotExpected, except an ESV in [0x50,
// 0x5F], which raises rberrors.ErrResponseNotPossible.
func Parse(data []byte, tid uint16, reqProperties []Property) ([]Property, error) {
	if len(data) < 12 {
		return nil, rberrors.ResponseNotExpected("frame too short")
	}
	if data[0] != EHD1 || data[1] != EHD2 {
		return nil, rberrors.ResponseNotExpected("the data format is not ECHONET Lite EDATA format 1")
	}
	if binary.BigEndian.Uint16(data[2:4]) != tid {
		return nil, rberrors.ResponseNotExpected("the transaction ID does not match")
	}
	seoj := EOJ{data[4], data[5], data[6]}
	if seoj != MeterEOJ {
		return nil, rberrors.ResponseNotExpected("the source is not a smart meter")
	}
	deoj := EOJ{data[7], data[8], data[9]}
	if deoj != ControllerEOJ {
		return nil, rberrors.ResponseNotExpected("the destination is not a controller")
	}
	esv := ESV(data[10])
	if esv.IsFailure() {
		return nil, rberrors.ResponseNotPossible(byte(esv))
	}
	opc := int(data[11])
	if opc != len(reqProperties) {
		return nil, rberrors.ResponseNotExpected(
			fmt.Sprintf("unexpected packet format, OPC is expected %d but %d was set", len(reqProperties), opc))
	}

	properties := make([]Property, 0, opc)
	cur := 12
	for _, rp := range reqProperties {
		if cur >= len(data) {
			return nil, rberrors.ResponseNotExpected("frame truncated before EPC")
		}
		epc := data[cur]
		if epc != rp.EPC {
			return nil, rberrors.ResponseNotExpected(fmt.Sprintf("the property code does not match, EPC: %02X", rp.EPC))
		}
		cur++
		if cur >= len(data) {
			return nil, rberrors.ResponseNotExpected("frame truncated before PDC")
		}
		pdc := int(data[cur])
		cur++
		var edt []byte
		if pdc > 0 {
			if cur+pdc > len(data) {
				return nil, rberrors.ResponseNotExpected("frame truncated before EDT")
			}
			edt = append([]byte(nil), data[cur:cur+pdc]...)
			cur += pdc
		}
		properties = append(properties, Property{EPC: epc, EDT: edt})
	}

	return properties, nil
}
