package codec

import "encoding/binary"

// Realtime-config command IDs.
const (
	RTCommandNoop         uint8 = 0x00
	RTCommandReadROM      uint8 = 0x10
	RTCommandReadRAM      uint8 = 0x11
)

// RealtimeConfig is a tagged out-of-band request: an 8-bit command id, the
// output parameters sent to the drive (e.g. the UPID being queried), and
// the input parameter schema describing how to decode the values the
// drive sends back.
type RealtimeConfig struct {
	CommandID uint8
	Output    []CommandParameter
	Values    []float64
	Input     []CommandParameter
}

func (r RealtimeConfig) header(rtCount uint8) uint16 {
	return uint16(rtCount&0x0F) | uint16(r.CommandID)<<8
}

// Encode serializes the header followed by each output parameter's packed
// bytes, in declared order.
func (r RealtimeConfig) Encode(rtCount uint8) []byte {
	buf := make([]byte, 2, 2+4*len(r.Output))
	binary.LittleEndian.PutUint16(buf, r.header(rtCount))
	for i, p := range r.Output {
		buf = append(buf, p.Pack(r.Values[i])...)
	}
	return buf
}

// ResponseWidth returns the number of bytes the response's realtime_config
// field occupies: 2 header bytes plus the sum of the input schema widths.
func (r RealtimeConfig) ResponseWidth() int {
	width := 2
	for _, p := range r.Input {
		width += p.Type.Width()
	}
	return width
}

// NewRealtimeNoop builds the no-op realtime config.
func NewRealtimeNoop() RealtimeConfig {
	return RealtimeConfig{CommandID: RTCommandNoop}
}

// NewReadRAMByUPID builds a request to read a live (RAM) parameter by
// UPID, decoding the returned value using expectedType/unit/conversion.
func NewReadRAMByUPID(upid uint16, expectedType IntType, unit string, conversion float64) RealtimeConfig {
	valueParam := CommandParameter{Description: "Value", Unit: unit, ConversionFactor: conversion, Type: expectedType}
	return RealtimeConfig{
		CommandID: RTCommandReadRAM,
		Output:    []CommandParameter{ParamUPID},
		Values:    []float64{float64(upid)},
		Input:     []CommandParameter{valueParam},
	}
}

// NewReadROMByUPID builds a request to read a stored (ROM) parameter by
// UPID. Reserved: exercised by no production flow in this system, kept
// for wire-format completeness.
func NewReadROMByUPID(upid uint16, expectedType IntType, unit string, conversion float64) RealtimeConfig {
	valueParam := CommandParameter{Description: "Value", Unit: unit, ConversionFactor: conversion, Type: expectedType}
	return RealtimeConfig{
		CommandID: RTCommandReadROM,
		Output:    []CommandParameter{ParamUPID},
		Values:    []float64{float64(upid)},
		Input:     []CommandParameter{valueParam},
	}
}

// RealtimeStatusDescriptions maps realtime-config status codes to their
// fixed descriptions.
var RealtimeStatusDescriptions = map[uint8]string{
	0x00: "OK",
	0x02: "Command running / busy",
	0x04: "Block not finished",
	0x05: "Busy",
	0xC0: "UPID error",
	0xC1: "Parameter-type error",
	0xC2: "Range error",
	0xC3: "Address-usage error",
	0xC5: "Sequence error for UPID list",
	0xC6: "End of UPID list",
	0xD0: "Odd address",
	0xD1: "Size error",
	0xD4: "Curve already defined / missing",
}

func realtimeStatusDescription(code uint8) (string, bool) {
	desc, ok := RealtimeStatusDescriptions[code]
	return desc, ok
}

// RealtimeConfigResult is the decoded realtime_config response field.
type RealtimeConfigResult struct {
	StatusNumber      uint8
	StatusDescription string
	Values            []float64
	CommandCount      uint8
}

// decodeRealtimeConfigResult decodes buf into a RealtimeConfigResult. If
// the status byte doesn't match any known realtime-config status code, it
// still returns a fully populated result (StatusDescription left empty)
// alongside an *InvalidStatusError, since an unrecognized status is not a
// framing failure: the caller can log it and keep using the decoded
// values.
func decodeRealtimeConfigResult(buf []byte, input []CommandParameter) (RealtimeConfigResult, error) {
	result := RealtimeConfigResult{
		StatusNumber: buf[0],
		CommandCount: buf[1],
	}
	offset := 2
	for _, p := range input {
		w := p.Type.Width()
		result.Values = append(result.Values, p.Unpack(buf[offset:offset+w]))
		offset += w
	}
	desc, ok := realtimeStatusDescription(result.StatusNumber)
	if !ok {
		return result, &InvalidStatusError{Field: "realtime_config.status", Value: uint16(result.StatusNumber)}
	}
	result.StatusDescription = desc
	return result, nil
}
