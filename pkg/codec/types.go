// Package codec implements the binary request/response wire format of the
// drive protocol described in the system's communication specification. It
// is stateless and performs no I/O: given a Request it produces bytes,
// and given bytes plus the descriptor that produced them it recovers a
// TranslatedResponse.
package codec

import (
	"encoding/binary"
	"math"
)

// IntType tags the wire representation of a CommandParameter value.
type IntType uint8

const (
	Sint16 IntType = iota
	Uint16
	Sint32
	Uint32
)

// Width returns the number of bytes this type occupies on the wire.
func (t IntType) Width() int {
	switch t {
	case Sint16, Uint16:
		return 2
	default:
		return 4
	}
}

// CommandParameter is an immutable schema entry: a physical unit, the
// engineering-to-raw conversion factor, and the wire integer type. The
// same descriptor type is shared by motion-command parameters,
// realtime-config parameters, and monitoring-channel slots; mutable
// values always live alongside the descriptor in a parallel slice, never
// by mutating the descriptor itself (see DESIGN.md on the shared-descriptor
// mutation bug found in some source revisions).
type CommandParameter struct {
	Description      string
	Unit             string
	ConversionFactor float64
	Type             IntType
}

// Pack converts an engineering-unit value to its raw wire bytes.
func (p CommandParameter) Pack(value float64) []byte {
	raw := math.Round(value * p.ConversionFactor)
	buf := make([]byte, p.Type.Width())
	switch p.Type {
	case Sint16:
		binary.LittleEndian.PutUint16(buf, uint16(int16(raw)))
	case Uint16:
		binary.LittleEndian.PutUint16(buf, uint16(raw))
	case Sint32:
		binary.LittleEndian.PutUint32(buf, uint32(int32(raw)))
	case Uint32:
		binary.LittleEndian.PutUint32(buf, uint32(raw))
	}
	return buf
}

// Unpack converts raw wire bytes back to an engineering-unit value.
func (p CommandParameter) Unpack(raw []byte) float64 {
	switch p.Type {
	case Sint16:
		return float64(int16(binary.LittleEndian.Uint16(raw))) / p.ConversionFactor
	case Uint16:
		return float64(binary.LittleEndian.Uint16(raw)) / p.ConversionFactor
	case Sint32:
		return float64(int32(binary.LittleEndian.Uint32(raw))) / p.ConversionFactor
	case Uint32:
		return float64(binary.LittleEndian.Uint32(raw)) / p.ConversionFactor
	}
	return 0
}

// Parameter descriptors reused across motion commands and realtime config.
//
// Position parameters carried inside motion commands use a 1e6 conversion
// (distinct from the 1e7 used for the actual_pos/demand_pos response
// fields, see DESIGN.md). Velocity uses 1e6, acceleration/deceleration
// use 1e5, matching the engineering-unit table.
var (
	ParamPosition     = CommandParameter{"Position", "m", 1e6, Sint32}
	ParamVelocity     = CommandParameter{"Velocity", "m/s", 1e6, Uint32}
	ParamAcceleration = CommandParameter{"Acceleration", "m/s^2", 1e5, Uint32}
	ParamDeceleration = CommandParameter{"Deceleration", "m/s^2", 1e5, Uint32}
	ParamUPID         = CommandParameter{"UPID", "", 1, Uint16}
)
