package codec

import "encoding/binary"

// MotionCommand is a tagged request payload: a (master_id, sub_id) opcode
// pair, a human description, and an ordered list of CommandParameter
// descriptors paired with their current engineering-unit values. The
// descriptor list never mutates; Values is the only mutable part, so a
// cached MotionCommand (see pkg/drive's stream support) can be re-sent
// many times by overwriting Values in place.
type MotionCommand struct {
	MasterID    uint8
	SubID       uint8
	Description string
	Params      []CommandParameter
	Values      []float64
}

// header packs the motion-command header: count[3:0] | sub_id[7:4] |
// master_id[15:8].
func (m MotionCommand) header(mcCount uint8) uint16 {
	return uint16(mcCount&0x0F) | uint16(m.SubID&0x0F)<<4 | uint16(m.MasterID)<<8
}

// Encode serializes the header followed by each parameter's packed bytes,
// in declared order.
func (m MotionCommand) Encode(mcCount uint8) []byte {
	buf := make([]byte, 2, 2+4*len(m.Params))
	binary.LittleEndian.PutUint16(buf, m.header(mcCount))
	for i, p := range m.Params {
		buf = append(buf, p.Pack(m.Values[i])...)
	}
	return buf
}

// SetValues overwrites the parameter values in place without reallocating
// the descriptor list, for low-allocation streaming re-sends.
func (m *MotionCommand) SetValues(values ...float64) {
	copy(m.Values, values)
}

// Motion-command opcodes, see the drive protocol's fixed opcode table.
const (
	opNoop                  = 0x00
	subNoop                 = 0x0
	opVAI                   = 0x01
	subVAIGoToPos           = 0x0
	subVAIStop              = 0x7
	opStream                = 0x03
	subPVStreamTimestamped  = 0x1
	subPStreamPeriod        = 0x2
	subPVStreamPeriod       = 0x3
	subPVAStreamPeriod      = 0x5
	subStopStreaming        = 0xF
	opWriteLiveParameter    = 0x04
	subWriteLiveParameter   = 0xF1 // masked to 4 bits on the wire, see DESIGN.md
	opAccVAI                = 0x0C
	subAccVAIInfinitePos    = 0xE
	subAccVAIInfiniteNeg    = 0xF
)

// NewNoop builds the no-op motion command.
func NewNoop() MotionCommand {
	return MotionCommand{MasterID: opNoop, SubID: subNoop, Description: "Noop"}
}

// NewVAIGoToPos builds a point-to-point move to position with the given
// max velocity, acceleration, and deceleration.
func NewVAIGoToPos(position, maxVel, accel, decel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opVAI,
		SubID:       subVAIGoToPos,
		Description: "VAI_go_to_pos",
		Params:      []CommandParameter{ParamPosition, ParamVelocity, ParamAcceleration, ParamDeceleration},
		Values:      []float64{position, maxVel, accel, decel},
	}
}

// NewVAIStop builds a controlled stop with the given deceleration.
func NewVAIStop(decel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opVAI,
		SubID:       subVAIStop,
		Description: "VAI_stop",
		Params:      []CommandParameter{ParamDeceleration},
		Values:      []float64{decel},
	}
}

// NewPStream builds a P-type (position only) stream setpoint.
func NewPStream(demandPos float64) MotionCommand {
	return MotionCommand{
		MasterID:    opStream,
		SubID:       subPStreamPeriod,
		Description: "P_stream",
		Params:      []CommandParameter{ParamPosition},
		Values:      []float64{demandPos},
	}
}

// NewPVStream builds a PV-type (position + velocity) stream setpoint.
func NewPVStream(demandPos, demandVel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opStream,
		SubID:       subPVStreamPeriod,
		Description: "PV_stream",
		Params:      []CommandParameter{ParamPosition, ParamVelocity},
		Values:      []float64{demandPos, demandVel},
	}
}

// NewPVAStream builds a PVA-type (position + velocity + acceleration)
// stream setpoint.
func NewPVAStream(demandPos, demandVel, demandAccel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opStream,
		SubID:       subPVAStreamPeriod,
		Description: "PVA_stream",
		Params:      []CommandParameter{ParamPosition, ParamVelocity, ParamAcceleration},
		Values:      []float64{demandPos, demandVel, demandAccel},
	}
}

// NewStopStreaming builds the stream-termination command.
func NewStopStreaming() MotionCommand {
	return MotionCommand{MasterID: opStream, SubID: subStopStreaming, Description: "Stop_streaming"}
}

// NewWriteLiveParameter builds a single-parameter live write addressed by
// UPID, with the value packed using the given integer type.
func NewWriteLiveParameter(upid uint16, value float64, typ IntType) MotionCommand {
	valueParam := CommandParameter{Description: "Value", ConversionFactor: 1, Type: typ}
	return MotionCommand{
		MasterID:    opWriteLiveParameter,
		SubID:       subWriteLiveParameter & 0x0F,
		Description: "Write_live_parameter",
		Params:      []CommandParameter{ParamUPID, valueParam},
		Values:      []float64{float64(upid), value},
	}
}

// NewAccVAIInfinitePositive builds an infinite-duration move in the
// positive direction with the given velocity and acceleration magnitudes.
func NewAccVAIInfinitePositive(vel, accel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opAccVAI,
		SubID:       subAccVAIInfinitePos,
		Description: "AccVAI_infinite_positive",
		Params:      []CommandParameter{ParamVelocity, ParamAcceleration},
		Values:      []float64{vel, accel},
	}
}

// NewAccVAIInfiniteNegative builds an infinite-duration move in the
// negative direction with the given velocity and acceleration magnitudes.
func NewAccVAIInfiniteNegative(vel, accel float64) MotionCommand {
	return MotionCommand{
		MasterID:    opAccVAI,
		SubID:       subAccVAIInfiniteNeg,
		Description: "AccVAI_infinite_negative",
		Params:      []CommandParameter{ParamVelocity, ParamAcceleration},
		Values:      []float64{vel, accel},
	}
}
