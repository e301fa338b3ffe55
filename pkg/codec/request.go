package codec

import "encoding/binary"

// Request is an immutable value describing one datagram to send: which
// response fields are wanted, and at most one each of a control word, a
// motion command, and a realtime config. LogLevel lets the caller tune
// how verbosely pkg/drive logs this particular round trip (e.g. a
// high-rate stream setpoint logs at a lower level than a one-off home
// command).
type Request struct {
	Response       ResponseDescriptor
	ControlWord    *ControlWord
	MotionCommand  *MotionCommand
	RealtimeConfig *RealtimeConfig
	LogLevel       LogLevel
}

// LogLevel mirrors logrus.Level without importing it here, keeping the
// codec package free of logging concerns.
type LogLevel uint8

const (
	LogDebug LogLevel = iota
	LogInfo
)

const (
	reqFlagControlWord    uint32 = 1 << 0
	reqFlagMotionCommand  uint32 = 1 << 1
	reqFlagRealtimeConfig uint32 = 1 << 2
)

// requestDef computes the request_def bitmask from which optional blocks
// are present.
func (r Request) requestDef() uint32 {
	var def uint32
	if r.ControlWord != nil {
		def |= reqFlagControlWord
	}
	if r.MotionCommand != nil {
		def |= reqFlagMotionCommand
	}
	if r.RealtimeConfig != nil {
		def |= reqFlagRealtimeConfig
	}
	return def
}

// minPayloadBytes is the minimum number of bytes required after the two
// def-words; shorter payloads are zero-padded up to this length.
const minPayloadBytes = 6

// EncodeRequest serializes req using mcCount/rtCount as the pre-incremented
// 4-bit counters for the motion command / realtime config blocks, if
// present.
func EncodeRequest(req Request, mcCount, rtCount uint8) []byte {
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf[0:4], req.requestDef())
	binary.LittleEndian.PutUint32(buf[4:8], uint32(req.Response))

	if req.ControlWord != nil {
		cw := make([]byte, 2)
		binary.LittleEndian.PutUint16(cw, uint16(*req.ControlWord))
		buf = append(buf, cw...)
	}
	if req.MotionCommand != nil {
		buf = append(buf, req.MotionCommand.Encode(mcCount)...)
	}
	if req.RealtimeConfig != nil {
		buf = append(buf, req.RealtimeConfig.Encode(rtCount)...)
	}

	payloadLen := len(buf) - 8
	if payloadLen < minPayloadBytes {
		buf = append(buf, make([]byte, minPayloadBytes-payloadLen)...)
	}
	return buf
}
