package codec

import "encoding/binary"

// RequestHeader is the minimal information a fake/physical drive needs to
// interpret an inbound request without reconstructing full variant
// descriptors: which blocks are present, the raw control word, and the
// raw motion-command / realtime-config headers (count + opcode).
type RequestHeader struct {
	HasControlWord    bool
	HasMotionCommand  bool
	HasRealtimeConfig bool
	Response          ResponseDescriptor
	ControlWord       uint16
	MCCount           uint8
	MCSubID           uint8
	MCMasterID        uint8
	RTCount           uint8
	RTCommandID       uint8
}

// DecodeRequestHeader parses the def-words and any present block headers
// from a raw request datagram. It does not attempt to recover parameter
// values, since that requires knowing which variant was sent; it exists
// to let a fake drive (used in tests standing in for physical hardware)
// correlate and acknowledge requests.
func DecodeRequestHeader(buf []byte) (RequestHeader, error) {
	if len(buf) < 8 {
		return RequestHeader{}, &LengthMismatchError{Wanted: 8, Got: len(buf)}
	}
	reqDef := binary.LittleEndian.Uint32(buf[0:4])
	h := RequestHeader{
		Response:          ResponseDescriptor(binary.LittleEndian.Uint32(buf[4:8])),
		HasControlWord:    reqDef&reqFlagControlWord != 0,
		HasMotionCommand:  reqDef&reqFlagMotionCommand != 0,
		HasRealtimeConfig: reqDef&reqFlagRealtimeConfig != 0,
	}
	offset := 8
	if h.HasControlWord {
		if offset+2 > len(buf) {
			return RequestHeader{}, &LengthMismatchError{Wanted: offset + 2, Got: len(buf)}
		}
		h.ControlWord = binary.LittleEndian.Uint16(buf[offset:])
		offset += 2
	}
	if h.HasMotionCommand {
		if offset+2 > len(buf) {
			return RequestHeader{}, &LengthMismatchError{Wanted: offset + 2, Got: len(buf)}
		}
		word := binary.LittleEndian.Uint16(buf[offset:])
		h.MCCount = uint8(word & 0x0F)
		h.MCSubID = uint8((word >> 4) & 0x0F)
		h.MCMasterID = uint8(word >> 8)
		offset += 2
	}
	if h.HasRealtimeConfig {
		if offset+2 > len(buf) {
			return RequestHeader{}, &LengthMismatchError{Wanted: offset + 2, Got: len(buf)}
		}
		word := binary.LittleEndian.Uint16(buf[offset:])
		h.RTCount = uint8(word & 0x0F)
		h.RTCommandID = uint8(word >> 8)
		offset += 2
	}
	return h, nil
}
