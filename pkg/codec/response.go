package codec

import "encoding/binary"

// ResponseDescriptor is the fixed bitmask over the nine response fields.
type ResponseDescriptor uint32

const (
	FieldStatusWord ResponseDescriptor = 1 << iota
	FieldStateVar
	FieldActualPos
	FieldDemandPos
	FieldCurrent
	FieldWarnWord
	FieldErrorCode
	FieldMonitoringChannel
	FieldRealtimeConfig
)

// StateVar is the decoded state_var response field. Only the fields
// relevant to MainState are meaningful; see the sub_state interpretation
// table in the protocol's codec contract.
type StateVar struct {
	MainState uint8

	// main_state 3, 4
	ErrorCode uint8

	// main_state 8 (Operation enabled)
	MCCountEcho        uint8
	EventHandlerActive bool
	MotionActive       bool
	InTargetPosition   bool
	Homed              bool

	// main_state 9, 10, 11, 15
	HomingFinished                   bool
	ClearanceCheckFinished           bool
	GoingToInitialPositionFinished   bool
	GoingToPositionFinished          bool

	// main_state 16, 17
	MovingPositive          bool
	JoggingPlusFinished     bool
	MovingNegative          bool
	JoggingNegativeFinished bool
}

func decodeStateVar(sub, main uint8) StateVar {
	sv := StateVar{MainState: main}
	switch main {
	case 3, 4:
		sv.ErrorCode = sub
	case 8:
		sv.MCCountEcho = sub & 0x0F
		sv.EventHandlerActive = sub&(1<<4) != 0
		sv.MotionActive = sub&(1<<5) != 0
		sv.InTargetPosition = sub&(1<<6) != 0
		sv.Homed = sub&(1<<7) != 0
	case 9:
		sv.HomingFinished = sub == 0x0F
	case 10:
		sv.ClearanceCheckFinished = sub == 0x0F
	case 11:
		sv.GoingToInitialPositionFinished = sub == 0x0F
	case 15:
		sv.GoingToPositionFinished = sub == 0x0F
	case 16:
		sv.MovingPositive = sub == 0x01
		sv.JoggingPlusFinished = sub == 0x0F
	case 17:
		sv.MovingNegative = sub == 0x01
		sv.JoggingNegativeFinished = sub == 0x0F
	}
	return sv
}

// Warning describes one active bit in the warn_word mask.
type Warning struct {
	Bit     uint8
	Name    string
	Meaning string
}

// warningTable is the fixed bit/name/meaning table for warn_word.
var warningTable = map[uint8]Warning{
	0:  {0, "Motor hot sensor", "Motor temperature sensor indicates overheating"},
	1:  {1, "Motor short time overload I^2t", "Motor I^2t short-time overload threshold exceeded"},
	2:  {2, "Drive short time overload I^2t", "Drive I^2t short-time overload threshold exceeded"},
	3:  {3, "Bus voltage low", "DC bus voltage below nominal"},
	4:  {4, "Bus voltage high", "DC bus voltage above nominal"},
	6:  {6, "Encoder signal low", "Encoder signal amplitude is low"},
	7:  {7, "Motor not homed", "Homing has not been performed since power-up"},
	8:  {8, "Following error warning", "Position following error is approaching its limit"},
	9:  {9, "Brake engaged", "Mechanical brake is engaged"},
	10: {10, "External enable missing", "External hardware enable signal is not present"},
	11: {11, "Positive limit switch active", "Positive travel limit switch is active"},
	12: {12, "Negative limit switch active", "Negative travel limit switch is active"},
	14: {14, "Drive temperature high", "Drive heatsink temperature is approaching its limit"},
	15: {15, "Communication watchdog", "Realtime communication watchdog is close to timeout"},
}

// DecodeWarnings returns the active warning entries for a warn_word mask,
// one per set bit, in ascending bit order.
func DecodeWarnings(mask uint16) []Warning {
	var warnings []Warning
	for bit := uint8(0); bit < 16; bit++ {
		if mask&(1<<bit) == 0 {
			continue
		}
		if w, ok := warningTable[bit]; ok {
			warnings = append(warnings, w)
		}
	}
	return warnings
}

// TranslatedResponse is the decoded response. Fields outside the request's
// descriptor are left at their zero value; the Has* booleans mirror the
// descriptor so a caller can tell "zero" from "not requested".
type TranslatedResponse struct {
	Descriptor ResponseDescriptor

	StatusWord        uint16
	StateVar          StateVar
	ActualPos         float64
	DemandPos         float64
	Current           float64
	Warnings          []Warning
	ErrorCode         uint16
	MonitoringChannel map[string]float64
	RealtimeConfig    *RealtimeConfigResult
}

func (r TranslatedResponse) hasField(f ResponseDescriptor) bool {
	return r.Descriptor&f != 0
}

// HasStatusWord reports whether StatusWord was populated.
func (r TranslatedResponse) HasStatusWord() bool { return r.hasField(FieldStatusWord) }

// HasStateVar reports whether StateVar was populated.
func (r TranslatedResponse) HasStateVar() bool { return r.hasField(FieldStateVar) }

// HasActualPos reports whether ActualPos was populated.
func (r TranslatedResponse) HasActualPos() bool { return r.hasField(FieldActualPos) }

// HasDemandPos reports whether DemandPos was populated.
func (r TranslatedResponse) HasDemandPos() bool { return r.hasField(FieldDemandPos) }

// HasCurrent reports whether Current was populated.
func (r TranslatedResponse) HasCurrent() bool { return r.hasField(FieldCurrent) }

// HasWarnWord reports whether Warnings was populated.
func (r TranslatedResponse) HasWarnWord() bool { return r.hasField(FieldWarnWord) }

// HasErrorCode reports whether ErrorCode was populated.
func (r TranslatedResponse) HasErrorCode() bool { return r.hasField(FieldErrorCode) }

// HasMonitoringChannel reports whether MonitoringChannel was populated.
func (r TranslatedResponse) HasMonitoringChannel() bool {
	return r.hasField(FieldMonitoringChannel)
}

// Engineering-unit conversions for response fields (distinct from the
// motion-command parameter conversions in types.go, see DESIGN.md).
const (
	responsePositionConversion = 1e7
	responseCurrentConversion  = 1e3
)

// MonitoringSlots describes the four ordered CommandParameter slots the
// 16-byte monitoring_channel field is decoded against. A nil slot
// consumes 4 bytes as padding.
type MonitoringSlots [4]*CommandParameter

// DecodeResponse parses a response datagram. descriptor is the
// ResponseDescriptor that was sent in the originating request.
// rtConfigSchema, if non-nil, is the RealtimeConfig that was included in
// the originating request: its presence forces a realtime_config field in
// the response regardless of the descriptor bit, and its Input schema
// determines the field's width. monitoring describes how to decode the
// monitoring_channel field, and may be the zero value if unused.
//
// The decoder tolerates trailing bytes beyond what the descriptor
// requires (the drive is observed to occasionally append stale bytes)
// but returns a LengthMismatchError if buf is shorter than required.
func DecodeResponse(buf []byte, descriptor ResponseDescriptor, rtConfigSchema *RealtimeConfig, monitoring MonitoringSlots) (TranslatedResponse, error) {
	if len(buf) < 8 {
		return TranslatedResponse{}, &LengthMismatchError{Wanted: 8, Got: len(buf)}
	}
	resp := TranslatedResponse{Descriptor: descriptor}
	offset := 8 // skip echoed request_def, response_def

	need := func(n int) error {
		if offset+n > len(buf) {
			return &LengthMismatchError{Wanted: offset + n, Got: len(buf)}
		}
		return nil
	}

	if descriptor&FieldStatusWord != 0 {
		if err := need(2); err != nil {
			return TranslatedResponse{}, err
		}
		resp.StatusWord = binary.LittleEndian.Uint16(buf[offset:])
		offset += 2
	}
	if descriptor&FieldStateVar != 0 {
		if err := need(2); err != nil {
			return TranslatedResponse{}, err
		}
		resp.StateVar = decodeStateVar(buf[offset], buf[offset+1])
		offset += 2
	}
	if descriptor&FieldActualPos != 0 {
		if err := need(4); err != nil {
			return TranslatedResponse{}, err
		}
		raw := int32(binary.LittleEndian.Uint32(buf[offset:]))
		resp.ActualPos = float64(raw) / responsePositionConversion
		offset += 4
	}
	if descriptor&FieldDemandPos != 0 {
		if err := need(4); err != nil {
			return TranslatedResponse{}, err
		}
		raw := int32(binary.LittleEndian.Uint32(buf[offset:]))
		resp.DemandPos = float64(raw) / responsePositionConversion
		offset += 4
	}
	if descriptor&FieldCurrent != 0 {
		if err := need(2); err != nil {
			return TranslatedResponse{}, err
		}
		raw := int16(binary.LittleEndian.Uint16(buf[offset:]))
		resp.Current = float64(raw) / responseCurrentConversion
		offset += 2
	}
	if descriptor&FieldWarnWord != 0 {
		if err := need(2); err != nil {
			return TranslatedResponse{}, err
		}
		resp.Warnings = DecodeWarnings(binary.LittleEndian.Uint16(buf[offset:]))
		offset += 2
	}
	if descriptor&FieldErrorCode != 0 {
		if err := need(2); err != nil {
			return TranslatedResponse{}, err
		}
		resp.ErrorCode = binary.LittleEndian.Uint16(buf[offset:])
		offset += 2
	}
	if descriptor&FieldMonitoringChannel != 0 {
		if err := need(16); err != nil {
			return TranslatedResponse{}, err
		}
		resp.MonitoringChannel = decodeMonitoringChannel(buf[offset:offset+16], monitoring)
		offset += 16
	}
	var statusErr error
	if rtConfigSchema != nil {
		width := rtConfigSchema.ResponseWidth()
		if err := need(width); err != nil {
			return TranslatedResponse{}, err
		}
		result, err := decodeRealtimeConfigResult(buf[offset:offset+width], rtConfigSchema.Input)
		resp.RealtimeConfig = &result
		statusErr = err
		offset += width
	}

	return resp, statusErr
}

func decodeMonitoringChannel(buf []byte, slots MonitoringSlots) map[string]float64 {
	out := make(map[string]float64)
	offset := 0
	for _, slot := range slots {
		if slot == nil {
			offset += 4
			continue
		}
		w := slot.Type.Width()
		out[slot.Description] = slot.Unpack(buf[offset : offset+w])
		offset += 4 // each slot always occupies a fixed 4-byte lane
	}
	return out
}
