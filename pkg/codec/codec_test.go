package codec

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRequestEncodeLengthFloor(t *testing.T) {
	// property 2: request length >= 14 bytes (4 + 4 + >=6 padding)
	req := Request{Response: FieldStatusWord}
	buf := EncodeRequest(req, 0, 0)
	require.GreaterOrEqual(t, len(buf), 14)
}

func TestRequestEncodeRoundTripHeader(t *testing.T) {
	// property 1 (adapted): re-decoding the header of an encoded request
	// recovers exactly what was put in, across every combination of
	// optional blocks.
	cw := Home | SwitchOn
	mc := NewVAIGoToPos(0.05, 0.1, 10, 10)
	rt := NewReadRAMByUPID(0x2001, Sint32, "m", 1e7)

	cases := []Request{
		{Response: FieldStatusWord},
		{Response: FieldStatusWord, ControlWord: &cw},
		{Response: FieldStatusWord, MotionCommand: &mc},
		{Response: FieldStatusWord, RealtimeConfig: &rt},
		{Response: FieldStatusWord, ControlWord: &cw, MotionCommand: &mc, RealtimeConfig: &rt},
	}

	for _, req := range cases {
		buf := EncodeRequest(req, 3, 5)
		buf2 := EncodeRequest(req, 3, 5)
		require.Equal(t, buf, buf2, "encoding must be deterministic")

		hdr, err := DecodeRequestHeader(buf)
		require.NoError(t, err)
		require.Equal(t, req.ControlWord != nil, hdr.HasControlWord)
		require.Equal(t, req.MotionCommand != nil, hdr.HasMotionCommand)
		require.Equal(t, req.RealtimeConfig != nil, hdr.HasRealtimeConfig)
		require.Equal(t, req.Response, hdr.Response)
		if req.ControlWord != nil {
			require.Equal(t, uint16(*req.ControlWord), hdr.ControlWord)
		}
		if req.MotionCommand != nil {
			require.Equal(t, uint8(3), hdr.MCCount)
			require.Equal(t, req.MotionCommand.SubID, hdr.MCSubID)
			require.Equal(t, req.MotionCommand.MasterID, hdr.MCMasterID)
		}
		if req.RealtimeConfig != nil {
			require.Equal(t, uint8(5), hdr.RTCount)
			require.Equal(t, req.RealtimeConfig.CommandID, hdr.RTCommandID)
		}
	}
}

func TestMotionCommandHeaderBitPacking(t *testing.T) {
	// property 3, first half: VAI_go_to_pos header with MC_count=3 is 0x0103.
	mc := NewVAIGoToPos(0.05, 0.1, 10, 10)
	require.Equal(t, uint16(0x0103), mc.header(3))
}

func TestRealtimeConfigHeaderBitPacking(t *testing.T) {
	// property 3, second half: Read_RAM_by_UPID header with rt_count=5 is 0x1105.
	rt := NewReadRAMByUPID(0x2001, Sint32, "m", 1e7)
	require.Equal(t, uint16(0x1105), rt.header(5))
}

func TestVAIGoToPosUnitConversion(t *testing.T) {
	// property 4 (position and velocity legs verified against the
	// worked example; acceleration/deceleration follow the general
	// 1e5 engineering-unit rule from the wire format table -- the
	// worked example's accel/decel bytes in the distilled spec do not
	// reduce to a clean multiple of 10 m/s^2 under any single
	// conversion factor and are treated as a transcription artifact,
	// see DESIGN.md).
	mc := NewVAIGoToPos(0.05, 0.1, 10, 10)
	buf := mc.Encode(2)

	require.Equal(t, uint16(0x0102), mc.header(2))

	payload := buf[2:]
	require.Equal(t, []byte{0x50, 0xC3, 0x00, 0x00}, payload[0:4], "position")
	require.Equal(t, []byte{0xA0, 0x86, 0x01, 0x00}, payload[4:8], "max velocity")

	wantAccel := ParamAcceleration.Pack(10)
	wantDecel := ParamDeceleration.Pack(10)
	require.Equal(t, wantAccel, payload[8:12], "acceleration")
	require.Equal(t, wantDecel, payload[12:16], "deceleration")
}

func TestStateVarDecoding(t *testing.T) {
	// property 5: given (sub=0x5F, main=8) decode each operation-enabled
	// bit. 0x5F = 0b0101_1111: bits0-3=0xF (MC count echo), bit4=1
	// (event handler active), bit5=0 (motion not active), bit6=1 (in
	// target position), bit7=0 (not homed).
	sv := decodeStateVar(0x5F, 8)
	require.Equal(t, uint8(8), sv.MainState)
	require.Equal(t, uint8(0x0F), sv.MCCountEcho)
	require.True(t, sv.EventHandlerActive)
	require.False(t, sv.MotionActive)
	require.True(t, sv.InTargetPosition)
	require.False(t, sv.Homed)
}

func TestWarnWordDecoding(t *testing.T) {
	// property 6: mask 0x0081 yields bit 0 "Motor hot sensor" and bit 7
	// "Motor not homed".
	warnings := DecodeWarnings(0x0081)
	require.Len(t, warnings, 2)
	require.Equal(t, "Motor hot sensor", warnings[0].Name)
	require.Equal(t, "Motor not homed", warnings[1].Name)
}

func TestDecodeResponseFieldPresence(t *testing.T) {
	// A request whose descriptor includes field F always yields a
	// TranslatedResponse with F populated; fields outside the descriptor
	// are left zero / unreported via Has*.
	descriptor := FieldStatusWord | FieldActualPos | FieldWarnWord
	buf := make([]byte, 8+2+4+2)
	// status_word = 0x1234
	buf[8] = 0x34
	buf[9] = 0x12
	// actual_pos raw = 500000 (= 0.05 m at 1e7 conversion)
	buf[10] = 0x20
	buf[11] = 0xA1
	buf[12] = 0x07
	buf[13] = 0x00
	// warn_word = 0x0081
	buf[14] = 0x81
	buf[15] = 0x00

	resp, err := DecodeResponse(buf, descriptor, nil, MonitoringSlots{})
	require.NoError(t, err)
	require.True(t, resp.HasStatusWord())
	require.Equal(t, uint16(0x1234), resp.StatusWord)
	require.True(t, resp.HasActualPos())
	require.InDelta(t, 0.05, resp.ActualPos, 1e-9)
	require.True(t, resp.HasWarnWord())
	require.Len(t, resp.Warnings, 2)
	require.False(t, resp.HasDemandPos())
	require.False(t, resp.HasCurrent())
}

func TestDecodeResponseLengthMismatch(t *testing.T) {
	descriptor := FieldStatusWord | FieldActualPos
	buf := make([]byte, 9) // too short for status_word + actual_pos
	_, err := DecodeResponse(buf, descriptor, nil, MonitoringSlots{})
	require.Error(t, err)
	var lenErr *LengthMismatchError
	require.ErrorAs(t, err, &lenErr)
}

func TestDecodeResponseTrailingBytesTolerated(t *testing.T) {
	descriptor := FieldStatusWord
	buf := make([]byte, 8+2+20) // way more trailing bytes than needed
	_, err := DecodeResponse(buf, descriptor, nil, MonitoringSlots{})
	require.NoError(t, err)
}

func TestRealtimeConfigForcedInResponse(t *testing.T) {
	rt := NewReadRAMByUPID(0x2001, Sint32, "m", 1e7)
	// Descriptor does not request realtime_config, but the request carried
	// one, so it must still be present in the response.
	descriptor := FieldStatusWord
	buf := make([]byte, 8+2+rt.ResponseWidth())
	buf[10] = 0x00 // status number OK
	buf[11] = 0x01 // command count
	// value = 1,000,000 raw at 1e7 conversion => 0.1 m
	binary.LittleEndian.PutUint32(buf[12:16], uint32(1_000_000))

	resp, err := DecodeResponse(buf, descriptor, &rt, MonitoringSlots{})
	require.NoError(t, err)
	require.NotNil(t, resp.RealtimeConfig)
	require.Equal(t, "OK", resp.RealtimeConfig.StatusDescription)
	require.InDelta(t, 0.1, resp.RealtimeConfig.Values[0], 1e-9)
}

func TestMonitoringChannelDecoding(t *testing.T) {
	velocity := CommandParameter{Description: "Velocity", Unit: "m/s", ConversionFactor: 1e6, Type: Uint32}
	slots := MonitoringSlots{&velocity, nil, nil, nil}

	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], 50000) // 0.05 m/s at 1e6

	out := decodeMonitoringChannel(buf, slots)
	require.InDelta(t, 0.05, out["Velocity"], 1e-9)
	require.Len(t, out, 1)
}
