package codec

// ControlWord is the 16-bit command mask sent to a drive. Unused bits are
// always zero.
type ControlWord uint16

const (
	SwitchOn         ControlWord = 1 << 0
	GoToPosition     ControlWord = 1 << 6
	ErrorAcknowledge ControlWord = 1 << 7
	JogPlus          ControlWord = 1 << 8
	JogMinus         ControlWord = 1 << 9
	SpecialMode      ControlWord = 1 << 10
	Home             ControlWord = 1 << 11
	ClearanceCheck   ControlWord = 1 << 12
	GoToInitial      ControlWord = 1 << 13
	Linearizing      ControlWord = 1 << 14
	PhaseSearch      ControlWord = 1 << 15
)
