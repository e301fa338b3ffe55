package drive

// mainStateNames names the drive's host-visible main_state values. The host
// never forces a transition other than those reachable through a
// control-word or motion-command; this table is for logging and for the
// SwitchOn/Home state-machine polls.
var mainStateNames = map[uint8]string{
	0:  "Not-ready-to-switch-on",
	1:  "Switch-on-disabled",
	2:  "Ready-to-switch-on",
	3:  "Setup-error",
	4:  "Error",
	5:  "HW-tests",
	6:  "Ready-to-operate",
	7:  "Brake-release-delay",
	8:  "Operation-enabled",
	9:  "Homing",
	10: "Clearance-check",
	11: "Going-to-initial-pos",
	12: "Aborting",
	13: "Freezing",
	14: "Quick-stop",
	15: "Going-to-position",
	16: "Jogging+",
	17: "Jogging-",
	18: "Linearizing",
	19: "Phase-search",
	20: "Special-mode",
	21: "Brake-delay",
}

func mainStateName(s uint8) string {
	if name, ok := mainStateNames[s]; ok {
		return name
	}
	return "Unknown"
}

const (
	mainStateNotReadyToSwitchOn uint8 = 0
	mainStateReadyToSwitchOn    uint8 = 2
	mainStateOperationEnabled   uint8 = 8
)
