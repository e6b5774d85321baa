package navilink

// CommandKind names a controllable attribute.
type CommandKind int

const (
	CommandPower CommandKind = iota
	CommandTemperature
	CommandOperationMode
	CommandAntiLegionella
	CommandFreezeProtection
	CommandRecircHotButton
)

// String returns the API name of the command.
func (k CommandKind) String() string {
	switch k {
	case CommandPower:
		return "power"
	case CommandTemperature:
		return "temperature"
	case CommandOperationMode:
		return "operation_mode"
	case CommandAntiLegionella:
		return "anti_legionella"
	case CommandFreezeProtection:
		return "freeze_protection"
	case CommandRecircHotButton:
		return "recirc_hot_button"
	default:
		return "unknown"
	}
}

// Command is a logical control request. Value carries the wire-encoded
// temperature or the operation mode; Days the vacation length.
type Command struct {
	Kind    CommandKind
	Channel int
	On      bool
	Value   int
	Days    int
}

// OperationMode is the MGPP dhwOperationSetting value.
type OperationMode int

const (
	ModeStandby    OperationMode = 0
	ModeHeatPump   OperationMode = 1
	ModeElectric   OperationMode = 2
	ModeEco        OperationMode = 3
	ModeHighDemand OperationMode = 4
	ModeVacation   OperationMode = 5
	ModePowerOff   OperationMode = 6
)

// DefaultVacationDays is used when a vacation command omits the length.
const DefaultVacationDays = 7

// String returns the mode label.
func (m OperationMode) String() string {
	switch m {
	case ModeStandby:
		return "standby"
	case ModeHeatPump:
		return "heat_pump"
	case ModeElectric:
		return "electric"
	case ModeEco:
		return "eco"
	case ModeHighDemand:
		return "high_demand"
	case ModeVacation:
		return "vacation"
	case ModePowerOff:
		return "power_off"
	default:
		return "unknown"
	}
}

// ParseOperationMode maps a label back to its mode.
func ParseOperationMode(s string) (OperationMode, bool) {
	for m := ModeStandby; m <= ModePowerOff; m++ {
		if m.String() == s {
			return m, true
		}
	}
	return 0, false
}
