package gcode

// ModalGroup identifies which RS274-style modal group a word belongs to,
// if any. Two words from the same group in one block conflict (a line
// can't be both G90 and G91), which is what Block.Validate checks for.
type ModalGroup byte

const (
	ModalGroupNone = iota
	ModalGroupNonModal
	ModalGroupMotion
	ModalGroupPolar
	ModalGroupPlaneSelection
	ModalGroupDistanceMode
	ModalGroupArcDistanceMode
	ModalGroupFeedRateMode
	ModalGroupUnits
	ModalGroupCutterCompensationMode
	ModalGroupToolLength
	ModalGroupCannedCyclesMode
	ModalGroupCoordinateSystem
	ModalGroupControlMode
	ModalGroupSpindleMode
	ModalGroupLatheDiameterMode
	ModalGroupStopping
	ModalGroupToolChange
	ModalGroupSpindle
	ModalGroupCoolant
	ModalGroupOverride
	ModalGroupFeedRate
)

var modalGroupNames = map[ModalGroup]string{
	ModalGroupNonModal:               "non-modal",
	ModalGroupMotion:                 "motion",
	ModalGroupPolar:                  "polar",
	ModalGroupPlaneSelection:         "plane-selection",
	ModalGroupDistanceMode:           "distance-mode",
	ModalGroupArcDistanceMode:        "arc-distance-mode",
	ModalGroupFeedRateMode:           "feed-rate-mode",
	ModalGroupUnits:                  "units",
	ModalGroupCutterCompensationMode: "cutter-compensation",
	ModalGroupToolLength:             "tool-length",
	ModalGroupCannedCyclesMode:       "canned-cycles",
	ModalGroupCoordinateSystem:       "coordinate-system",
	ModalGroupControlMode:            "control-mode",
	ModalGroupSpindleMode:            "spindle-mode",
	ModalGroupLatheDiameterMode:      "lathe-diameter-mode",
	ModalGroupStopping:               "stopping",
	ModalGroupToolChange:             "tool-change",
	ModalGroupSpindle:                "spindle",
	ModalGroupCoolant:                "coolant",
	ModalGroupOverride:               "override",
	ModalGroupFeedRate:               "feed-rate",
}

// String names the group the way Block.Validate's error messages report
// it; a group with no entry (ModalGroupNone, or a byte value nobody
// assigned) prints as "none".
func (m ModalGroup) String() string {
	if name, ok := modalGroupNames[m]; ok {
		return name
	}
	return "none"
}

// gModalGroup and mModalGroup below mirror the group
// assignments in NIST RS274NGC table 4; gcode.ModalGroup.String is only
// used for diagnostics, the numeric constants are what callers branch on
// (see internal/simulator's modal array).
func (w Word) ModalGroup() ModalGroup {
	switch w.W {
	case 'G':
		return gModalGroup(w.Arg)
	case 'M':
		return mModalGroup(w.Arg)
	case 'F':
		return ModalGroupFeedRate
	default:
		return ModalGroupNone
	}
}

func gModalGroup(arg float64) ModalGroup {
	switch arg {
	case 4, 10, 28, 30, 53, 92, 92.1, 92.2, 92.3:
		return ModalGroupNonModal
	case 0, 1, 2, 3, 33, 38.2, 38.3, 38.4, 38.5, 73, 76, 80, 81, 82, 83, 84, 85, 86, 87, 88, 89:
		return ModalGroupMotion
	case 15, 16:
		return ModalGroupPolar
	case 17, 18, 19, 17.1, 18.1, 19.1:
		return ModalGroupPlaneSelection
	case 90, 91:
		return ModalGroupDistanceMode
	case 90.1, 91.1:
		return ModalGroupArcDistanceMode
	case 93, 94, 95:
		return ModalGroupFeedRateMode
	case 20, 21:
		return ModalGroupUnits
	case 40, 41, 41.1, 42, 42.1:
		return ModalGroupCutterCompensationMode
	case 43, 43.1, 49, 98, 99:
		return ModalGroupToolLength
	case 54, 55, 56, 57, 58, 59, 59.1, 59.2, 59.3:
		return ModalGroupCoordinateSystem
	case 61, 61.1, 64:
		return ModalGroupControlMode
	case 96, 97:
		return ModalGroupSpindleMode
	case 7, 8:
		return ModalGroupLatheDiameterMode
	default:
		return ModalGroupNone
	}
}

func mModalGroup(arg float64) ModalGroup {
	switch arg {
	case 0, 1, 2, 30, 60:
		return ModalGroupStopping
	case 6, 61:
		return ModalGroupToolChange
	case 3, 4, 5:
		return ModalGroupSpindle
	case 7, 8, 9:
		return ModalGroupCoolant
	case 48, 49, 50, 51, 52, 53:
		return ModalGroupOverride
	default:
		return ModalGroupNone
	}
}
