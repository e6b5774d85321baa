package navilink

import (
	"fmt"
	"math"
)

// legacyState is the decoded state of one Legacy channel.
type legacyState struct {
	info   LegacyChannelInfo
	status *LegacyChannelStatus
}

func (s *legacyState) celsius() bool { return s.info.IsCelsius() }

func (s *legacyState) encodeTemperature(t float64) int {
	if s.info.IsCelsius() {
		return EncodeHalfDegree(t)
	}
	return int(math.RoundToEven(t))
}

func (s *legacyState) supports(kind CommandKind) error {
	switch kind {
	case CommandPower, CommandTemperature:
		return nil
	case CommandRecircHotButton:
		if s.info.SupportsHotButton() {
			return nil
		}
		return fmt.Errorf("%w: channel %d has no hot button", ErrUnsupported, s.info.ChannelNumber)
	default:
		return fmt.Errorf("%w: %s on legacy channel", ErrUnsupported, kind)
	}
}

func (s *legacyState) fill(snap *Snapshot) {
	info := s.info
	snap.LegacyInfo = &info
	snap.MinTemperature = s.info.SetupDHWTempMin
	snap.MaxTemperature = s.info.SetupDHWTempMax
	snap.SupportsHotButton = s.info.SupportsHotButton()
	if s.status == nil {
		snap.Summary = "No status data available"
		return
	}
	status := *s.status
	snap.Legacy = &status
	snap.PowerOn = status.PowerStatus
	snap.HotButton = status.OnDemandUseFlag
	snap.TargetTemperature = status.DHWSettingTemp
	snap.CurrentTemperature = status.CurrentTemperature()

	unit := "°F"
	if s.info.IsCelsius() {
		unit = "°C"
	}
	power := "OFF"
	if status.PowerStatus {
		power = "ON"
	}
	snap.Summary = fmt.Sprintf("%s | Temp: %g%s (Target: %g%s)", power, snap.CurrentTemperature, unit, status.DHWSettingTemp, unit)
}

func (s *legacyState) applyStatus(status *LegacyChannelStatus) {
	s.status = status
}
