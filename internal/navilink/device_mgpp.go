package navilink

import (
	"encoding/json"
	"fmt"
)

// mgppChannelNumber is the single channel an MGPP gateway exposes.
const mgppChannelNumber = 1

// Raw response keys kept per MGPP session.
const (
	rawDID         = "did"
	rawStatus      = "status"
	rawReservation = "rsv"
)

// mgppState is the decoded state of an MGPP unit. The raw responses are
// kept alongside the decoded view.
type mgppState struct {
	features    MGPPFeatures
	hasFeatures bool
	status      *MGPPStatus
	raw         map[string]json.RawMessage
}

// newMGPPState builds the placeholder state created before the DID arrives.
func newMGPPState() *mgppState {
	return &mgppState{raw: make(map[string]json.RawMessage)}
}

// vacationDays is the vacation length the unit last reported.
func (s *mgppState) vacationDays() int {
	if s.status == nil || s.status.VacationDaySetting <= 0 {
		return DefaultVacationDays
	}
	return s.status.VacationDaySetting
}

// MGPP units are Celsius on the wire regardless of the display preference.
func (s *mgppState) celsius() bool { return true }

func (s *mgppState) encodeTemperature(t float64) int { return EncodeHalfDegree(t) }

func (s *mgppState) supports(kind CommandKind) error {
	if kind == CommandRecircHotButton && s.hasFeatures && !s.features.SupportsRecirculation() {
		return fmt.Errorf("%w: unit has no recirculation pump", ErrUnsupported)
	}
	return nil
}

func (s *mgppState) fill(snap *Snapshot) {
	features := s.features
	snap.Features = &features
	snap.MinTemperature = s.features.DHWTemperatureMin
	snap.MaxTemperature = s.features.DHWTemperatureMax
	snap.SupportsHotButton = s.features.SupportsRecirculation()
	if rsv, ok := s.raw[rawReservation]; ok {
		snap.Reservation = rsv
	}
	snap.Summary = s.status.Summary()
	if s.status == nil {
		return
	}
	status := *s.status
	snap.MGPP = &status
	snap.PowerOn = status.PowerOn
	snap.CurrentTemperature = status.DHWTemperature
	snap.TargetTemperature = status.DHWTemperatureSetting
	snap.OperationMode = status.OperationSetting.String()
	snap.ErrorMessage = status.ErrorMessage()
}
