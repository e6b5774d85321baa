package navilink

import (
	"encoding/json"
	"fmt"
	"strings"
)

// MGPPFeatures is the decoded DID feature response.
type MGPPFeatures struct {
	DHWTemperatureMin float64         `json:"dhwTemperatureMin"`
	DHWTemperatureMax float64         `json:"dhwTemperatureMax"`
	RecirculationUse  int             `json:"recirculationUse"`
	Raw               json.RawMessage `json:"raw,omitempty"`
}

// SupportsRecirculation reports whether the unit has a recirculation pump.
func (f MGPPFeatures) SupportsRecirculation() bool {
	return f.RecirculationUse == mgppFlagOn
}

// DecodeMGPPFeatures decodes response.feature. Limits are half-degree on the wire.
func DecodeMGPPFeatures(raw json.RawMessage) MGPPFeatures {
	f := decodeFields(raw)
	return MGPPFeatures{
		DHWTemperatureMin: DecodeHalfDegree(f.num("dhwTemperatureMin", 0)),
		DHWTemperatureMax: DecodeHalfDegree(f.num("dhwTemperatureMax", 0)),
		RecirculationUse:  f.integer("recirculationUse", 0),
		Raw:               raw,
	}
}

// MGPPStatus is the decoded response.status of an MGPP unit. Temperatures
// are degrees Celsius.
type MGPPStatus struct {
	PowerOn               bool          `json:"powerOn"`
	DHWTemperature        float64       `json:"dhwTemperature"`
	DHWTemperatureSetting float64       `json:"dhwTemperatureSetting"`
	DHWChargePercent      int           `json:"dhwChargePer"`
	OperationSetting      OperationMode `json:"dhwOperationSetting"`
	VacationDaySetting    int           `json:"vacationDaySetting"`

	TankUpperTemperature    float64 `json:"tankUpperTemperature"`
	TankLowerTemperature    float64 `json:"tankLowerTemperature"`
	AmbientTemperature      float64 `json:"ambientTemperature"`
	DischargeTemperature    float64 `json:"dischargeTemperature"`
	SuctionTemperature      float64 `json:"suctionTemperature"`
	EvaporatorTemperature   float64 `json:"evaporatorTemperature"`
	CurrentSuperHeat        float64 `json:"currentSuperHeat"`
	TargetSuperHeat         float64 `json:"targetSuperHeat"`
	RecircFaucetTemperature float64 `json:"recircFaucetTemperature"`

	AntiLegionella   bool `json:"antiLegionellaUse"`
	FreezeProtection bool `json:"freezeProtectionUse"`
	HeatUpper        bool `json:"heatUpperUse"`
	HeatLower        bool `json:"heatLowerUse"`
	Compressor       bool `json:"compUse"`
	EvaporatorFan    bool `json:"evaFanUse"`
	EEV              bool `json:"eevUse"`
	Heating          bool `json:"isHeating"`
	EcoMode          bool `json:"isEcoMode"`

	HasError     bool `json:"hasError"`
	ErrorCode    int  `json:"errorCode"`
	SubErrorCode int  `json:"subErrorCode"`
	FaultStatus1 int  `json:"faultStatus1"`
	FaultStatus2 int  `json:"faultStatus2"`

	Raw json.RawMessage `json:"raw,omitempty"`
}

// DecodeMGPPStatus decodes response.status.
func DecodeMGPPStatus(raw json.RawMessage) *MGPPStatus {
	f := decodeFields(raw)
	tenth := func(key string) float64 { return DecodeTenthDegree(f.num(key, 0)) }
	on := func(key string) bool { return f.integer(key, 0) == mgppFlagOn }
	return &MGPPStatus{
		PowerOn:               f.truthy("powerStatus"),
		DHWTemperature:        DecodeHalfDegree(f.num("dhwTemperature", 0)),
		DHWTemperatureSetting: DecodeHalfDegree(f.num("dhwTemperatureSetting", 0)),
		DHWChargePercent:      f.integer("dhwChargePer", 0),
		OperationSetting:      OperationMode(f.integer("dhwOperationSetting", int(ModePowerOff))),
		VacationDaySetting:    f.integer("vacationDaySetting", 0),

		TankUpperTemperature:    tenth("tankUpperTemperature"),
		TankLowerTemperature:    tenth("tankLowerTemperature"),
		AmbientTemperature:      tenth("ambientTemperature"),
		DischargeTemperature:    tenth("dischargeTemperature"),
		SuctionTemperature:      tenth("suctionTemperature"),
		EvaporatorTemperature:   tenth("evaporatorTemperature"),
		CurrentSuperHeat:        tenth("currentSuperHeat"),
		TargetSuperHeat:         tenth("targetSuperHeat"),
		RecircFaucetTemperature: tenth("recircFaucetTemperature"),

		AntiLegionella:   on("antiLegionellaUse"),
		FreezeProtection: on("freezeProtectionUse"),
		HeatUpper:        on("heatUpperUse"),
		HeatLower:        on("heatLowerUse"),
		Compressor:       on("compUse"),
		EvaporatorFan:    on("evaFanUse"),
		EEV:              on("eevUse"),
		Heating:          f.truthy("isHeating"),
		EcoMode:          f.truthy("isEcoMode"),

		HasError:     f.truthy("hasError"),
		ErrorCode:    f.integer("errorCode", 0),
		SubErrorCode: f.integer("subErrorCode", 0),
		FaultStatus1: f.integer("faultStatus1", 0),
		FaultStatus2: f.integer("faultStatus2", 0),

		Raw: raw,
	}
}

// ErrorMessage describes the active error, or "" when there is none.
func (s *MGPPStatus) ErrorMessage() string {
	if s == nil || !s.HasError {
		return ""
	}
	if s.ErrorCode != 0 {
		return fmt.Sprintf("Error Code: %d (Sub: %d)", s.ErrorCode, s.SubErrorCode)
	}
	if s.FaultStatus1 != 0 || s.FaultStatus2 != 0 {
		return fmt.Sprintf("Fault Status: %d, %d", s.FaultStatus1, s.FaultStatus2)
	}
	return "Unknown error condition"
}

// Summary is a one-line human readable status.
func (s *MGPPStatus) Summary() string {
	if s == nil {
		return "No status data available"
	}
	parts := []string{"OFF"}
	if s.PowerOn {
		parts[0] = "ON"
	}
	parts = append(parts, fmt.Sprintf("Temp: %g°C (Target: %g°C)", s.DHWTemperature, s.DHWTemperatureSetting))
	if msg := s.ErrorMessage(); msg != "" {
		parts = append(parts, "ERROR: "+msg)
	}
	if s.Heating {
		parts = append(parts, "HEATING")
	}
	if s.EcoMode {
		parts = append(parts, "ECO MODE")
	}
	return strings.Join(parts, " | ")
}
