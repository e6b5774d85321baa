package navilink

import "encoding/json"

// LegacyChannelInfo is the static description of one Legacy channel.
// Setpoint limits are already converted to degrees for Celsius channels.
type LegacyChannelInfo struct {
	ChannelNumber   int
	TemperatureType TemperatureType
	UnitCount       int
	SetupDHWTempMin float64
	SetupDHWTempMax float64
	OnDemandUse     int
	Raw             json.RawMessage
}

// IsCelsius reports whether setpoints travel in half-degree Celsius.
// Anything other than Fahrenheit counts, as the cloud does.
func (i LegacyChannelInfo) IsCelsius() bool {
	return i.TemperatureType != TemperatureFahrenheit
}

// SupportsHotButton reports whether the channel has an on-demand recirculation button.
func (i LegacyChannelInfo) SupportsHotButton() bool {
	return i.OnDemandUse == 1
}

func decodeLegacyChannelInfo(channelNumber int, raw json.RawMessage) LegacyChannelInfo {
	f := decodeFields(raw)
	info := LegacyChannelInfo{
		ChannelNumber:   channelNumber,
		TemperatureType: TemperatureType(f.integer("temperatureType", int(TemperatureFahrenheit))),
		UnitCount:       f.integer("unitCount", 1),
		SetupDHWTempMin: f.num("setupDHWTempMin", 0),
		SetupDHWTempMax: f.num("setupDHWTempMax", 0),
		OnDemandUse:     f.integer("onDemandUse", 2),
		Raw:             raw,
	}
	if info.TemperatureType == TemperatureCelsius {
		info.SetupDHWTempMin = round1(info.SetupDHWTempMin / legacyCelsiusDivisor)
		info.SetupDHWTempMax = round1(info.SetupDHWTempMax / legacyCelsiusDivisor)
	}
	return info
}

// LegacyUnitStatus is one cascaded unit of a Legacy channel, converted.
type LegacyUnitStatus struct {
	GasInstantUsage     float64 `json:"gasInstantUsage"`
	AccumulatedGasUsage float64 `json:"accumulatedGasUsage"`
	DHWFlowRate         float64 `json:"DHWFlowRate"`
	CurrentOutletTemp   float64 `json:"currentOutletTemp"`
	CurrentInletTemp    float64 `json:"currentInletTemp"`
}

// LegacyChannelStatus is the decoded status of one Legacy channel.
type LegacyChannelStatus struct {
	PowerStatus     bool               `json:"powerStatus"`
	OnDemandUseFlag bool               `json:"onDemandUseFlag"`
	AvgCalorie      float64            `json:"avgCalorie"`
	UnitType        int                `json:"unitType"`
	UnitCount       int                `json:"unitCount"`
	DHWSettingTemp  float64            `json:"DHWSettingTemp"`
	AvgInletTemp    float64            `json:"avgInletTemp"`
	AvgOutletTemp   float64            `json:"avgOutletTemp"`
	Units           []LegacyUnitStatus `json:"units"`
	Raw             json.RawMessage    `json:"raw,omitempty"`
}

// CurrentTemperature is the mean outlet temperature across units.
func (s *LegacyChannelStatus) CurrentTemperature() float64 {
	if s == nil || len(s.Units) == 0 {
		return 0
	}
	var sum float64
	for _, u := range s.Units {
		sum += u.CurrentOutletTemp
	}
	return round1(sum / float64(len(s.Units)))
}

// DecodeLegacyChannelStatus converts a raw channel status object using the
// unit-type scaling tables for the channel's temperature encoding.
func DecodeLegacyChannelStatus(raw json.RawMessage, tempType TemperatureType) *LegacyChannelStatus {
	f := decodeFields(raw)
	s := &LegacyChannelStatus{
		PowerStatus:     f.integer("powerStatus", 0) == 1,
		OnDemandUseFlag: f.integer("onDemandUseFlag", 0) == 1,
		AvgCalorie:      f.num("avgCalorie", 0) / 2.0,
		UnitType:        f.integer("unitType", 0),
		UnitCount:       f.integer("unitCount", 0),
		DHWSettingTemp:  f.num("DHWSettingTemp", 0),
		AvgInletTemp:    f.num("avgInletTemp", 0),
		AvgOutletTemp:   f.num("avgOutletTemp", 0),
		Raw:             raw,
	}

	var list []json.RawMessage
	if err := json.Unmarshal(f.object("unitInfo")["unitStatusList"], &list); err != nil {
		list = nil
	}
	scaled := scaledUnitTypes[s.UnitType]
	for i, item := range list {
		u := decodeFields(item)
		unit := LegacyUnitStatus{
			GasInstantUsage:     u.num("gasInstantUsage", 0),
			AccumulatedGasUsage: u.num("accumulatedGasUsage", 0),
			DHWFlowRate:         u.num("DHWFlowRate", 0),
			CurrentOutletTemp:   u.num("currentOutletTemp", 0),
			CurrentInletTemp:    u.num("currentInletTemp", 0),
		}
		if scaled && i < s.UnitCount {
			unit = convertLegacyUnit(unit, s.UnitType, tempType)
		}
		s.Units = append(s.Units, unit)
	}

	if scaled && tempType == TemperatureCelsius {
		s.DHWSettingTemp = round1(s.DHWSettingTemp / legacyCelsiusDivisor)
		s.AvgInletTemp = round1(s.AvgInletTemp / legacyCelsiusDivisor)
		s.AvgOutletTemp = round1(s.AvgOutletTemp / legacyCelsiusDivisor)
	}
	return s
}

func convertLegacyUnit(u LegacyUnitStatus, unitType int, tempType TemperatureType) LegacyUnitStatus {
	u.GasInstantUsage = DecodeGasInstantUsage(u.GasInstantUsage, unitType, tempType)
	switch tempType {
	case TemperatureCelsius:
		u.AccumulatedGasUsage = round1(u.AccumulatedGasUsage / 10.0)
		u.DHWFlowRate = round1(u.DHWFlowRate / 10.0)
		u.CurrentOutletTemp = round1(u.CurrentOutletTemp / legacyCelsiusDivisor)
		u.CurrentInletTemp = round1(u.CurrentInletTemp / legacyCelsiusDivisor)
	case TemperatureFahrenheit:
		u.AccumulatedGasUsage = round1(u.AccumulatedGasUsage * cubicFeetPerCubicM / 10.0)
		u.DHWFlowRate = round1(u.DHWFlowRate / litresPerUSGallon)
	}
	return u
}
