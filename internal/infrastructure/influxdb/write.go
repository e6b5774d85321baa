package influxdb

import (
	"strconv"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kbuck1/navilink/internal/navilink"
)

// Measurement names.
const (
	measurementStatus = "water_heater"
	measurementUnit   = "water_heater_unit"
)

// WriteDeviceStatus queues one point describing a device session snapshot,
// plus one point per Legacy unit. Unavailable sessions are recorded with
// only the availability field so gaps are visible in dashboards.
func (c *Client) WriteDeviceStatus(snap navilink.Snapshot) {
	if !c.IsConnected() {
		return
	}
	for _, p := range statusPoints(snap, time.Now()) {
		c.writeAPI.WritePoint(p)
	}
}

// statusPoints converts a snapshot to line protocol points. ts is used
// when the snapshot carries no update time.
func statusPoints(snap navilink.Snapshot, ts time.Time) []*write.Point {
	if !snap.UpdatedAt.IsZero() {
		ts = snap.UpdatedAt
	}

	tags := map[string]string{
		"device_id": snap.ID,
		"mac":       snap.MAC,
		"dialect":   snap.Dialect,
		"unit":      "F",
	}
	if snap.Celsius {
		tags["unit"] = "C"
	}

	fields := map[string]interface{}{
		"available": snap.Available,
	}
	if !snap.Available {
		return []*write.Point{write.NewPoint(measurementStatus, tags, fields, ts)}
	}

	fields["power_on"] = snap.PowerOn
	fields["current_temperature"] = snap.CurrentTemperature
	fields["target_temperature"] = snap.TargetTemperature
	if snap.SupportsHotButton {
		fields["hot_button"] = snap.HotButton
	}
	if snap.OperationMode != "" {
		fields["operation_mode"] = snap.OperationMode
	}

	points := make([]*write.Point, 0, 1)
	if s := snap.MGPP; s != nil {
		fields["dhw_charge_percent"] = s.DHWChargePercent
		fields["tank_upper_temperature"] = s.TankUpperTemperature
		fields["tank_lower_temperature"] = s.TankLowerTemperature
		fields["ambient_temperature"] = s.AmbientTemperature
		fields["discharge_temperature"] = s.DischargeTemperature
		fields["heating"] = s.Heating
		fields["compressor"] = s.Compressor
		fields["upper_element"] = s.HeatUpper
		fields["lower_element"] = s.HeatLower
		fields["error_code"] = s.ErrorCode
	}
	if s := snap.Legacy; s != nil {
		fields["avg_inlet_temperature"] = s.AvgInletTemp
		fields["avg_outlet_temperature"] = s.AvgOutletTemp
		fields["avg_calorie"] = s.AvgCalorie
		for i, u := range s.Units {
			unitTags := map[string]string{
				"device_id":  snap.ID,
				"mac":        snap.MAC,
				"unit_index": strconv.Itoa(i + 1),
			}
			points = append(points, write.NewPoint(measurementUnit, unitTags, map[string]interface{}{
				"gas_instant_usage":     u.GasInstantUsage,
				"accumulated_gas_usage": u.AccumulatedGasUsage,
				"flow_rate":             u.DHWFlowRate,
				"outlet_temperature":    u.CurrentOutletTemp,
				"inlet_temperature":     u.CurrentInletTemp,
			}, ts))
		}
	}

	return append([]*write.Point{write.NewPoint(measurementStatus, tags, fields, ts)}, points...)
}
