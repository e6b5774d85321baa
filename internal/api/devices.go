package api

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kbuck1/navilink/internal/navilink"
)

// Command names accepted by POST /devices/{id}/commands.
const (
	CommandPower            = "power"
	CommandTemperature      = "temperature"
	CommandOperationMode    = "operation_mode"
	CommandAntiLegionella   = "anti_legionella"
	CommandFreezeProtection = "freeze_protection"
	CommandRecircHotButton  = "recirc_hot_button"
)

// History query limits.
const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// deviceResponse is a snapshot plus the API-side polling flag.
type deviceResponse struct {
	navilink.Snapshot
	PollingDisabled bool `json:"polling_disabled"`
}

// commandRequest is the body of POST /devices/{id}/commands.
//
// "on" drives the switch commands, "value" the temperature, and
// "mode" (or a numeric "value") the operation mode.
type commandRequest struct {
	Command string   `json:"command"`
	On      *bool    `json:"on,omitempty"`
	Value   *float64 `json:"value,omitempty"`
	Mode    string   `json:"mode,omitempty"`
	Days    int      `json:"days,omitempty"`
}

// pollingRequest is the body of PUT /devices/{id}/polling.
type pollingRequest struct {
	Disabled *bool `json:"disabled"`
}

func (s *Server) deviceResponse(snap navilink.Snapshot) deviceResponse {
	return deviceResponse{
		Snapshot:        snap,
		PollingDisabled: s.devices.IsPollingDisabled(snap.ID),
	}
}

// lookupDevice resolves the {id} URL parameter, writing 404 on failure.
func (s *Server) lookupDevice(w http.ResponseWriter, r *http.Request) (string, Device, bool) {
	id := chi.URLParam(r, "id")
	d, err := s.devices.Device(id)
	if err != nil {
		if errors.Is(err, navilink.ErrUnknownDevice) {
			writeNotFound(w, "device not found")
			return id, nil, false
		}
		writeInternalError(w, "failed to look up device")
		return id, nil, false
	}
	return id, d, true
}

// handleListDevices returns every device session, sorted by id.
func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	devices := s.devices.Devices()
	out := make([]deviceResponse, 0, len(devices))
	for _, d := range devices {
		out = append(out, s.deviceResponse(d.Snapshot()))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	writeJSON(w, http.StatusOK, map[string]any{
		"devices": out,
		"count":   len(out),
	})
}

// handleGetDevice returns one device snapshot.
func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	_, d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, s.deviceResponse(d.Snapshot()))
}

// handleDeviceCommand validates and sends one control command, then
// returns the refreshed snapshot.
func (s *Server) handleDeviceCommand(w http.ResponseWriter, r *http.Request) {
	id, d, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	run, msg := commandFunc(d, req)
	if run == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, msg)
		return
	}

	if s.commands != nil {
		s.commands.ExpectCommand(id)
	}
	if err := run(r); err != nil {
		s.logger.Warn("device command failed",
			"device_id", id,
			"command", req.Command,
			"error", err,
		)
		writeSessionError(w, err)
		return
	}

	s.logger.Info("device command sent", "device_id", id, "command", req.Command)
	writeJSON(w, http.StatusOK, s.deviceResponse(d.Snapshot()))
}

// commandFunc turns a request into the matching Device call. A nil func
// comes with a validation message.
func commandFunc(d Device, req commandRequest) (func(*http.Request) error, string) {
	switch req.Command {
	case CommandPower, CommandAntiLegionella, CommandFreezeProtection, CommandRecircHotButton:
		if req.On == nil {
			return nil, `"on" is required for ` + req.Command
		}
		on := *req.On
		set := map[string]func(*http.Request) error{
			CommandPower:            func(r *http.Request) error { return d.SetPowerState(r.Context(), on) },
			CommandAntiLegionella:   func(r *http.Request) error { return d.SetAntiLegionella(r.Context(), on) },
			CommandFreezeProtection: func(r *http.Request) error { return d.SetFreezeProtection(r.Context(), on) },
			CommandRecircHotButton:  func(r *http.Request) error { return d.SetRecircHotButton(r.Context(), on) },
		}
		return set[req.Command], ""

	case CommandTemperature:
		if req.Value == nil || math.IsNaN(*req.Value) || math.IsInf(*req.Value, 0) || *req.Value <= 0 {
			return nil, `"value" must be a positive temperature`
		}
		temp := *req.Value
		return func(r *http.Request) error { return d.SetTemperature(r.Context(), temp) }, ""

	case CommandOperationMode:
		mode, ok := requestedMode(req)
		if !ok {
			return nil, `"mode" must be one of standby, heat_pump, electric, eco, high_demand, vacation, power_off`
		}
		if req.Days < 0 {
			return nil, `"days" must not be negative`
		}
		days := req.Days
		return func(r *http.Request) error { return d.SetOperationMode(r.Context(), mode, days) }, ""

	case "":
		return nil, `"command" is required`
	default:
		return nil, "unknown command: " + req.Command
	}
}

// requestedMode reads the mode by name, or by number from "value".
func requestedMode(req commandRequest) (navilink.OperationMode, bool) {
	if req.Mode != "" {
		return navilink.ParseOperationMode(req.Mode)
	}
	if req.Value == nil {
		return 0, false
	}
	v := *req.Value
	if v != math.Trunc(v) || v < float64(navilink.ModeStandby) || v > float64(navilink.ModePowerOff) {
		return 0, false
	}
	return navilink.OperationMode(int(v)), true
}

// handleGetPolling reports whether background polling is off for a device.
func (s *Server) handleGetPolling(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"disabled":  s.devices.IsPollingDisabled(id),
	})
}

// handleSetPolling turns background polling off or back on for a device.
func (s *Server) handleSetPolling(w http.ResponseWriter, r *http.Request) {
	id, _, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	var req pollingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Disabled == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, `"disabled" is required`)
		return
	}

	if err := s.devices.SetPollingDisabled(r.Context(), id, *req.Disabled); err != nil {
		s.logger.Error("saving polling preference failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to save polling preference")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"disabled":  s.devices.IsPollingDisabled(id),
	})
}

// handleDeviceHistory returns recorded snapshots, newest first.
//
// Query parameters:
//   - limit: max entries (default 50, max 200)
func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, "state history is not configured")
		return
	}
	id, _, ok := s.lookupDevice(w, r)
	if !ok {
		return
	}

	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeBadRequest(w, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	entries, err := s.history.GetHistory(r.Context(), id, limit)
	if err != nil {
		s.logger.Error("reading state history failed", "device_id", id, "error", err)
		writeInternalError(w, "failed to read state history")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"history":   entries,
		"count":     len(entries),
	})
}
