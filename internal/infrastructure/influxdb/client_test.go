package influxdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/kbuck1/navilink/internal/infrastructure/config"
	"github.com/kbuck1/navilink/internal/navilink"
)

// fakeInflux serves /ping and captures /api/v2/write bodies.
type fakeInflux struct {
	*httptest.Server
	writes      chan string
	writeStatus int
}

func newFakeInflux(t *testing.T, writeStatus int) *fakeInflux {
	t.Helper()
	f := &fakeInflux{writes: make(chan string, 16), writeStatus: writeStatus}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ping":
			w.WriteHeader(http.StatusNoContent)
		case "/api/v2/write":
			body, _ := io.ReadAll(r.Body) //nolint:errcheck // Test server
			f.writes <- string(body)
			if f.writeStatus >= 400 {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(f.writeStatus)
				_, _ = w.Write([]byte(`{"code":"invalid","message":"bad point"}`)) //nolint:errcheck // Test server
				return
			}
			w.WriteHeader(http.StatusNoContent)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(f.Close)
	return f
}

func testConfig(url string) config.InfluxDBConfig {
	return config.InfluxDBConfig{
		Enabled:       true,
		URL:           url,
		Token:         "test-token",
		Org:           "navilink",
		Bucket:        "water_heaters",
		BatchSize:     1,
		FlushInterval: 1,
	}
}

func lineProtocol(points []*write.Point) []string {
	lines := make([]string, 0, len(points))
	for _, p := range points {
		lines = append(lines, write.PointToLineProtocol(p, time.Second))
	}
	return lines
}

func assertContains(t *testing.T, line string, parts ...string) {
	t.Helper()
	for _, part := range parts {
		if !strings.Contains(line, part) {
			t.Errorf("line %q does not contain %q", line, part)
		}
	}
}

// =============================================================================
// Connection Tests
// =============================================================================

func TestConnect_Disabled(t *testing.T) {
	cfg := testConfig("http://127.0.0.1:1")
	cfg.Enabled = false

	if _, err := Connect(context.Background(), cfg); !errors.Is(err, ErrDisabled) {
		t.Errorf("Connect() error = %v, want ErrDisabled", err)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	_, err := Connect(context.Background(), testConfig("http://127.0.0.1:1"))
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestConnectAndHealthCheck(t *testing.T) {
	server := newFakeInflux(t, http.StatusNoContent)

	cfg := testConfig(server.URL)
	cfg.BatchSize = 0
	cfg.FlushInterval = -1

	client, err := Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if err := client.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}

	client.Close() //nolint:errcheck // Always nil
	client.Close() //nolint:errcheck // Second close is a no-op
	if err := client.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestNilClient(t *testing.T) {
	var c *Client
	if c.IsConnected() {
		t.Error("nil client reports connected")
	}
	if err := c.Close(); err != nil {
		t.Errorf("Close() on nil client error = %v", err)
	}
	c.WriteDeviceStatus(navilink.Snapshot{ID: "x"})
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriteDeviceStatus(t *testing.T) {
	server := newFakeInflux(t, http.StatusNoContent)

	client, err := Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	client.WriteDeviceStatus(navilink.Snapshot{
		ID:                "aabbcc",
		MAC:               "aabbcc",
		Dialect:           "mgpp",
		Available:         true,
		TargetTemperature: 120,
	})
	client.Flush()

	select {
	case body := <-server.writes:
		assertContains(t, body, "water_heater,", "device_id=aabbcc", "target_temperature=120")
	case <-time.After(5 * time.Second):
		t.Fatal("no write reached the server")
	}
}

func TestWriteErrorsReachCallback(t *testing.T) {
	server := newFakeInflux(t, http.StatusBadRequest)

	client, err := Connect(context.Background(), testConfig(server.URL))
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close() //nolint:errcheck // Test cleanup

	errCh := make(chan error, 4)
	client.SetOnError(func(err error) {
		select {
		case errCh <- err:
		default:
		}
	})

	client.WriteDeviceStatus(navilink.Snapshot{ID: "aabbcc", Available: true})
	client.Flush()

	select {
	case err := <-errCh:
		if err == nil {
			t.Error("callback received nil error")
		}
	case <-time.After(5 * time.Second):
		t.Fatal("write error was not delivered to the callback")
	}
}

// =============================================================================
// Point Tests
// =============================================================================

func TestStatusPoints_Unavailable(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	points := statusPoints(navilink.Snapshot{ID: "dev", MAC: "dev", Dialect: "legacy", PowerOn: true}, ts)
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	line := lineProtocol(points)[0]
	assertContains(t, line, "available=false", "unit=F")
	if strings.Contains(line, "power_on") {
		t.Errorf("unavailable point carries state fields: %q", line)
	}
	if !strings.HasSuffix(line, " 1772366400\n") && !strings.HasSuffix(line, " 1772366400") {
		t.Errorf("timestamp not taken from fallback: %q", line)
	}
}

func TestStatusPoints_MGPP(t *testing.T) {
	updated := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	snap := navilink.Snapshot{
		ID:                 "aabbcc",
		MAC:                "aabbcc",
		Dialect:            "mgpp",
		Available:          true,
		Celsius:            true,
		PowerOn:            true,
		CurrentTemperature: 48.5,
		TargetTemperature:  50,
		OperationMode:      "hybrid",
		UpdatedAt:          updated,
		MGPP: &navilink.MGPPStatus{
			DHWChargePercent:     80,
			TankUpperTemperature: 49.5,
			Compressor:           true,
		},
	}

	points := statusPoints(snap, time.Now())
	if len(points) != 1 {
		t.Fatalf("points = %d, want 1", len(points))
	}
	line := lineProtocol(points)[0]
	assertContains(t, line,
		"water_heater,",
		"dialect=mgpp",
		"unit=C",
		"current_temperature=48.5",
		"dhw_charge_percent=80i",
		"compressor=true",
		`operation_mode="hybrid"`,
	)
	if strings.Contains(line, "hot_button") {
		t.Errorf("hot_button written for a device without support: %q", line)
	}
}

func TestStatusPoints_LegacyUnits(t *testing.T) {
	snap := navilink.Snapshot{
		ID:                "aabbcc_1",
		MAC:               "aabbcc",
		Dialect:           "legacy",
		Available:         true,
		SupportsHotButton: true,
		HotButton:         true,
		Legacy: &navilink.LegacyChannelStatus{
			AvgInletTemp: 55,
			Units: []navilink.LegacyUnitStatus{
				{GasInstantUsage: 12.5, CurrentOutletTemp: 120},
				{GasInstantUsage: 3, CurrentOutletTemp: 118},
			},
		},
	}

	lines := lineProtocol(statusPoints(snap, time.Now()))
	if len(lines) != 3 {
		t.Fatalf("points = %d, want status plus 2 units", len(lines))
	}
	assertContains(t, lines[0], "hot_button=true", "avg_inlet_temperature=55")
	assertContains(t, lines[1], "water_heater_unit,", "unit_index=1", "gas_instant_usage=12.5")
	assertContains(t, lines[2], "unit_index=2", "outlet_temperature=118")
}
