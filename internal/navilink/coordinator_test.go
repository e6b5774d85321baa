package navilink

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
)

type fakeAccount struct {
	mu       sync.Mutex
	signIns  int
	devices  []DeviceDescriptor
	signErr  error
	listErr  error
	tokenSeq int
}

func (a *fakeAccount) SignIn(_ context.Context, _, _ string) (*Session, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signIns++
	if a.signErr != nil {
		return nil, a.signErr
	}
	a.tokenSeq++
	return &Session{Token: TokenBundle{
		AccessToken:  "at",
		AccessKeyID:  testCredentials.AccessKeyID,
		SecretKey:    testCredentials.SecretKey,
		SessionToken: testCredentials.SessionToken,
	}, UserSeq: "42"}, nil
}

func (a *fakeAccount) ListDevices(_ context.Context, accessToken, _ string) ([]DeviceDescriptor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.listErr != nil {
		return nil, a.listErr
	}
	if accessToken != "at" {
		return nil, ErrUnableToConnect
	}
	return a.devices, nil
}

type memoryPreferences struct {
	mu       sync.Mutex
	disabled map[string]bool
}

func (p *memoryPreferences) LoadDisabled(context.Context) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var ids []string
	for id := range p.disabled {
		ids = append(ids, id)
	}
	return ids, nil
}

func (p *memoryPreferences) SaveDisabled(_ context.Context, id string, disabled bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if disabled {
		p.disabled[id] = true
	} else {
		delete(p.disabled, id)
	}
	return nil
}

func newTestCoordinator(t *testing.T, account *fakeAccount, cloud *fakeCloud, interval time.Duration) *Coordinator {
	t.Helper()
	c, err := NewCoordinator(CoordinatorOptions{
		Account:         account,
		Username:        "user@example.com",
		Password:        "hunter2",
		PollingInterval: interval,
		Dial:            cloud.dial,
		Clock:           clock.NewMock(),
	})
	if err != nil {
		t.Fatalf("NewCoordinator() error = %v", err)
	}
	t.Cleanup(c.Disconnect)
	return c
}

func TestCoordinatorLoginOnly(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("aa")}}
	cloud := newFakeCloud()
	c := newTestCoordinator(t, account, cloud, 0)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if account.signIns != 1 {
		t.Errorf("sign-ins = %d, want 1", account.signIns)
	}
	if cloud.dialCount() != 0 {
		t.Errorf("dials = %d, want 0 with polling disabled", cloud.dialCount())
	}
	if len(c.Descriptors()) != 1 {
		t.Errorf("Descriptors() = %v", c.Descriptors())
	}
}

func TestCoordinatorStart(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("aa"), legacyDescriptor("bb")}}
	cloud := newFakeCloud()
	cloud.addMGPP("aa")
	cloud.addLegacy("bb", 2, false, 2)
	c := newTestCoordinator(t, account, cloud, testInterval)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if err := c.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
	if got := c.Registry().Len(); got != 3 {
		t.Errorf("devices = %d, want 3", got)
	}
	if _, err := c.Device("bb_2"); err != nil {
		t.Errorf("Device(bb_2) error = %v", err)
	}
	if _, err := c.Device("zz"); !errors.Is(err, ErrUnknownDevice) {
		t.Errorf("Device(zz) error = %v, want ErrUnknownDevice", err)
	}
	if cloud.dialCount() != 1 {
		t.Errorf("dials = %d, want one shared transport", cloud.dialCount())
	}
	if st := c.Status(); !st.Connected || st.Gateways != 2 || st.Sessions != 3 {
		t.Errorf("Status() = %+v", st)
	}

	c.Disconnect()
	c.Disconnect()
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConnected) {
		t.Errorf("HealthCheck() after Disconnect error = %v", err)
	}
}

func TestCoordinatorMonitoredSubset(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("AA"), mgppDescriptor("bb")}}
	cloud := newFakeCloud()
	cloud.addMGPP("AA")
	cloud.addMGPP("bb")
	c := newTestCoordinator(t, account, cloud, testInterval)
	c.opts.MonitoredMACs = []string{"aa"}

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if _, err := c.Device("bb"); err == nil {
		t.Error("unmonitored gateway was connected")
	}
	if _, err := c.Device("AA"); err != nil {
		t.Errorf("Device(AA) error = %v", err)
	}
}

func TestCoordinatorDescriptorLookup(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("04786332FCA0"), legacyDescriptor("aabbccddeeff")}}
	c := newTestCoordinator(t, account, newFakeCloud(), 0)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for _, mac := range []string{"04786332fca0", "04:78:63:32:FC:A0", "04-78-63-32-fc-a0"} {
		d, ok := c.Descriptor(mac)
		if !ok || d.MAC != "04786332FCA0" {
			t.Errorf("Descriptor(%q) = %+v, %v", mac, d, ok)
		}
	}
	if _, ok := c.Descriptor("ffffffffffff"); ok {
		t.Error("Descriptor() found an undiscovered gateway")
	}

	account.mu.Lock()
	account.devices = []DeviceDescriptor{legacyDescriptor("aabbccddeeff")}
	account.mu.Unlock()
	if _, err := c.DiscoverDevices(context.Background()); err != nil {
		t.Fatalf("DiscoverDevices() error = %v", err)
	}
	if _, ok := c.Descriptor("04786332fca0"); ok {
		t.Error("Descriptor() kept a gateway missing from the latest discovery")
	}
	if d, ok := c.Descriptor("AA:BB:CC:DD:EE:FF"); !ok || d.Name != "Garage" {
		t.Errorf("Descriptor(AA:BB:CC:DD:EE:FF) = %+v, %v", d, ok)
	}
}

func TestCoordinatorStartTwice(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("aa")}}
	cloud := newFakeCloud()
	cloud.addMGPP("aa")
	c := newTestCoordinator(t, account, cloud, testInterval)

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	first := cloud.lastTransport()

	if err := c.Start(context.Background()); !errors.Is(err, ErrAlreadyStarted) {
		t.Fatalf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if n := cloud.dialCount(); n != 1 {
		t.Errorf("dials = %d, want 1", n)
	}
	if first.isClosed() || c.HealthCheck(context.Background()) != nil {
		t.Error("running link disturbed by second Start")
	}

	c.Disconnect()
	if !first.isClosed() {
		t.Error("transport still open after Disconnect")
	}
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() after Disconnect error = %v", err)
	}
	if n := cloud.dialCount(); n != 2 {
		t.Errorf("dials = %d after restart, want 2", n)
	}
}

func TestCoordinatorNoDevices(t *testing.T) {
	tests := []struct {
		name      string
		devices   []DeviceDescriptor
		monitored []string
	}{
		{"empty discovery", nil, nil},
		{"monitored not on account", []DeviceDescriptor{mgppDescriptor("aa")}, []string{"zz"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCoordinator(t, &fakeAccount{devices: tt.devices}, newFakeCloud(), testInterval)
			c.opts.MonitoredMACs = tt.monitored
			if err := c.Start(context.Background()); !errors.Is(err, ErrNoDevicesFound) {
				t.Errorf("Start() error = %v, want ErrNoDevicesFound", err)
			}
		})
	}
}

func TestCoordinatorLoginErrorsAreFatal(t *testing.T) {
	account := &fakeAccount{signErr: ErrUserNotFound}
	cloud := newFakeCloud()
	c := newTestCoordinator(t, account, cloud, testInterval)

	err := c.Start(context.Background())
	if !errors.Is(err, ErrAuth) {
		t.Fatalf("Start() error = %v, want ErrAuth", err)
	}
	if cloud.dialCount() != 0 {
		t.Errorf("dials = %d, want 0", cloud.dialCount())
	}
}

func TestCoordinatorPollingPreferences(t *testing.T) {
	prefs := &memoryPreferences{disabled: map[string]bool{"bb_1": true}}
	account := &fakeAccount{devices: []DeviceDescriptor{legacyDescriptor("bb")}}
	cloud := newFakeCloud()
	cloud.addLegacy("bb", 2, false, 2)
	c := newTestCoordinator(t, account, cloud, testInterval)
	c.opts.Preferences = prefs

	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if !c.IsPollingDisabled("bb_1") {
		t.Error("stored preference not loaded")
	}

	if err := c.SetPollingDisabled(context.Background(), "bb_2", true); err != nil {
		t.Fatalf("SetPollingDisabled() error = %v", err)
	}
	if err := c.SetPollingDisabled(context.Background(), "bb_1", false); err != nil {
		t.Fatalf("SetPollingDisabled() error = %v", err)
	}
	if got := c.DisabledDevices(); !reflect.DeepEqual(got, []string{"bb_2"}) {
		t.Errorf("DisabledDevices() = %v, want [bb_2]", got)
	}
	if !prefs.disabled["bb_2"] || prefs.disabled["bb_1"] {
		t.Errorf("persisted = %v", prefs.disabled)
	}

	c.SetDisabledDevices([]string{"bb_1", "bb_2"})
	if !c.IsPollingDisabled("bb_1") || !c.IsPollingDisabled("bb_2") {
		t.Error("SetDisabledDevices() did not replace the set")
	}
}

func TestCoordinatorRefreshRelogsIn(t *testing.T) {
	account := &fakeAccount{devices: []DeviceDescriptor{mgppDescriptor("aa")}}
	c := newTestCoordinator(t, account, newFakeCloud(), testInterval)

	if err := c.refresh(context.Background()); err != nil {
		t.Fatalf("refresh() error = %v", err)
	}
	if account.signIns != 1 {
		t.Errorf("sign-ins = %d, want 1", account.signIns)
	}
	if !c.credentials().Complete() {
		t.Error("credentials incomplete after refresh")
	}
}

func TestNewCoordinatorValidation(t *testing.T) {
	if _, err := NewCoordinator(CoordinatorOptions{Username: "u", Password: "p"}); err == nil {
		t.Error("NewCoordinator() without account expected error")
	}
	if _, err := NewCoordinator(CoordinatorOptions{Account: &fakeAccount{}}); err == nil {
		t.Error("NewCoordinator() without credentials expected error")
	}
}
