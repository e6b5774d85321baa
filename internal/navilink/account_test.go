package navilink

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

func newAccountServer(t *testing.T, handler http.HandlerFunc) *AccountClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewAccountClient(srv.URL, srv.Client())
}

func TestSignIn(t *testing.T) {
	client := newAccountServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/user/sign-in" || r.Method != http.MethodPost {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["userId"] != "user@example.com" || body["password"] != "hunter2" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"code":200,"msg":"SUCCESS","data":{
			"token":{"accessToken":"at","accessKeyId":"ak","secretKey":"sk","sessionToken":"st"},
			"userInfo":{"userSeq":123456}}}`))
	})

	session, err := client.SignIn(context.Background(), "user@example.com", "hunter2")
	if err != nil {
		t.Fatalf("SignIn() error = %v", err)
	}
	if session.UserSeq != "123456" {
		t.Errorf("UserSeq = %q, want 123456", session.UserSeq)
	}
	want := Credentials{AccessKeyID: "ak", SecretKey: "sk", SessionToken: "st"}
	if session.Token.Credentials() != want || session.Token.AccessToken != "at" {
		t.Errorf("token = %+v", session.Token)
	}
}

func TestSignInErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr error
	}{
		{"non-200", http.StatusInternalServerError, `{}`, ErrUnableToConnect},
		{"user not found", http.StatusOK, `{"msg":"USER_NOT_FOUND"}`, ErrUserNotFound},
		{"missing data", http.StatusOK, `{"msg":"SUCCESS"}`, ErrNoResponseData},
		{"invalid body", http.StatusOK, `<html>`, ErrNoResponseData},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newAccountServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			})
			_, err := client.SignIn(context.Background(), "u", "p")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("SignIn() error = %v, want %v", err, tt.wantErr)
			}
			if !IsFatal(err) {
				t.Errorf("IsFatal(%v) = false", err)
			}
		})
	}
}

func TestAuthErrorsShareParent(t *testing.T) {
	for _, err := range []error{ErrUnableToConnect, ErrUserNotFound} {
		if !errors.Is(err, ErrAuth) {
			t.Errorf("errors.Is(%v, ErrAuth) = false", err)
		}
	}
	if errors.Is(ErrNoResponseData, ErrAuth) {
		t.Error("ErrNoResponseData must not be an ErrAuth")
	}
}

func TestListDevices(t *testing.T) {
	client := newAccountServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/device/list" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "at" {
			t.Errorf("Authorization = %q, want at", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["count"] != float64(20) || body["offset"] != float64(0) || body["userId"] != "u" {
			t.Errorf("body = %v", body)
		}
		_, _ = w.Write([]byte(`{"data":[
			{"deviceInfo":{"macAddress":"aa","deviceName":"Garage","deviceType":1,"homeSeq":77,"additionalValue":"x"}},
			{"deviceInfo":{"macAddress":"bb","deviceType":"52","homeSeq":"78"}},
			{"deviceInfo":{"deviceName":"no mac"}},
			{"deviceInfo":{"macAddress":"cc","deviceName":"Attic"}}
		]}`))
	})

	devices, err := client.ListDevices(context.Background(), "at", "u")
	if err != nil {
		t.Fatalf("ListDevices() error = %v", err)
	}
	want := []DeviceDescriptor{
		{MAC: "aa", Name: "Garage", DeviceType: 1, HomeSeq: "77", AdditionalValue: "x"},
		{MAC: "bb", Name: "Unknown", DeviceType: 52, HomeSeq: "78"},
		{MAC: "cc", Name: "Attic", DeviceType: 1},
	}
	if len(devices) != len(want) {
		t.Fatalf("devices = %d, want %d", len(devices), len(want))
	}
	for i := range want {
		if devices[i] != want[i] {
			t.Errorf("device[%d] = %+v, want %+v", i, devices[i], want[i])
		}
	}
	if devices[1].Dialect() != DialectMGPP {
		t.Error("device type 52 should be MGPP")
	}
}

func TestListDevicesMissingData(t *testing.T) {
	client := newAccountServer(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"msg":"SUCCESS"}`))
	})
	if _, err := client.ListDevices(context.Background(), "at", "u"); !errors.Is(err, ErrNoResponseData) {
		t.Errorf("ListDevices() error = %v, want ErrNoResponseData", err)
	}
}
