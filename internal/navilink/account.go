package navilink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Account server defaults.
const (
	DefaultAccountURL = "https://nlus.naviensmartcontrol.com/api/v2"

	defaultHTTPTimeout = 30 * time.Second
	deviceListPageSize = 20
	maxResponseBytes   = 1 << 20
	msgUserNotFound    = "USER_NOT_FOUND"
)

// TokenBundle is the short-lived token set issued at sign-in.
type TokenBundle struct {
	AccessToken  string
	AccessKeyID  string
	SecretKey    string
	SessionToken string
}

// Credentials returns the IoT half of the bundle.
func (t TokenBundle) Credentials() Credentials {
	return Credentials{
		AccessKeyID:  t.AccessKeyID,
		SecretKey:    t.SecretKey,
		SessionToken: t.SessionToken,
	}
}

// Session is the result of a successful sign-in.
type Session struct {
	Token   TokenBundle
	UserSeq string
}

// AccountClient talks to the NaviLink account server.
type AccountClient struct {
	baseURL string
	http    *http.Client
}

// NewAccountClient creates a client for baseURL. An empty baseURL uses
// DefaultAccountURL and a nil httpClient gets a 30 second timeout.
func NewAccountClient(baseURL string, httpClient *http.Client) *AccountClient {
	if baseURL == "" {
		baseURL = DefaultAccountURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultHTTPTimeout}
	}
	return &AccountClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpClient,
	}
}

type signInRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type signInResponse struct {
	Msg string `json:"msg"`
	Data *struct {
		Token struct {
			AccessToken  string `json:"accessToken"`
			AccessKeyID  string `json:"accessKeyId"`
			SecretKey    string `json:"secretKey"`
			SessionToken string `json:"sessionToken"`
		} `json:"token"`
		UserInfo struct {
			UserSeq FlexString `json:"userSeq"`
		} `json:"userInfo"`
	} `json:"data"`
}

// SignIn exchanges a user id and password for a token bundle.
//
// Returns:
//   - ErrUnableToConnect on a non-200 status
//   - ErrUserNotFound when the server reports USER_NOT_FOUND
//   - ErrNoResponseData when the body has no data object
func (c *AccountClient) SignIn(ctx context.Context, userID, password string) (*Session, error) {
	var resp signInResponse
	if err := c.post(ctx, "/user/sign-in", "", signInRequest{UserID: userID, Password: password}, &resp); err != nil {
		return nil, err
	}
	if resp.Msg == msgUserNotFound {
		return nil, ErrUserNotFound
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: sign-in", ErrNoResponseData)
	}
	return &Session{
		Token: TokenBundle{
			AccessToken:  resp.Data.Token.AccessToken,
			AccessKeyID:  resp.Data.Token.AccessKeyID,
			SecretKey:    resp.Data.Token.SecretKey,
			SessionToken: resp.Data.Token.SessionToken,
		},
		UserSeq: string(resp.Data.UserInfo.UserSeq),
	}, nil
}

type deviceListRequest struct {
	Offset int    `json:"offset"`
	Count  int    `json:"count"`
	UserID string `json:"userId"`
}

type deviceListResponse struct {
	Msg string `json:"msg"`
	Data *[]struct {
		DeviceInfo struct {
			MacAddress      string     `json:"macAddress"`
			DeviceName      string     `json:"deviceName"`
			DeviceType      *FlexInt   `json:"deviceType"`
			HomeSeq         FlexString `json:"homeSeq"`
			AdditionalValue string     `json:"additionalValue"`
		} `json:"deviceInfo"`
	} `json:"data"`
}

// ListDevices returns the gateways registered to the account. Entries
// without a MAC address are skipped.
func (c *AccountClient) ListDevices(ctx context.Context, accessToken, userID string) ([]DeviceDescriptor, error) {
	var resp deviceListResponse
	req := deviceListRequest{Offset: 0, Count: deviceListPageSize, UserID: userID}
	if err := c.post(ctx, "/device/list", accessToken, req, &resp); err != nil {
		return nil, err
	}
	if resp.Data == nil {
		return nil, fmt.Errorf("%w: device list", ErrNoResponseData)
	}

	devices := make([]DeviceDescriptor, 0, len(*resp.Data))
	for _, item := range *resp.Data {
		info := item.DeviceInfo
		if info.MacAddress == "" {
			continue
		}
		deviceType := 1
		if info.DeviceType != nil {
			deviceType = int(*info.DeviceType)
		}
		name := info.DeviceName
		if name == "" {
			name = "Unknown"
		}
		devices = append(devices, DeviceDescriptor{
			MAC:             info.MacAddress,
			Name:            name,
			DeviceType:      deviceType,
			HomeSeq:         string(info.HomeSeq),
			AdditionalValue: info.AdditionalValue,
		})
	}
	return devices, nil
}

func (c *AccountClient) post(ctx context.Context, path, authorization string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("posting %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s returned %d", ErrUnableToConnect, path, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return fmt.Errorf("reading %s response: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrNoResponseData, path, err)
	}
	return nil
}
