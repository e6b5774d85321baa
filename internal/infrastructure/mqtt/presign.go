package mqtt

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
)

const (
	// iotService is the SigV4 service name for the AWS IoT data plane.
	iotService = "iotdevicegateway"

	// websocketPath is the MQTT-over-WebSocket endpoint path.
	websocketPath = "/mqtt"

	// emptyPayloadHash is the hex SHA-256 of an empty body.
	emptyPayloadHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

	securityTokenParam = "X-Amz-Security-Token"
)

// Credentials are the temporary IAM credentials issued at account login.
type Credentials struct {
	AccessKeyID  string
	SecretKey    string
	SessionToken string
}

func (c Credentials) complete() bool {
	return c.AccessKeyID != "" && c.SecretKey != "" && c.SessionToken != ""
}

// PresignURL builds the SigV4-presigned wss:// URL for an AWS IoT endpoint.
//
// AWS IoT expects the session token to be appended after signing rather
// than included in the canonical request, so the signer only sees the
// access key and secret.
//
// Parameters:
//   - endpoint: host[:port] of the IoT data endpoint
//   - region: AWS region the endpoint lives in
//   - creds: temporary credentials from login
//   - signingTime: time the signature is valid from
func PresignURL(ctx context.Context, endpoint, region string, creds Credentials, signingTime time.Time) (string, error) {
	if !creds.complete() {
		return "", ErrInvalidCredentials
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "wss://"+endpoint+websocketPath, nil)
	if err != nil {
		return "", fmt.Errorf("building presign request: %w", err)
	}

	signer := v4.NewSigner()
	signed, _, err := signer.PresignHTTP(ctx, aws.Credentials{
		AccessKeyID:     creds.AccessKeyID,
		SecretAccessKey: creds.SecretKey,
	}, req, emptyPayloadHash, iotService, region, signingTime.UTC())
	if err != nil {
		return "", fmt.Errorf("presigning websocket url: %w", err)
	}

	return signed + "&" + securityTokenParam + "=" + url.QueryEscape(creds.SessionToken), nil
}
