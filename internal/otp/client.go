// ABOUTME: HTTP client for the external WhatsApp verification service.
// ABOUTME: Starts verifications and checks submitted codes, never storing codes locally.

package otp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrVerifyUnavailable is returned when the verification service cannot be
// reached or responds with an unexpected status.
var ErrVerifyUnavailable = errors.New("verification service unavailable")

// VerificationStatus mirrors the status field returned by the verification
// service ("pending", "approved", "canceled").
type VerificationStatus string

const (
	StatusPending  VerificationStatus = "pending"
	StatusApproved VerificationStatus = "approved"
)

// Verifier starts and checks one-time code verifications for a phone number.
type Verifier interface {
	Start(ctx context.Context, phoneNumber string) (VerificationStatus, error)
	Check(ctx context.Context, phoneNumber, code string) (bool, error)
}

// Client talks to an external verify service over its REST API. Codes are
// generated and validated by that service; the gateway only relays requests.
type Client struct {
	http       *resty.Client
	serviceSID string
	logger     *slog.Logger
}

// startResponse is the verify service response for a started verification.
type startResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
}

// checkResponse is the verify service response for a verification check.
type checkResponse struct {
	SID    string `json:"sid"`
	Status string `json:"status"`
	Valid  bool   `json:"valid"`
}

// NewClient creates a verification client for the service at baseURL.
// The API key is sent as a bearer token on every request.
func NewClient(baseURL, serviceSID, apiKey string, logger *slog.Logger) *Client {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(10 * time.Second).
		SetHeader("Accept", "application/json")

	if apiKey != "" {
		httpClient.SetAuthToken(apiKey)
	}

	return &Client{
		http:       httpClient,
		serviceSID: serviceSID,
		logger:     logger.With("component", "otp-client"),
	}
}

// Start asks the verify service to deliver a one-time code to the given phone
// number over WhatsApp. Returns the verification status reported by the
// service.
func (c *Client) Start(ctx context.Context, phoneNumber string) (VerificationStatus, error) {
	var result startResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":      phoneNumber,
			"Channel": "whatsapp",
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/v2/Services/%s/Verifications", c.serviceSID))
	if err != nil {
		c.logger.Error("starting verification", "error", err)
		return "", fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}

	if resp.IsError() {
		c.logger.Error("verify service rejected start", "status", resp.StatusCode())
		return "", fmt.Errorf("%w: status %d", ErrVerifyUnavailable, resp.StatusCode())
	}

	return VerificationStatus(result.Status), nil
}

// Check submits a code for the given phone number. Returns true only when the
// service reports the verification as approved; a wrong or expired code is not
// an error.
func (c *Client) Check(ctx context.Context, phoneNumber, code string) (bool, error) {
	var result checkResponse

	resp, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"To":   phoneNumber,
			"Code": code,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/v2/Services/%s/VerificationChecks", c.serviceSID))
	if err != nil {
		c.logger.Error("checking verification", "error", err)
		return false, fmt.Errorf("%w: %v", ErrVerifyUnavailable, err)
	}

	if resp.IsError() {
		// The verify service answers 404 for codes it has already consumed
		// or never issued. Treat that as a failed check, not an outage.
		if resp.StatusCode() == 404 {
			return false, nil
		}
		c.logger.Error("verify service rejected check", "status", resp.StatusCode())
		return false, fmt.Errorf("%w: status %d", ErrVerifyUnavailable, resp.StatusCode())
	}

	return VerificationStatus(result.Status) == StatusApproved, nil
}
