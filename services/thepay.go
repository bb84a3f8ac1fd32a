package services

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"golang.org/x/sync/singleflight"

	"kiosk/utils"
)

// PaymentBackend is the slice of the kiosk backend API the monitoring
// engine needs: create a payment, read its status, cancel it.
type PaymentBackend interface {
	CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error)
	PaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusInfo, error)
	CancelPayment(ctx context.Context, paymentID string) error
}

// CreatePaymentRequest is the body for creating a ThePay payment.
type CreatePaymentRequest struct {
	KioskID int     `json:"kioskId"`
	Amount  float64 `json:"amount"`
}

// CreatePaymentResult is the backend's answer to a create call.
type CreatePaymentResult struct {
	PaymentID  string  `json:"paymentId"`
	PaymentURL string  `json:"paymentUrl"`
	Amount     float64 `json:"amount"`
}

// PaymentStatusInfo is one status snapshot for a payment.
type PaymentStatusInfo struct {
	PaymentID string `json:"paymentId"`
	Status    string `json:"status"`
	Reason    string `json:"reason,omitempty"`
}

// ThePayClient talks to the kiosk backend's ThePay endpoints.
type ThePayClient struct {
	baseURL string
	token   string
	client  *http.Client

	// Concurrent status reads for the same payment collapse into one
	// upstream request; the backend fronts a rate-limited banking API.
	statusGroup singleflight.Group
}

// NewThePayClient creates a backend client. token may be empty.
func NewThePayClient(baseURL, token string) *ThePayClient {
	return &ThePayClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

// CreatePayment registers a new payment with the backend and returns its
// id and the URL the customer pays at.
func (c *ThePayClient) CreatePayment(ctx context.Context, req CreatePaymentRequest) (*CreatePaymentResult, error) {
	body, err := sonic.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("error encoding create payment request: %w", err)
	}

	var result CreatePaymentResult
	if err := c.do(ctx, http.MethodPost, "/api/payments/thepay/create", body, &result); err != nil {
		return nil, err
	}
	if result.PaymentID == "" {
		return nil, fmt.Errorf("backend returned a payment without an id")
	}

	utils.Info("thepay", "Payment created", "payment_id", result.PaymentID, "amount", result.Amount)
	return &result, nil
}

// PaymentStatus fetches the current status of a payment.
func (c *ThePayClient) PaymentStatus(ctx context.Context, paymentID string) (*PaymentStatusInfo, error) {
	v, err, _ := c.statusGroup.Do(paymentID, func() (interface{}, error) {
		var info PaymentStatusInfo
		if err := c.do(ctx, http.MethodGet, "/api/payments/thepay/status/"+paymentID, nil, &info); err != nil {
			return nil, err
		}
		return &info, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*PaymentStatusInfo), nil
}

// CancelPayment asks the backend to cancel a payment.
func (c *ThePayClient) CancelPayment(ctx context.Context, paymentID string) error {
	body, err := sonic.Marshal(map[string]string{"paymentId": paymentID})
	if err != nil {
		return fmt.Errorf("error encoding cancel request: %w", err)
	}

	if err := c.do(ctx, http.MethodPost, "/api/payments/thepay/cancel", body, nil); err != nil {
		return err
	}

	utils.Info("thepay", "Payment cancelled", "payment_id", paymentID)
	return nil
}

// do performs one backend call and decodes the JSON response into out when
// out is non-nil.
func (c *ThePayClient) do(ctx context.Context, method, path string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("error building %s %s request: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("error calling %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("backend returned %d for %s %s: %s", resp.StatusCode, method, path, payload)
	}

	if out == nil {
		return nil
	}

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("error reading %s %s response: %w", method, path, err)
	}
	if err := sonic.Unmarshal(payload, out); err != nil {
		return fmt.Errorf("error decoding %s %s response: %w", method, path, err)
	}

	return nil
}
