package billing

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/HyeonKimDev/SubLedger/internal/pkg/env"
)

const defaultPortOneAPIBaseURL = "https://api.portone.io"

// PortOneClient talks to the PortOne V2 REST API: payment lookup plus
// creation, listing and revocation of scheduled recurring charges.
type PortOneClient struct {
	APISecret string
	StoreID   string

	APIBaseURL string

	HTTPClient *http.Client
}

// PortOnePayment is the authoritative payment detail fetched from the
// provider. BillingKey is empty when the customer has no recurring-billing
// credential on file.
type PortOnePayment struct {
	ID         string
	OrderName  string
	Amount     int64
	Currency   string
	BillingKey string
	CustomerID string
}

// PortOneSchedule is one pending scheduled charge on the provider side.
// PaymentID is the id the charge will be created under when it fires, which
// is how locally-minted schedule correlation ids are matched.
type PortOneSchedule struct {
	ID        string
	PaymentID string
	TimeToPay time.Time
}

// ScheduleRequest describes a future recurring charge to register.
type ScheduleRequest struct {
	BillingKey string
	OrderName  string
	CustomerID string
	Amount     int64
	Currency   string
	TimeToPay  time.Time
}

func NewPortOneClientFromEnv() (*PortOneClient, error) {
	secret, err := env.RequireEnv("PORTONE_API_SECRET")
	if err != nil {
		return nil, err
	}
	storeID, err := env.RequireEnv("PORTONE_STORE_ID")
	if err != nil {
		return nil, err
	}

	return &PortOneClient{
		APISecret:  secret,
		StoreID:    storeID,
		APIBaseURL: strings.TrimRight(env.GetEnv("PORTONE_API_BASE_URL", defaultPortOneAPIBaseURL), "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}, nil
}

// GetPayment fetches the payment identified by paymentID.
func (c *PortOneClient) GetPayment(ctx context.Context, paymentID string) (*PortOnePayment, error) {
	id := strings.TrimSpace(paymentID)
	if id == "" {
		return nil, errors.New("payment id is required")
	}

	body, err := c.do(ctx, http.MethodGet, "/payments/"+url.PathEscape(id), nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		ID        string `json:"id"`
		OrderName string `json:"orderName"`
		Currency  string `json:"currency"`
		Amount    struct {
			Total int64 `json:"total"`
		} `json:"amount"`
		BillingKey string `json:"billingKey"`
		Customer   struct {
			ID string `json:"id"`
		} `json:"customer"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}
	if strings.TrimSpace(raw.ID) == "" {
		return nil, errors.New("portone payment response missing payment id")
	}

	return &PortOnePayment{
		ID:         raw.ID,
		OrderName:  raw.OrderName,
		Amount:     raw.Amount.Total,
		Currency:   raw.Currency,
		BillingKey: strings.TrimSpace(raw.BillingKey),
		CustomerID: strings.TrimSpace(raw.Customer.ID),
	}, nil
}

// CreateSchedule registers a future recurring charge. schedulePaymentID is
// the locally-minted id the charge will be created under when it fires.
func (c *PortOneClient) CreateSchedule(ctx context.Context, schedulePaymentID string, in ScheduleRequest) error {
	id := strings.TrimSpace(schedulePaymentID)
	if id == "" {
		return errors.New("schedule payment id is required")
	}
	if strings.TrimSpace(in.BillingKey) == "" {
		return errors.New("billing key is required")
	}

	payload := map[string]interface{}{
		"payment": map[string]interface{}{
			"billingKey": in.BillingKey,
			"orderName":  in.OrderName,
			"customer": map[string]interface{}{
				"id": in.CustomerID,
			},
			"amount": map[string]interface{}{
				"total": in.Amount,
			},
			"currency": in.Currency,
		},
		"timeToPay": in.TimeToPay.UTC().Format(time.RFC3339),
	}

	_, err := c.do(ctx, http.MethodPost, "/payments/"+url.PathEscape(id)+"/schedule", payload)
	return err
}

// GetSchedules lists pending scheduled charges for a billing key within the
// [from, until] window.
func (c *PortOneClient) GetSchedules(ctx context.Context, billingKey string, from, until time.Time) ([]PortOneSchedule, error) {
	if strings.TrimSpace(billingKey) == "" {
		return nil, errors.New("billing key is required")
	}

	q := url.Values{}
	q.Set("billingKey", billingKey)
	q.Set("from", from.UTC().Format(time.RFC3339))
	q.Set("until", until.UTC().Format(time.RFC3339))
	if c.StoreID != "" {
		q.Set("storeId", c.StoreID)
	}

	body, err := c.do(ctx, http.MethodGet, "/payment-schedules?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var raw struct {
		Items []struct {
			ID        string `json:"id"`
			PaymentID string `json:"paymentId"`
			TimeToPay string `json:"timeToPay"`
		} `json:"items"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, err
	}

	schedules := make([]PortOneSchedule, 0, len(raw.Items))
	for _, item := range raw.Items {
		timeToPay, _ := time.Parse(time.RFC3339, item.TimeToPay)
		schedules = append(schedules, PortOneSchedule{
			ID:        item.ID,
			PaymentID: item.PaymentID,
			TimeToPay: timeToPay,
		})
	}
	return schedules, nil
}

// RevokeSchedules cancels pending scheduled charges by schedule id.
func (c *PortOneClient) RevokeSchedules(ctx context.Context, scheduleIDs []string) error {
	if len(scheduleIDs) == 0 {
		return errors.New("at least one schedule id is required")
	}

	payload := map[string]interface{}{
		"scheduleIds": scheduleIDs,
	}
	_, err := c.do(ctx, http.MethodDelete, "/payment-schedules", payload)
	return err
}

func (c *PortOneClient) do(ctx context.Context, method, path string, payload interface{}) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.APIBaseURL+path, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "PortOne "+c.APISecret)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("portone %s %s failed: status=%d body=%s", method, path, resp.StatusCode, string(body))
	}
	return body, nil
}
