// Package iapbroker queries the in-app purchase broker (RevenueCat REST API)
// for a subscriber's currently active entitlements.
package iapbroker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultAPIBaseURL = "https://api.revenuecat.com"

// ErrNotConfigured is returned when no API key is set.
var ErrNotConfigured = errors.New("iap broker api key is not configured")

type Client struct {
	APIKey     string
	APIBaseURL string
	HTTPClient *http.Client

	now func() time.Time
}

func NewClient(apiKey, baseURL string) *Client {
	if strings.TrimSpace(baseURL) == "" {
		baseURL = defaultAPIBaseURL
	}
	return &Client{
		APIKey:     strings.TrimSpace(apiKey),
		APIBaseURL: strings.TrimRight(baseURL, "/"),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		now: time.Now,
	}
}

// Entitlement is one entry of a subscriber's entitlement map.
type Entitlement struct {
	ID                     string
	ProductIdentifier      string
	ExpiresDate            *time.Time
	GracePeriodExpiresDate *time.Time
}

// ActiveAt reports whether the entitlement grants access at t. Entitlements
// without an expiry (lifetime purchases) are always active.
func (e Entitlement) ActiveAt(t time.Time) bool {
	if e.ExpiresDate == nil {
		return true
	}
	if e.ExpiresDate.After(t) {
		return true
	}
	return e.GracePeriodExpiresDate != nil && e.GracePeriodExpiresDate.After(t)
}

// Subscriber fetches GET /v1/subscribers/{app_user_id}.
func (c *Client) Subscriber(ctx context.Context, appUserID string) ([]Entitlement, error) {
	if c == nil || c.APIKey == "" {
		return nil, ErrNotConfigured
	}
	appUserID = strings.TrimSpace(appUserID)
	if appUserID == "" {
		return nil, errors.New("app user id is required")
	}

	endpoint := c.APIBaseURL + "/v1/subscribers/" + url.PathEscape(appUserID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("iap broker subscriber request failed: status=%d body=%s", resp.StatusCode, string(body))
	}

	type rawEntitlement struct {
		ExpiresDate            *time.Time `json:"expires_date"`
		GracePeriodExpiresDate *time.Time `json:"grace_period_expires_date"`
		ProductIdentifier      string     `json:"product_identifier"`
	}
	var raw struct {
		Subscriber struct {
			Entitlements map[string]rawEntitlement `json:"entitlements"`
		} `json:"subscriber"`
	}
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("decode iap broker subscriber: %w", err)
	}

	out := make([]Entitlement, 0, len(raw.Subscriber.Entitlements))
	for id, e := range raw.Subscriber.Entitlements {
		out = append(out, Entitlement{
			ID:                     id,
			ProductIdentifier:      e.ProductIdentifier,
			ExpiresDate:            e.ExpiresDate,
			GracePeriodExpiresDate: e.GracePeriodExpiresDate,
		})
	}
	return out, nil
}

// ActiveEntitlements returns the ids of entitlements active right now. It
// satisfies entitlements.BrokerSource.
func (c *Client) ActiveEntitlements(ctx context.Context, appUserID string) ([]string, error) {
	all, err := c.Subscriber(ctx, appUserID)
	if err != nil {
		return nil, err
	}
	now := c.now()
	var ids []string
	for _, e := range all {
		if e.ActiveAt(now) {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}
