// Package client volá REST API běžícího backendu. Používá ho lora-query v režimu --api.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"lora-backend/internal/model"
	"lora-backend/internal/query"
)

// APIError je ne-2xx odpověď backendu.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("API vrátilo chybný status: %d", e.Status)
	}
	return fmt.Sprintf("API vrátilo chybný status: %d (%s)", e.Status, e.Message)
}

// APIClient zapouzdřuje HTTP volání na backend (URL, JSON decoding, status kódy).
type APIClient struct {
	BaseURL    string
	httpClient *http.Client
}

// NewAPIClient: defaultní http.Client nemá timeout, proto ho nastavujeme vždy.
func NewAPIClient(baseURL string, timeout time.Duration) *APIClient {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &APIClient{
		BaseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

type readingsResponse struct {
	Count    int             `json:"count"`
	Readings []model.Reading `json:"readings"`
}

type devicesResponse struct {
	Count   int            `json:"count"`
	Devices []model.Device `json:"devices"`
}

type statusesResponse struct {
	Count    int                   `json:"count"`
	Statuses []model.GatewayStatus `json:"statuses"`
}

// Readings: GET /api/readings
func (c *APIClient) Readings(ctx context.Context, f query.Filter) ([]model.Reading, error) {
	v := url.Values{}
	setIf(v, "node_id", f.NodeID)
	setIf(v, "gateway_id", f.GatewayID)
	v.Set("limit", strconv.Itoa(f.Limit))

	var out readingsResponse
	if err := c.getJSON(ctx, "/api/readings", v, &out); err != nil {
		return nil, err
	}
	return out.Readings, nil
}

// Devices: GET /api/devices
func (c *APIClient) Devices(ctx context.Context) ([]model.Device, error) {
	var out devicesResponse
	if err := c.getJSON(ctx, "/api/devices", nil, &out); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

// Stats: GET /api/stats
func (c *APIClient) Stats(ctx context.Context) (model.Stats, error) {
	var out model.Stats
	err := c.getJSON(ctx, "/api/stats", nil, &out)
	return out, err
}

// NodeReadings: GET /api/node/{node_id}/readings
func (c *APIClient) NodeReadings(ctx context.Context, nodeID string, limit int) (query.NodeReadings, error) {
	v := url.Values{"limit": {strconv.Itoa(limit)}}
	var out query.NodeReadings
	err := c.getJSON(ctx, "/api/node/"+url.PathEscape(nodeID)+"/readings", v, &out)
	return out, err
}

// Statuses: GET /api/gateway-status
func (c *APIClient) Statuses(ctx context.Context, gatewayID string, limit int) ([]model.GatewayStatus, error) {
	v := url.Values{"limit": {strconv.Itoa(limit)}}
	setIf(v, "gateway_id", gatewayID)
	var out statusesResponse
	if err := c.getJSON(ctx, "/api/gateway-status", v, &out); err != nil {
		return nil, err
	}
	return out.Statuses, nil
}

// Links: GET /api/links
func (c *APIClient) Links(ctx context.Context) (model.LinkSummary, error) {
	var out model.LinkSummary
	err := c.getJSON(ctx, "/api/links", nil, &out)
	return out, err
}

// ExportCSV: GET /api/export.csv, tělo se kopíruje rovnou do w.
func (c *APIClient) ExportCSV(ctx context.Context, w io.Writer, nodeID string) error {
	v := url.Values{}
	setIf(v, "node_id", nodeID)
	resp, err := c.get(ctx, "/api/export.csv", v)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, err = io.Copy(w, resp.Body)
	return err
}

func (c *APIClient) get(ctx context.Context, path string, v url.Values) (*http.Response, error) {
	u := c.BaseURL + path
	if len(v) > 0 {
		u += "?" + v.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("chyba sítě při volání API: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		apiErr := &APIError{Status: resp.StatusCode}
		var body struct {
			Error string `json:"error"`
		}
		if json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body) == nil {
			apiErr.Message = body.Error
		}
		return nil, apiErr
	}
	return resp, nil
}

func (c *APIClient) getJSON(ctx context.Context, path string, v url.Values, dst any) error {
	resp, err := c.get(ctx, path, v)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := model.DecodeJSON(resp.Body, dst); err != nil {
		return fmt.Errorf("chyba při parsování JSONu: %w", err)
	}
	return nil
}

func setIf(v url.Values, key, value string) {
	if value != "" {
		v.Set(key, value)
	}
}
