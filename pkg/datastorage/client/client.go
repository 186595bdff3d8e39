// Package client is a thin HTTP client for the Knowledge Store's incident
// history API, used by reporting and feedback tooling that runs outside
// the pipeline's own process.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/agenticaiops/incident-core/pkg/audit"
)

const userAgent = "incident-core-datastorage/1.0"

// IncidentAlertSeverity mirrors the incident history API's severity enum.
type IncidentAlertSeverity string

const (
	IncidentAlertSeverityLow      IncidentAlertSeverity = "low"
	IncidentAlertSeverityMedium   IncidentAlertSeverity = "medium"
	IncidentAlertSeverityHigh     IncidentAlertSeverity = "high"
	IncidentAlertSeverityCritical IncidentAlertSeverity = "critical"
)

// Incident is a single recorded remediation outcome.
type Incident struct {
	Id              int64                 `json:"id"`
	AlertName       string                `json:"alert_name"`
	AlertSeverity   IncidentAlertSeverity `json:"alert_severity"`
	ActionType      string                `json:"action_type"`
	ActionTimestamp time.Time             `json:"action_timestamp"`
	ModelUsed       string                `json:"model_used"`
	ModelConfidence float64               `json:"model_confidence"`
	ExecutionStatus string                `json:"execution_status"`
}

// Pagination mirrors the incident history API's pagination envelope.
type Pagination struct {
	Total   int  `json:"total"`
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	HasMore bool `json:"has_more"`
}

// ListIncidentsResult wraps a page of incidents.
type ListIncidentsResult struct {
	Incidents  []Incident
	Total      int
	Pagination Pagination
}

type listIncidentsResponse struct {
	Data       []Incident `json:"data"`
	Pagination Pagination `json:"pagination"`
}

// problemDetails is an RFC 7807 error body.
type problemDetails struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail"`
}

func (p *problemDetails) Error() string {
	if p.Detail != "" {
		return fmt.Sprintf("%s: %s", p.Title, p.Detail)
	}
	return p.Title
}

// Config configures a DataStorageClient.
type Config struct {
	BaseURL        string
	Timeout        time.Duration
	MaxConnections int
}

const (
	defaultTimeout        = 10 * time.Second
	defaultMaxConnections = 20
)

// DataStorageClient queries the Knowledge Store's incident history API.
type DataStorageClient struct {
	baseURL string
	client  *http.Client
}

// NewDataStorageClient builds a client against cfg.BaseURL, applying
// default timeout and connection pool settings when unset.
func NewDataStorageClient(cfg Config) *DataStorageClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxConns := cfg.MaxConnections
	if maxConns <= 0 {
		maxConns = defaultMaxConnections
	}

	transport := &http.Transport{
		MaxIdleConns:        maxConns,
		MaxIdleConnsPerHost: maxConns,
	}

	return &DataStorageClient{
		baseURL: cfg.BaseURL,
		client:  &http.Client{Timeout: timeout, Transport: transport},
	}
}

func (c *DataStorageClient) do(ctx context.Context, method, path string, query url.Values) (*http.Response, error) {
	return c.doWithBody(ctx, method, path, query, nil)
}

func (c *DataStorageClient) doWithBody(ctx context.Context, method, path string, query url.Values, body []byte) (*http.Response, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, u, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, u, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-Request-ID", uuid.NewString())
	req.Header.Set("User-Agent", userAgent)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	return resp, nil
}

func decodeProblem(resp *http.Response) error {
	var p problemDetails
	if err := json.NewDecoder(resp.Body).Decode(&p); err != nil {
		return fmt.Errorf("data storage API returned status %d", resp.StatusCode)
	}
	if p.Title == "" {
		return fmt.Errorf("data storage API returned status %d", resp.StatusCode)
	}
	return &p
}

// ListIncidents fetches a page of incidents matching the given filters.
func (c *DataStorageClient) ListIncidents(ctx context.Context, filters map[string]string) (*ListIncidentsResult, error) {
	q := url.Values{}
	for k, v := range filters {
		q.Set(k, v)
	}

	resp, err := c.do(ctx, http.MethodGet, "/api/v1/incidents", q)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, decodeProblem(resp)
	}

	var out listIncidentsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	return &ListIncidentsResult{
		Incidents:  out.Data,
		Total:      out.Pagination.Total,
		Pagination: out.Pagination,
	}, nil
}

// GetIncidentByID fetches a single incident by ID, returning (nil, nil)
// when the API reports the incident does not exist.
func (c *DataStorageClient) GetIncidentByID(ctx context.Context, id int64) (*Incident, error) {
	resp, err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/incidents/%d", id), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, decodeProblem(resp)
	}

	var incident Incident
	if err := json.NewDecoder(resp.Body).Decode(&incident); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return &incident, nil
}

// RecordAuditEvents ships a batch of audit events to the Knowledge
// Store's audit-events API. It is the concrete Sink backend pkg/audit's
// BufferedStore writes through; a non-2xx response or transport error
// is returned unchanged so the caller can apply its own degrade policy.
func (c *DataStorageClient) RecordAuditEvents(ctx context.Context, events []audit.Event) error {
	body, err := json.Marshal(events)
	if err != nil {
		return fmt.Errorf("failed to encode audit events: %w", err)
	}

	resp, err := c.doWithBody(ctx, http.MethodPost, "/api/v1/audit-events", nil, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusCreated {
		return decodeProblem(resp)
	}
	return nil
}
