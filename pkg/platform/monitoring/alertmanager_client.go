// Package monitoring talks to the cluster's alerting backend on the
// Correlator's behalf: checking whether an alert has cleared, whether it
// has recurred in a window, and replaying its recent history.
package monitoring

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// AlertManagerAlert is the subset of the AlertManager v1 alert shape this
// client cares about.
type AlertManagerAlert struct {
	Labels      map[string]string `json:"labels"`
	Annotations map[string]string `json:"annotations"`
	State       string            `json:"state"`
	ActiveAt    *time.Time        `json:"activeAt,omitempty"`
	Value       string            `json:"value,omitempty"`
}

// AlertManagerResponse wraps the v1 API envelope.
type AlertManagerResponse struct {
	Status string              `json:"status"`
	Data   []AlertManagerAlert `json:"data"`
}

// AlertEvent is the Correlator-facing view of a historical alert firing.
type AlertEvent struct {
	AlertName   string
	Namespace   string
	Severity    string
	Status      string
	Labels      map[string]string
	Annotations map[string]string
	ActiveAt    time.Time
}

// AlertManagerClient queries a Prometheus AlertManager deployment over HTTP.
type AlertManagerClient struct {
	endpoint string
	client   *http.Client
	log      *logrus.Logger
}

// NewAlertManagerClient builds a client against the given AlertManager base
// URL, trimming any trailing slash.
func NewAlertManagerClient(endpoint string, timeout time.Duration, log *logrus.Logger) *AlertManagerClient {
	return &AlertManagerClient{
		endpoint: strings.TrimSuffix(endpoint, "/"),
		client:   &http.Client{Timeout: timeout},
		log:      log,
	}
}

func (c *AlertManagerClient) query(ctx context.Context, filters []string) (*AlertManagerResponse, error) {
	u, err := url.Parse(c.endpoint + "/api/v1/alerts")
	if err != nil {
		return nil, fmt.Errorf("invalid AlertManager endpoint: %w", err)
	}
	q := u.Query()
	for _, f := range filters {
		q.Add("filter", f)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("AlertManager API returned status %d", resp.StatusCode)
	}

	var out AlertManagerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if out.Status != "success" {
		return nil, fmt.Errorf("AlertManager API returned status: %s", out.Status)
	}
	return &out, nil
}

func alertFilters(alertName, namespace string) []string {
	return []string{
		fmt.Sprintf(`alertname="%s"`, alertName),
		fmt.Sprintf(`namespace="%s"`, namespace),
	}
}

// IsAlertResolved reports whether the named alert has no active firing that
// started at or after since. No matching alerts at all counts as resolved.
func (c *AlertManagerClient) IsAlertResolved(ctx context.Context, alertName, namespace string, since time.Time) (bool, error) {
	resp, err := c.query(ctx, alertFilters(alertName, namespace))
	if err != nil {
		return false, err
	}
	for _, a := range resp.Data {
		if a.State != "active" {
			continue
		}
		if a.ActiveAt == nil || a.ActiveAt.Before(since) {
			continue
		}
		return false, nil
	}
	return true, nil
}

// HasAlertRecurred reports whether the named alert became active again
// within [from, to].
func (c *AlertManagerClient) HasAlertRecurred(ctx context.Context, alertName, namespace string, from, to time.Time) (bool, error) {
	resp, err := c.query(ctx, alertFilters(alertName, namespace))
	if err != nil {
		return false, err
	}
	for _, a := range resp.Data {
		if a.ActiveAt == nil {
			continue
		}
		if !a.ActiveAt.Before(from) && !a.ActiveAt.After(to) {
			return true, nil
		}
	}
	return false, nil
}

// GetAlertHistory returns the alert firings within [from, to] as AlertEvents.
func (c *AlertManagerClient) GetAlertHistory(ctx context.Context, alertName, namespace string, from, to time.Time) ([]AlertEvent, error) {
	resp, err := c.query(ctx, alertFilters(alertName, namespace))
	if err != nil {
		return nil, err
	}

	events := make([]AlertEvent, 0, len(resp.Data))
	for _, a := range resp.Data {
		if a.ActiveAt == nil || a.ActiveAt.Before(from) || a.ActiveAt.After(to) {
			continue
		}
		status := "firing"
		if a.State != "active" {
			status = a.State
		}
		events = append(events, AlertEvent{
			AlertName:   alertName,
			Namespace:   namespace,
			Severity:    a.Labels["severity"],
			Status:      status,
			Labels:      a.Labels,
			Annotations: a.Annotations,
			ActiveAt:    *a.ActiveAt,
		})
	}
	return events, nil
}

// HealthCheck verifies AlertManager's readiness endpoint responds with 200.
func (c *AlertManagerClient) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint+"/-/healthy", nil)
	if err != nil {
		return fmt.Errorf("failed to build health check request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}
	return nil
}
