package monitoring

import (
	"context"
	"time"

	"github.com/agenticaiops/incident-core/pkg/correlator"
	"github.com/agenticaiops/incident-core/pkg/pipeline/types"
)

// AlertManagerCollector adapts an AlertManagerClient into a
// correlator.Collector (C1) for one service: it looks up the service's
// configured alert name within the requested lookback window and
// reports each firing as a types.Alarm.
type AlertManagerCollector struct {
	client    *AlertManagerClient
	service   string
	namespace string
	alertName string
}

// NewAlertManagerCollector scopes client to one service's alert, so the
// Correlator's per-service fan-out gets one Collector per
// watched alert rule.
func NewAlertManagerCollector(client *AlertManagerClient, service, namespace, alertName string) *AlertManagerCollector {
	return &AlertManagerCollector{client: client, service: service, namespace: namespace, alertName: alertName}
}

// Service reports the service tag this Collector contributes to a
// CorrelatedEvent.
func (c *AlertManagerCollector) Service() string {
	return c.service
}

// Collect fetches the alert's firing history over the lookback window
// and reports each firing as a types.Alarm.
func (c *AlertManagerCollector) Collect(ctx context.Context, lookbackMinutes int) (*correlator.PartialSignal, error) {
	now := time.Now()
	from := now.Add(-time.Duration(lookbackMinutes) * time.Minute)

	history, err := c.client.GetAlertHistory(ctx, c.alertName, c.namespace, from, now)
	if err != nil {
		return nil, err
	}

	signal := &correlator.PartialSignal{Service: c.service}
	for _, ev := range history {
		signal.Alarms = append(signal.Alarms, types.Alarm{
			Name:      ev.AlertName,
			Service:   c.service,
			Reason:    ev.Status,
			Message:   ev.Annotations["description"],
			Labels:    ev.Labels,
			Timestamp: ev.ActiveAt,
		})
	}
	return signal, nil
}
