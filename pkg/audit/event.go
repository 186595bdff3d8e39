/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package audit records a durable, non-blocking trail of what the
// Orchestrator (C10) did for each incident: one Event per stage
// transition plus a closing Event carrying the terminal status. Writes
// never block pipeline execution (DD-AUDIT-002); a Data Storage outage
// degrades to a dropped/logged event, never a failed incident.
package audit

import "time"

// EventKind identifies what an Event records.
type EventKind string

const (
	// EventStage records one Orchestrator stage completing.
	EventStage EventKind = "stage"
	// EventClosed records an IncidentRecord reaching a terminal or
	// awaiting_approval status.
	EventClosed EventKind = "closed"
)

// Event is one durable audit record. It is deliberately flat (no nested
// IncidentRecord) so it survives independent of the pipeline's own
// in-memory types and can be persisted, replayed, or exported without
// importing pkg/pipeline/types.
type Event struct {
	IncidentID  string                 `json:"incident_id"`
	Kind        EventKind              `json:"kind"`
	Stage       string                 `json:"stage,omitempty"`
	Status      string                 `json:"status,omitempty"`
	Reason      string                 `json:"reason,omitempty"`
	DurationMS  int64                  `json:"duration_ms,omitempty"`
	TriggerType string                 `json:"trigger_type,omitempty"`
	Detail      map[string]interface{} `json:"detail,omitempty"`
	RecordedAt  time.Time              `json:"recorded_at"`
}

// StageEvent builds an EventStage record.
func StageEvent(incidentID, triggerType, stage string, duration time.Duration, now time.Time) Event {
	return Event{
		IncidentID:  incidentID,
		Kind:        EventStage,
		Stage:       stage,
		DurationMS:  duration.Milliseconds(),
		TriggerType: triggerType,
		RecordedAt:  now,
	}
}

// ClosedEvent builds an EventClosed record.
func ClosedEvent(incidentID, triggerType, status, reason string, now time.Time) Event {
	return Event{
		IncidentID:  incidentID,
		Kind:        EventClosed,
		Status:      status,
		Reason:      reason,
		TriggerType: triggerType,
		RecordedAt:  now,
	}
}
