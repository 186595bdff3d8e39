// Package delivery sends incident notifications to their destination
// channel. The file-based implementation backs local and test
// deployments; transient filesystem failures are reported as a
// RetryableError. The Orchestrator's notify_wait stage logs a failed
// delivery and does not retry it.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/agenticaiops/incident-core/pkg/notification/sanitization"
)

// Notification is the channel-agnostic payload handed to a delivery Service.
type Notification struct {
	ID        string            `json:"id"`
	Namespace string            `json:"namespace"`
	Subject   string            `json:"subject"`
	Body      string            `json:"body"`
	Channels  []string          `json:"channels"`
	Labels    map[string]string `json:"labels,omitempty"`
	CreatedAt time.Time         `json:"createdAt"`
}

// Service delivers a notification to its configured destination.
type Service interface {
	Deliver(ctx context.Context, notification *Notification) error
}

// RetryableError marks a delivery failure that is worth retrying: the
// destination was unreachable or busy, not that the notification itself
// was invalid.
type RetryableError struct {
	Op  string
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

func retryable(op string, err error) error {
	return &RetryableError{Op: op, Err: err}
}

// FileDeliveryService writes notifications as JSON files under a directory,
// one file per notification.
type FileDeliveryService struct {
	dir       string
	sanitizer *sanitization.Sanitizer
}

// NewFileDeliveryService builds a Service that writes to dir, creating it on
// first delivery if needed.
func NewFileDeliveryService(dir string) *FileDeliveryService {
	return &FileDeliveryService{dir: dir, sanitizer: sanitization.NewSanitizer()}
}

// Deliver serializes notification to JSON and writes it under the service's
// directory via a temp-file-then-rename, so a partial write never leaves a
// corrupt file behind. Subject and Body are redacted first: a notification's
// text can echo an action handler's raw error output or an alarm's free-form
// message, either of which may carry a credential-shaped substring.
func (s *FileDeliveryService) Deliver(ctx context.Context, notification *Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return retryable("failed to create output directory", err)
	}

	sanitized := *notification
	sanitized.Subject, _ = s.sanitizer.SanitizeWithFallback(notification.Subject)
	sanitized.Body, _ = s.sanitizer.SanitizeWithFallback(notification.Body)

	payload, err := json.MarshalIndent(&sanitized, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	name := notification.ID
	if name == "" {
		name = fmt.Sprintf("notification-%d", time.Now().UnixNano())
	}
	tmpFile, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return retryable("failed to write temporary file", err)
	}
	tmpPath := tmpFile.Name()

	if _, err := tmpFile.Write(payload); err != nil {
		tmpFile.Close()
		os.Remove(tmpPath)
		return retryable("failed to write temporary file", err)
	}
	if err := tmpFile.Close(); err != nil {
		os.Remove(tmpPath)
		return retryable("failed to write temporary file", err)
	}

	finalPath := filepath.Join(s.dir, name+".json")
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return retryable("failed to write temporary file", err)
	}
	return nil
}

var _ Service = (*FileDeliveryService)(nil)
