// Package alert delivers operator alerts: exhausted execution retries and
// instructions relayed without a persisted record.
package alert

import (
	"context"
	"errors"
	"sort"
	"time"

	"trigger-keeper/internal/logger"
)

// Severity of an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert is one operator notification.
type Alert struct {
	Title    string
	Message  string
	Severity Severity
	Fields   map[string]string
	At       time.Time
}

// Notifier delivers alerts.
type Notifier interface {
	Notify(ctx context.Context, a Alert) error
}

// LogNotifier writes alerts to the log. It never fails.
type LogNotifier struct {
	log *logger.Entry
}

// NewLogNotifier creates a LogNotifier.
func NewLogNotifier(log *logger.Entry) *LogNotifier {
	return &LogNotifier{log: log.WithComponent("alert")}
}

// Notify implements Notifier.
func (n *LogNotifier) Notify(_ context.Context, a Alert) error {
	fields := logger.Fields{"title": a.Title, "severity": a.Severity}
	for k, v := range a.Fields {
		fields[k] = v
	}
	entry := n.log.WithFields(fields)
	if a.Severity == SeverityCritical {
		entry.Error(a.Message)
	} else {
		entry.Warn(a.Message)
	}
	return nil
}

// Multi sends every alert to all notifiers and joins their errors.
type Multi []Notifier

// Notify implements Notifier.
func (m Multi) Notify(ctx context.Context, a Alert) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sortedKeys returns map keys in order so rendered alerts are stable.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
