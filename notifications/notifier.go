// Package notifications fans a publish event out to the configured channels:
// the in-process realtime broker, Redis pub/sub, Kafka and HTTP webhooks.
// Delivery is best effort; a failing channel never fails the cycle.
package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"agripredict/artifacts"
	"agripredict/helpers"
	"agripredict/metrics"
)

// Currency used in human-readable messages.
const Currency = "KES"

// PublishEvent announces a newly published generation.
type PublishEvent struct {
	CycleID     string               `json:"cycle_id"`
	Generation  string               `json:"generation"`
	PublishedAt time.Time            `json:"published_at"`
	AsOf        string               `json:"as_of"`
	DataSource  string               `json:"data_source"`
	Rows        int                  `json:"rows"`
	RMSE        float64              `json:"rmse"`
	R2          float64              `json:"r2"`
	Forecasts   []artifacts.Forecast `json:"forecasts,omitempty"`
	Message     string               `json:"message"`
}

// Summary renders a one-line message for chat-style webhooks.
func (e *PublishEvent) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "🌽 New maize price model %s (as of %s, %d rows, RMSE %.2f)",
		e.Generation, e.AsOf, e.Rows, e.RMSE)
	for _, f := range e.Forecasts {
		fmt.Fprintf(&b, " | %s %s → %s (%s)",
			f.Region,
			f.TargetDate.Format("02/01"),
			helpers.FormatPrice(f.Prediction, Currency),
			helpers.FormatDelta(f.Delta, Currency),
		)
	}
	return b.String()
}

// Notifier delivers a publish event to one channel.
type Notifier interface {
	Name() string
	Notify(ctx context.Context, event *PublishEvent) error
}

// Dispatcher sends every event to all notifiers concurrently.
type Dispatcher struct {
	notifiers []Notifier
	timeout   time.Duration
	log       zerolog.Logger
}

// NewDispatcher creates a dispatcher. timeout bounds a whole dispatch.
func NewDispatcher(log zerolog.Logger, timeout time.Duration, notifiers ...Notifier) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		timeout:   timeout,
		log:       log,
	}
}

// Add registers another notifier
func (d *Dispatcher) Add(n Notifier) {
	d.notifiers = append(d.notifiers, n)
}

// Channels returns the names of the registered notifiers
func (d *Dispatcher) Channels() []string {
	names := make([]string, len(d.notifiers))
	for i, n := range d.notifiers {
		names[i] = n.Name()
	}
	return names
}

// Dispatch delivers event everywhere and returns how many channels failed.
func (d *Dispatcher) Dispatch(ctx context.Context, event *PublishEvent) int {
	if event.Message == "" {
		event.Message = event.Summary()
	}
	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	failed := make([]bool, len(d.notifiers))
	var g errgroup.Group
	for i, n := range d.notifiers {
		g.Go(func() error {
			if err := n.Notify(ctx, event); err != nil {
				failed[i] = true
				metrics.NotificationsTotal.WithLabelValues(n.Name(), "failed").Inc()
				d.log.Warn().Err(err).Str("channel", n.Name()).Str("generation", event.Generation).
					Msg("⚠️ Publish notification failed")
				return nil
			}
			metrics.NotificationsTotal.WithLabelValues(n.Name(), "success").Inc()
			return nil
		})
	}
	g.Wait()

	count := 0
	for _, f := range failed {
		if f {
			count++
		}
	}
	return count
}
