package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"agripredict/artifacts"
	"agripredict/database"
)

func sampleEvent() *PublishEvent {
	return &PublishEvent{
		CycleID:    "c1",
		Generation: "g1",
		AsOf:       "2024-06-03",
		Rows:       120,
		RMSE:       1.68,
		Forecasts: []artifacts.Forecast{{
			Region:     "Nairobi",
			LastPrice:  4200,
			TargetDate: time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC),
			Prediction: 4250.5,
			Delta:      50.5,
		}},
	}
}

type memoryDeliveries struct {
	mu   sync.Mutex
	logs []database.PublishWebhookLog
}

func (m *memoryDeliveries) SaveWebhookLog(_ context.Context, log *database.PublishWebhookLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.logs = append(m.logs, *log)
	return nil
}

func TestSummary(t *testing.T) {
	assert.Equal(t,
		"🌽 New maize price model g1 (as of 2024-06-03, 120 rows, RMSE 1.68) | Nairobi 10/06 → KES 4,250.50 (+KES 50.50)",
		sampleEvent().Summary())
}

func TestWebhookRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	bodies := make(chan []byte, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		body, _ := io.ReadAll(r.Body)
		bodies <- body
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	deliveries := &memoryDeliveries{}
	n := NewWebhookNotifier(
		[]WebhookTarget{{URL: srv.URL, AuthHeader: "X-Token", AuthValue: "secret"}},
		3, time.Millisecond, time.Second, deliveries, zerolog.Nop(),
	)
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))
	assert.Equal(t, int32(2), calls.Load())

	var got PublishEvent
	require.NoError(t, json.Unmarshal(<-bodies, &got))
	assert.Equal(t, "g1", got.Generation)

	require.Len(t, deliveries.logs, 1)
	assert.Equal(t, "SUCCESS", deliveries.logs[0].Status)
	assert.Equal(t, 2, deliveries.logs[0].RetryAttempt)
	assert.Equal(t, http.StatusNoContent, *deliveries.logs[0].HTTPStatusCode)
}

func TestWebhookGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	deliveries := &memoryDeliveries{}
	n := NewWebhookNotifier([]WebhookTarget{{URL: srv.URL}}, 2, time.Millisecond, time.Second, deliveries, zerolog.Nop())
	assert.Error(t, n.Notify(context.Background(), sampleEvent()))

	require.Len(t, deliveries.logs, 1)
	assert.Equal(t, "FAILED", deliveries.logs[0].Status)
	assert.Equal(t, http.StatusInternalServerError, *deliveries.logs[0].HTTPStatusCode)
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if f.err != nil {
		return f.err
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func (f *fakeWriter) Close() error { return nil }

func TestKafkaNotifier(t *testing.T) {
	w := &fakeWriter{}
	n := NewKafkaNotifierWithWriter(w, "forecast.published")
	require.NoError(t, n.Notify(context.Background(), sampleEvent()))

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "g1", string(w.msgs[0].Key))
	assert.Contains(t, string(w.msgs[0].Value), `"generation":"g1"`)
}

type fakePublisher struct {
	channel string
	err     error
}

func (f *fakePublisher) Publish(_ context.Context, channel string, _ interface{}) error {
	f.channel = channel
	return f.err
}

func TestDispatcherIsolatesFailures(t *testing.T) {
	redis := &fakePublisher{err: errors.New("connection refused")}
	kafkaWriter := &fakeWriter{}

	d := NewDispatcher(zerolog.Nop(), time.Second,
		NewRedisNotifier(redis, "forecast:published"),
		NewKafkaNotifierWithWriter(kafkaWriter, "forecast.published"),
	)
	assert.Equal(t, []string{"redis", "kafka"}, d.Channels())

	event := sampleEvent()
	failed := d.Dispatch(context.Background(), event)
	assert.Equal(t, 1, failed)
	assert.Equal(t, "forecast:published", redis.channel)
	assert.Len(t, kafkaWriter.msgs, 1)
	assert.NotEmpty(t, event.Message)
}
