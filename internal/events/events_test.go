package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEvent() Event {
	v := 812.4
	return Event{
		Type:       JobCompleted,
		JobID:      "2f1c",
		DateFolder: "2026-02-10",
		Status:     "completed",
		Volume:     &v,
		Timestamp:  time.Now(),
	}
}

func TestWebhookPublisher_Success(t *testing.T) {
	var got Event
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		if r.Header.Get("x-surveyd-event") != JobCompleted {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, 2*time.Second, 0)
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "2026-02-10", got.DateFolder)
	require.NotNil(t, got.Volume)
	assert.Equal(t, 812.4, *got.Volume)
}

func TestWebhookPublisher_RetryThenSuccess(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "boom", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, 2*time.Second, 5)
	start := time.Now()
	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.GreaterOrEqual(t, atomic.LoadInt32(&hits), int32(3))
	assert.GreaterOrEqual(t, time.Since(start), 500*time.Millisecond, "backoff delay should elapse")
}

func TestWebhookPublisher_ExhaustRetries(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, 500*time.Millisecond, 2)
	err := p.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestWebhookPublisher_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(2 * time.Second)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL, 5*time.Second, 3)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	assert.Error(t, p.Publish(ctx, sampleEvent()))
}

type fakeChannel struct {
	exchange, key string
	msg           amqp.Publishing
	err           error
	closed        bool
}

func (f *fakeChannel) PublishWithContext(_ context.Context, exchange, key string, _, _ bool, msg amqp.Publishing) error {
	f.exchange, f.key, f.msg = exchange, key, msg
	return f.err
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPPublisher_Publish(t *testing.T) {
	ch := &fakeChannel{}
	p := &AMQPPublisher{
		cfg:     AMQPConfig{Exchange: "surveyd.events", RoutingKey: "mapping.job"},
		channel: ch,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	require.NoError(t, p.Publish(context.Background(), sampleEvent()))
	assert.Equal(t, "surveyd.events", ch.exchange)
	assert.Equal(t, "mapping.job.completed", ch.key)
	assert.Equal(t, "application/json", ch.msg.ContentType)
	assert.Equal(t, uint8(amqp.Persistent), ch.msg.DeliveryMode)

	var decoded Event
	require.NoError(t, json.Unmarshal(ch.msg.Body, &decoded))
	assert.Equal(t, JobCompleted, decoded.Type)

	ch.err = errors.New("channel closed")
	assert.ErrorContains(t, p.Publish(context.Background(), sampleEvent()), "failed to publish event")

	require.NoError(t, p.Close())
	assert.True(t, ch.closed)
}

type recordingPublisher struct {
	events []Event
	err    error
}

func (r *recordingPublisher) Publish(_ context.Context, e Event) error {
	r.events = append(r.events, e)
	return r.err
}

func TestMulti(t *testing.T) {
	ok := &recordingPublisher{}
	failing := &recordingPublisher{err: errors.New("down")}

	err := Multi{failing, ok, Nop{}}.Publish(context.Background(), sampleEvent())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "down")
	assert.Len(t, ok.events, 1, "a failing sink must not stop the others")
	assert.NoError(t, Multi{}.Publish(context.Background(), sampleEvent()))
}
