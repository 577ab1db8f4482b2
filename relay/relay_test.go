package relay

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/propagentic/dispatch/feed"
	"github.com/propagentic/dispatch/id"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleEvent(t *testing.T) *feed.Event {
	t.Helper()

	jobID := id.NewJobID().String()
	data, err := json.Marshal(feed.JobEventData{
		JobID:      jobID,
		Title:      "Cracked roof tile",
		Status:     "pending_acceptance",
		LandlordID: id.NewLandlordID().String(),
	})
	if err != nil {
		t.Fatalf("marshal payload: %v", err)
	}
	return &feed.Event{
		Type:      feed.EventJobCreated,
		Timestamp: time.Now().UTC(),
		Topic:     feed.JobTopic(jobID),
		JobID:     jobID,
		Version:   1,
		Data:      data,
	}
}

func TestEnvelopeRoundTrip(t *testing.T) {
	t.Parallel()

	evt := sampleEvent(t)
	raw, err := msgpack.Marshal(envelope{Origin: "node-a", Event: *evt})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}

	var got envelope
	if err := msgpack.Unmarshal(raw, &got); err != nil {
		t.Fatalf("unmarshal envelope: %v", err)
	}
	if got.Origin != "node-a" {
		t.Errorf("origin = %q", got.Origin)
	}
	if got.Event.Type != evt.Type || got.Event.JobID != evt.JobID || got.Event.Version != evt.Version {
		t.Errorf("event = %+v, want %+v", got.Event, evt)
	}

	var payload feed.JobEventData
	if err := json.Unmarshal(got.Event.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if payload.Title != "Cracked roof tile" {
		t.Errorf("payload = %+v", payload)
	}
}

func TestBrokerRelayDerivesTopics(t *testing.T) {
	t.Parallel()

	broker := feed.NewBroker(testLogger())
	evt := sampleEvent(t)

	var payload feed.JobEventData
	if err := json.Unmarshal(evt.Data, &payload); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}

	landlordSub := broker.Subscribe("landlord-conn", feed.LandlordTopic(payload.LandlordID))
	poolSub := broker.Subscribe("pool-conn", feed.TopicPool)
	strangerSub := broker.Subscribe("stranger-conn", feed.LandlordTopic(id.NewLandlordID().String()))

	broker.Relay(evt)

	for _, tc := range []struct {
		name string
		sub  *feed.Subscriber
	}{
		{"landlord", landlordSub},
		{"pool", poolSub},
	} {
		select {
		case got := <-tc.sub.C():
			if got.JobID != evt.JobID {
				t.Errorf("%s received job %s, want %s", tc.name, got.JobID, evt.JobID)
			}
		case <-time.After(time.Second):
			t.Fatalf("%s subscriber did not receive relayed event", tc.name)
		}
	}

	select {
	case got := <-strangerSub.C():
		t.Fatalf("stranger received %+v", got)
	default:
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	broker := feed.NewBroker(testLogger())
	r := New(nil, broker, WithOrigin("node-test"), WithLogger(testLogger()))
	if r.Origin() != "node-test" {
		t.Errorf("origin = %q", r.Origin())
	}
	if r.channel != DefaultChannel {
		t.Errorf("channel = %q", r.channel)
	}

	r2 := New(nil, broker, WithChannel("custom:relay"))
	if r2.channel != "custom:relay" {
		t.Errorf("channel = %q", r2.channel)
	}
	if r2.Origin() == "" || r2.Origin() == r.Origin() {
		t.Errorf("default origin = %q", r2.Origin())
	}
}
