package feed

import (
	"context"
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
)

func newTestJob(t *testing.T, opts ...job.CreateOption) *job.Job {
	t.Helper()

	j, err := job.New(id.NewLandlordID(), "clear gutters", opts...)
	if err != nil {
		t.Fatalf("job.New: %v", err)
	}
	return j
}

func drain(sub *Subscriber) []*Event {
	var out []*Event
	for {
		select {
		case evt := <-sub.C():
			out = append(out, evt)
		default:
			return out
		}
	}
}

func TestBrokerFansOutToTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default())
	tenant := id.NewTenantID()
	j := newTestJob(t, job.WithTenant(tenant))

	jobSub := b.Subscribe("s-job", JobTopic(j.ID.String()))
	lldSub := b.Subscribe("s-lld", LandlordTopic(j.LandlordID.String()))
	tntSub := b.Subscribe("s-tnt", TenantTopic(tenant.String()))
	poolSub := b.Subscribe("s-pool", TopicPool)
	fireSub := b.Subscribe("s-fire", TopicFirehose)
	otherSub := b.Subscribe("s-other", JobTopic(id.NewJobID().String()))

	if err := b.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}

	for name, sub := range map[string]*Subscriber{
		"job": jobSub, "landlord": lldSub, "tenant": tntSub, "pool": poolSub, "firehose": fireSub,
	} {
		events := drain(sub)
		if len(events) != 1 {
			t.Fatalf("%s subscriber got %d events, want 1", name, len(events))
		}
		if events[0].Type != EventJobCreated {
			t.Fatalf("%s subscriber got %q", name, events[0].Type)
		}
	}
	if events := drain(otherSub); len(events) != 0 {
		t.Fatalf("unrelated subscriber got %d events", len(events))
	}
}

func TestBrokerDeduplicatesAcrossTopics(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default())
	j := newTestJob(t)

	// One subscriber on two topics the event targets.
	sub := b.Subscribe("s", JobTopic(j.ID.String()), TopicFirehose)

	if err := b.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("OnJobCreated: %v", err)
	}
	if events := drain(sub); len(events) != 1 {
		t.Fatalf("got %d events, want 1 (deduplicated)", len(events))
	}
}

func TestBrokerPayloadCarriesVersion(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default())
	j := newTestJob(t)
	ctr := id.NewContractorID()
	if _, err := job.Apply(j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	j.Version = 2

	sub := b.Subscribe("s", JobTopic(j.ID.String()))
	if err := b.OnJobAccepted(context.Background(), j, j.StatusHistory[len(j.StatusHistory)-1]); err != nil {
		t.Fatalf("OnJobAccepted: %v", err)
	}

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	evt := events[0]
	if evt.JobID != j.ID.String() || evt.Version != 2 {
		t.Fatalf("envelope = %+v", evt)
	}

	var data JobEventData
	if err := json.Unmarshal(evt.Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if data.ContractorID != ctr.String() || data.Status != string(job.StatusAccepted) {
		t.Fatalf("data = %+v", data)
	}
}

func TestBrokerNotifiesFormerHolderOnRelease(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default())
	j := newTestJob(t)
	ctr := id.NewContractorID()
	if _, err := job.Apply(j, job.Request{Kind: job.KindAccept, ActorID: ctr, Expected: job.StatusPendingAcceptance}); err != nil {
		t.Fatalf("accept: %v", err)
	}
	eff, err := job.Apply(j, job.Request{Kind: job.KindRelease, ActorID: ctr, Expected: job.StatusAccepted, Reason: "overcommitted"})
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if j.Held() {
		t.Fatal("release left the job held")
	}

	// The snapshot no longer names the contractor; their topic must
	// still receive the release so their live view drops the job.
	sub := b.Subscribe("s-ctr", ContractorTopic(ctr.String()))
	if err := b.OnJobDeclined(context.Background(), j, eff.Change); err != nil {
		t.Fatalf("OnJobDeclined: %v", err)
	}

	events := drain(sub)
	if len(events) != 1 {
		t.Fatalf("former holder got %d events, want 1", len(events))
	}
	var data JobEventData
	if err := json.Unmarshal(events[0].Data, &data); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if events[0].Type != EventJobDeclined || data.ActorID != ctr.String() {
		t.Fatalf("event = %+v, data = %+v", events[0], data)
	}
}

func TestSubscriberCreditsExhaust(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default(), WithDefaultCredits(2), WithBufferSize(8))
	j := newTestJob(t)
	sub := b.Subscribe("s", TopicFirehose)

	for i := 0; i < 5; i++ {
		if err := b.OnJobCreated(context.Background(), j); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	if events := drain(sub); len(events) != 2 {
		t.Fatalf("got %d events, want 2 (credit limited)", len(events))
	}

	// Replenished credits resume delivery.
	sub.AddCredits(10)
	if err := b.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if events := drain(sub); len(events) != 1 {
		t.Fatalf("after refill got %d events, want 1", len(events))
	}
}

func TestSubscriberBufferOverflowDropsAndRestoresCredit(t *testing.T) {
	t.Parallel()

	sub := NewSubscriber("s", 1, 100)
	evt := &Event{Type: EventJobCreated, Timestamp: time.Now()}

	if !sub.send(evt) {
		t.Fatal("first send should fit the buffer")
	}
	if sub.send(evt) {
		t.Fatal("second send should drop on a full buffer")
	}
	if got := sub.Credits(); got != 99 {
		t.Fatalf("credits = %d, want 99 (one spent, one restored)", got)
	}
}

func TestUnsubscribeAndRemove(t *testing.T) {
	t.Parallel()

	b := NewBroker(slog.Default())
	j := newTestJob(t)

	sub := b.Subscribe("s", TopicFirehose, TopicPool)
	b.Unsubscribe("s", TopicPool)
	if got := b.Topics().SubscriberCount(TopicPool); got != 0 {
		t.Fatalf("pool subscribers = %d, want 0", got)
	}

	if err := b.OnJobCreated(context.Background(), j); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if events := drain(sub); len(events) != 1 {
		t.Fatalf("firehose delivery after partial unsubscribe: %d, want 1", len(events))
	}

	b.RemoveSubscriber("s")
	if _, ok := b.GetSubscriber("s"); ok {
		t.Fatal("subscriber still registered after removal")
	}
	if _, open := <-sub.C(); open {
		t.Fatal("subscriber channel still open after removal")
	}
}

func TestGateOrdering(t *testing.T) {
	t.Parallel()

	g := NewGate()
	jobID := id.NewJobID().String()

	mk := func(v int64) *Event { return &Event{JobID: jobID, Version: v} }

	if !g.Admit(mk(1)) {
		t.Fatal("version 1 rejected")
	}
	if !g.Admit(mk(3)) {
		t.Fatal("version 3 rejected")
	}
	if g.Admit(mk(2)) {
		t.Fatal("late version 2 admitted after 3")
	}
	if g.Admit(mk(3)) {
		t.Fatal("duplicate version 3 admitted")
	}
	if !g.Admit(mk(4)) {
		t.Fatal("version 4 rejected")
	}

	// Snapshot observation advances the floor.
	other := id.NewJobID().String()
	g.Observe(other, 7)
	if g.Admit(&Event{JobID: other, Version: 7}) {
		t.Fatal("event at observed snapshot version admitted")
	}
	if !g.Admit(&Event{JobID: other, Version: 8}) {
		t.Fatal("event past snapshot rejected")
	}

	g.Forget(jobID)
	if !g.Admit(mk(1)) {
		t.Fatal("forgotten job should restart at any version")
	}
}

func TestValidateTopic(t *testing.T) {
	t.Parallel()

	valid := []string{
		TopicPool, TopicFirehose,
		JobTopic("job_x"), ContractorTopic("ctr_x"),
		LandlordTopic("lld_x"), TenantTopic("tnt_x"),
	}
	for _, topic := range valid {
		if err := ValidateTopic(topic); err != nil {
			t.Fatalf("ValidateTopic(%q): %v", topic, err)
		}
	}

	invalid := []string{"", "jobs", "job:", ":x", "queue:default"}
	for _, topic := range invalid {
		if err := ValidateTopic(topic); err == nil {
			t.Fatalf("ValidateTopic(%q) succeeded, want error", topic)
		}
	}
}
