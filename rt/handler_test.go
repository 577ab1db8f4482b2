package rt

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	"github.com/propagentic/dispatch"
	"github.com/propagentic/dispatch/engine"
	"github.com/propagentic/dispatch/id"
	"github.com/propagentic/dispatch/job"
	"github.com/propagentic/dispatch/store/memory"
)

func testHandler(t *testing.T) *Handler {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d, err := dispatch.New(
		dispatch.WithStore(memory.New()),
		dispatch.WithLogger(logger),
	)
	if err != nil {
		t.Fatalf("dispatch.New: %v", err)
	}
	eng, err := engine.Build(d, engine.WithoutMetrics())
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return NewHandler(eng, logger)
}

func roundTrip(t *testing.T, h *Handler, method string, payload any) *Frame {
	t.Helper()

	frame, err := NewRequestFrame(GenerateFrameID(), method, payload)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}
	return h.Handle(context.Background(), frame, nil)
}

func createJob(t *testing.T, h *Handler, landlordID string) *job.Job {
	t.Helper()

	resp := roundTrip(t, h, MethodJobCreate, JobCreateRequest{
		LandlordID: landlordID,
		Title:      "Boiler not heating",
		Category:   "plumbing",
		Priority:   "urgent",
	})
	if resp.Type != FrameResponse {
		t.Fatalf("create response = %+v", resp)
	}
	var j job.Job
	if err := json.Unmarshal(resp.Data, &j); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	return &j
}

func TestHandlerCreateAndGet(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	landlord := id.NewLandlordID()
	j := createJob(t, h, landlord.String())

	if j.Status != job.StatusPendingAcceptance {
		t.Errorf("status = %q, want pending_acceptance", j.Status)
	}

	resp := roundTrip(t, h, MethodJobGet, JobGetRequest{JobID: j.ID.String()})
	if resp.Type != FrameResponse {
		t.Fatalf("get response = %+v", resp)
	}
	var got job.Job
	if err := json.Unmarshal(resp.Data, &got); err != nil {
		t.Fatalf("unmarshal job: %v", err)
	}
	if got.ID != j.ID {
		t.Errorf("got job %s, want %s", got.ID, j.ID)
	}
}

func TestHandlerUnknownMethod(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	resp := roundTrip(t, h, "nope.nothing", nil)
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeMethodNotFound {
		t.Fatalf("response = %+v, want 405", resp)
	}
}

func TestHandlerJobNotFound(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	resp := roundTrip(t, h, MethodJobGet, JobGetRequest{JobID: id.NewJobID().String()})
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}
}

func TestHandlerMalformedPayload(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	frame := &Frame{
		ID:     GenerateFrameID(),
		Type:   FrameRequest,
		Method: MethodJobGet,
		Data:   json.RawMessage(`{"job_id": 42`),
	}
	resp := h.Handle(context.Background(), frame, nil)
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeBadRequest {
		t.Fatalf("response = %+v, want 400", resp)
	}
}

func TestHandlerAcceptRace(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	j := createJob(t, h, id.NewLandlordID().String())

	winner := id.NewContractorID()
	resp := roundTrip(t, h, MethodJobAccept, JobActionRequest{
		JobID:   j.ID.String(),
		ActorID: winner.String(),
	})
	if resp.Type != FrameResponse {
		t.Fatalf("first accept = %+v", resp)
	}

	loser := id.NewContractorID()
	resp = roundTrip(t, h, MethodJobAccept, JobActionRequest{
		JobID:   j.ID.String(),
		ActorID: loser.String(),
	})
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeConflict {
		t.Fatalf("second accept = %+v, want 409", resp)
	}
}

func TestHandlerCancelByNonOwner(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	j := createJob(t, h, id.NewLandlordID().String())

	resp := roundTrip(t, h, MethodJobCancel, JobActionRequest{
		JobID:   j.ID.String(),
		ActorID: id.NewLandlordID().String(),
		Reason:  "posted by mistake",
	})
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeForbidden {
		t.Fatalf("response = %+v, want 403", resp)
	}
}

func TestHandlerSubscribeValidatesChannel(t *testing.T) {
	t.Parallel()

	h := testHandler(t)

	resp := roundTrip(t, h, MethodSubscribe, SubscribeRequest{Channel: "bogus:::topic"})
	if resp.Type != FrameErr || resp.Error.Code != ErrCodeBadRequest {
		t.Fatalf("response = %+v, want 400", resp)
	}

	resp = roundTrip(t, h, MethodSubscribe, SubscribeRequest{Channel: "pool"})
	if resp.Type != FrameResponse {
		t.Fatalf("response = %+v, want subscribed", resp)
	}
}

func TestHandlerPoolList(t *testing.T) {
	t.Parallel()

	h := testHandler(t)
	createJob(t, h, id.NewLandlordID().String())
	createJob(t, h, id.NewLandlordID().String())

	resp := roundTrip(t, h, MethodPoolList, PoolListRequest{
		ContractorID: id.NewContractorID().String(),
		Limit:        10,
	})
	if resp.Type != FrameResponse {
		t.Fatalf("response = %+v", resp)
	}
	var page ListResponse
	if err := json.Unmarshal(resp.Data, &page); err != nil {
		t.Fatalf("unmarshal page: %v", err)
	}
	var jobs []*job.Job
	if err := json.Unmarshal(page.Jobs, &jobs); err != nil {
		t.Fatalf("unmarshal jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Errorf("pool size = %d, want 2", len(jobs))
	}
}
