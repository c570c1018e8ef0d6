package websocket

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/sonicgenius/api/internal/model"
)

func startHub(t *testing.T) *Hub {
	t.Helper()
	h := NewHub(zerolog.Nop())
	go h.Run()
	t.Cleanup(h.Stop)
	return h
}

func receive(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case msg, ok := <-c.Send:
		if !ok {
			t.Fatal("client channel closed")
		}
		return msg
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}
	return nil
}

func TestHubRoutesMessagesByJob(t *testing.T) {
	h := startHub(t)

	a := &Client{JobID: "job-a", Send: make(chan []byte, 4)}
	b := &Client{JobID: "job-b", Send: make(chan []byte, 4)}
	h.Register(a)
	h.Register(b)

	h.BroadcastProgress("job-a", 40, model.JobStatusRunning, "invoking_model")

	var progress model.WSProgressMessage
	if err := json.Unmarshal(receive(t, a), &progress); err != nil {
		t.Fatal(err)
	}
	if progress.Type != model.WSMessageTypeProgress || progress.Progress != 40 || progress.CurrentStep != "invoking_model" {
		t.Errorf("unexpected progress message %+v", progress)
	}

	select {
	case msg := <-b.Send:
		t.Errorf("job-b should not receive job-a messages, got %s", msg)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubCompleteAndError(t *testing.T) {
	h := startHub(t)

	c := &Client{JobID: "job-1", Send: make(chan []byte, 4)}
	h.Register(c)

	h.BroadcastComplete("job-1", &model.AnalysisResponse{Mode: model.ModeText, VibeTags: "warm"})
	var done model.WSCompleteMessage
	if err := json.Unmarshal(receive(t, c), &done); err != nil {
		t.Fatal(err)
	}
	if done.Type != model.WSMessageTypeComplete || done.Result == nil || done.Result.VibeTags != "warm" {
		t.Errorf("unexpected complete message %+v", done)
	}

	h.BroadcastError("job-1", "SCHEMA_VIOLATION", "bpm")
	var failed model.WSErrorMessage
	if err := json.Unmarshal(receive(t, c), &failed); err != nil {
		t.Fatal(err)
	}
	if failed.Error.Code != "SCHEMA_VIOLATION" {
		t.Errorf("unexpected error message %+v", failed)
	}
}

func TestHubUnregisterClosesChannel(t *testing.T) {
	h := startHub(t)

	c := &Client{JobID: "job-1", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Unregister(c)

	select {
	case _, ok := <-c.Send:
		if ok {
			t.Error("expected closed channel")
		}
	case <-time.After(time.Second):
		t.Fatal("channel was not closed")
	}
	if n := h.Subscribers("job-1"); n != 0 {
		t.Errorf("expected no subscribers, got %d", n)
	}
}

func TestHubRegistrationAfterStopReturns(t *testing.T) {
	h := startHub(t)
	c := &Client{JobID: "job-a", Send: make(chan []byte, 1)}
	h.Register(c)
	h.Stop()

	done := make(chan struct{})
	go func() {
		h.Unregister(c)
		h.Register(&Client{JobID: "job-b", Send: make(chan []byte, 1)})
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Register/Unregister blocked after Stop")
	}
}
