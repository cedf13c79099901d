package diagnostics

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/spice-space/spice-streaming-agent/internal/session"
)

func TestHandleStatusReflectsState(t *testing.T) {
	state := session.NewState()
	state.ApplyStartStop([]uint8{1, 2})
	state.RecordFrameSent(1000)

	s := New("127.0.0.1:0", state)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if !snap.Streaming {
		t.Fatal("Streaming = false, want true")
	}
	if snap.FramesSent != 1 {
		t.Fatalf("FramesSent = %d, want 1", snap.FramesSent)
	}
	if snap.BytesSent != 1000 {
		t.Fatalf("BytesSent = %d, want 1000", snap.BytesSent)
	}
}

func TestHandleStatusIdleState(t *testing.T) {
	state := session.NewState()
	s := New("127.0.0.1:0", state)

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)

	var snap session.Snapshot
	if err := json.Unmarshal(rec.Body.Bytes(), &snap); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if snap.Streaming {
		t.Fatal("Streaming = true, want false on fresh state")
	}
	if len(snap.Codecs) != 0 {
		t.Fatalf("Codecs = %v, want empty", snap.Codecs)
	}
}
