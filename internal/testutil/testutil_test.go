package testutil

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/PushRelay/internal/models"
)

func TestSampleSnapshotShape(t *testing.T) {
	snap := SampleSnapshot()
	c := snap.Counts()
	if c.Conversations != 1 || c.SeenMessages != 1 || c.ForwardedMessages != 1 || c.ForwardedJobs != 1 {
		t.Errorf("unexpected sample snapshot counts: %+v", c)
	}
	// The mixed-case job id must be findable under its normalized form.
	if !snap.JobForwarded("job-42") {
		t.Error("sample job not forwarded under normalized id")
	}
	if snap.Cursor("conv-1").IsZero() {
		t.Error("sample snapshot should carry a cursor")
	}
}

func TestAssertSnapshotsEqualAcceptsClone(t *testing.T) {
	snap := SampleSnapshot()
	AssertSnapshotsEqual(t, snap, snap.Clone())
}

func TestAssertHTTPStatusAcceptsMatch(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "matching status")
}

func TestAssertJSONResponseDecodes(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Body.WriteString(`{"status":"ok","result":["a","b"]}`)

	response := AssertJSONResponse(t, rr, "ok")
	result, ok := response["result"].([]interface{})
	if !ok {
		t.Fatalf("result is %T, want array", response["result"])
	}
	if len(result) != 2 {
		t.Errorf("result length = %d, want 2", len(result))
	}
}

func TestCreateHTTPRequestWithBody(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodPost, "/patterns", models.PatternRequest{Pattern: `push (\S+)`})
	if req.Method != http.MethodPost || req.URL.Path != "/patterns" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
	}

	data, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("failed to read request body: %v", err)
	}
	var decoded models.PatternRequest
	MustUnmarshalJSON(t, data, &decoded)
	if decoded.Pattern != `push (\S+)` {
		t.Errorf("body round-trip mismatch: %q", decoded.Pattern)
	}
}

func TestCreateHTTPRequestWithoutBody(t *testing.T) {
	req := CreateHTTPRequest(t, http.MethodGet, "/status", nil)
	if req.Method != http.MethodGet || req.URL.Path != "/status" {
		t.Errorf("unexpected request: %s %s", req.Method, req.URL.Path)
	}
}

func TestMustMarshalJSONRoundTrip(t *testing.T) {
	rec := models.ForwardRecord{MessageID: "m1", ConversationID: "conv-1", JobID: "job-1"}
	data := MustMarshalJSON(t, rec)

	var decoded models.ForwardRecord
	MustUnmarshalJSON(t, data, &decoded)
	if decoded.MessageID != rec.MessageID || decoded.JobID != rec.JobID {
		t.Errorf("round-trip mismatch: %+v", decoded)
	}
}
