// Package testutil provides common test utilities and helpers for PushRelay tests.
//
// It only depends on models so that package-internal tests anywhere in the
// tree can import it without cycles.
package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/BTreeMap/PushRelay/internal/models"
)

// GetenvOrSkip returns the value of the environment variable or skips the
// test when it is unset. Used to gate integration tests on real credentials.
func GetenvOrSkip(t *testing.T, key string) string {
	t.Helper()
	v := os.Getenv(key)
	if v == "" {
		t.Skipf("environment variable %s not set", key)
	}
	return v
}

// SampleSnapshot builds a snapshot with one entry in every section. Store
// round-trip tests share this fixture so their assertions stay comparable.
func SampleSnapshot() *models.Snapshot {
	snap := models.NewSnapshot()
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	snap.AdvanceCursor("conv-1", ts)
	snap.MarkSeen("msg-1", ts)
	snap.MarkForwarded(models.ForwardRecord{
		MessageID:          "msg-1",
		ConversationID:     "conv-1",
		JobID:              "Job-42",
		ForwardedMessageID: "fwd-9",
		ForwardedAt:        ts.Add(time.Second),
	})
	return snap
}

// AssertSnapshotsEqual compares two snapshots section by section, using
// time.Equal so zone differences from serialization round-trips do not fail
// the comparison.
func AssertSnapshotsEqual(t *testing.T, want, got *models.Snapshot) {
	t.Helper()
	wc, gc := want.Counts(), got.Counts()
	if wc != gc {
		t.Fatalf("snapshot counts differ: want %+v, got %+v", wc, gc)
	}
	for convID, ts := range want.Cursors {
		if !got.Cursor(convID).Equal(ts) {
			t.Errorf("cursor for %s: want %v, got %v", convID, ts, got.Cursor(convID))
		}
	}
	for msgID, seenAt := range want.SeenMessages {
		if !got.SeenMessages[msgID].Equal(seenAt) {
			t.Errorf("seen time for %s: want %v, got %v", msgID, seenAt, got.SeenMessages[msgID])
		}
	}
	for msgID, rec := range want.ForwardedMessages {
		gotRec, ok := got.ForwardedMessages[msgID]
		if !ok {
			t.Errorf("forward record for %s missing", msgID)
			continue
		}
		if gotRec.JobID != rec.JobID || gotRec.ForwardedMessageID != rec.ForwardedMessageID || !gotRec.ForwardedAt.Equal(rec.ForwardedAt) {
			t.Errorf("forward record for %s: want %+v, got %+v", msgID, rec, gotRec)
		}
	}
	for jobID := range want.ForwardedJobs {
		if !got.JobForwarded(jobID) {
			t.Errorf("job %s not marked forwarded after reload", jobID)
		}
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t *testing.T, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes a JSON API response and validates the status field.
func AssertJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t *testing.T, method, url string, body interface{}) *http.Request {
	t.Helper()
	var reqBody *bytes.Buffer
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("failed to marshal request body: %v", err)
		}
		reqBody = bytes.NewBuffer(jsonData)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	return req
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t *testing.T, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t *testing.T, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
