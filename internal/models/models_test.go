package models

import (
	"testing"
	"time"
)

func TestNormalizeJobID(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"JOB-42", "job-42"},
		{"  Job-42 ", "job-42"},
		{"job-42", "job-42"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeJobID(c.in); got != c.want {
			t.Errorf("NormalizeJobID(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestSnapshotSeen(t *testing.T) {
	s := NewSnapshot()
	if s.Seen("msg-1") {
		t.Error("fresh snapshot should not have seen msg-1")
	}
	s.MarkSeen("msg-1", time.Now())
	if !s.Seen("msg-1") {
		t.Error("msg-1 should be seen after MarkSeen")
	}
	// Marking again must not reset the first-seen time.
	first := s.SeenMessages["msg-1"]
	s.MarkSeen("msg-1", time.Now().Add(time.Hour))
	if !s.SeenMessages["msg-1"].Equal(first) {
		t.Error("MarkSeen overwrote the original first-seen time")
	}
}

func TestSnapshotJobForwardedCaseInsensitive(t *testing.T) {
	s := NewSnapshot()
	s.MarkForwarded(ForwardRecord{
		MessageID:          "msg-1",
		ConversationID:     "conv-1",
		JobID:              "Job-42",
		ForwardedMessageID: "fwd-1",
		ForwardedAt:        time.Now(),
	})
	for _, id := range []string{"job-42", "JOB-42", "Job-42"} {
		if !s.JobForwarded(id) {
			t.Errorf("JobForwarded(%q) = false, want true", id)
		}
	}
	if s.JobForwarded("job-43") {
		t.Error("JobForwarded should not match a different job")
	}
	if s.JobForwarded("") {
		t.Error("JobForwarded should never match the empty id")
	}
}

func TestSnapshotAdvanceCursor(t *testing.T) {
	s := NewSnapshot()
	t1 := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	t2 := t1.Add(time.Minute)

	if !s.AdvanceCursor("conv-1", t1) {
		t.Fatal("first advance should succeed")
	}
	if !s.AdvanceCursor("conv-1", t2) {
		t.Fatal("forward advance should succeed")
	}
	if s.AdvanceCursor("conv-1", t1) {
		t.Error("backward advance should be ignored")
	}
	if s.AdvanceCursor("conv-1", t2) {
		t.Error("equal-timestamp advance should be ignored")
	}
	if got := s.Cursor("conv-1"); !got.Equal(t2) {
		t.Errorf("Cursor = %v, want %v", got, t2)
	}
	if got := s.Cursor("conv-2"); !got.IsZero() {
		t.Errorf("Cursor for unknown conversation = %v, want zero", got)
	}
}

func TestSnapshotRecordsOrder(t *testing.T) {
	s := NewSnapshot()
	base := time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)
	s.MarkForwarded(ForwardRecord{MessageID: "m1", JobID: "a", ForwardedMessageID: "f1", ForwardedAt: base})
	s.MarkForwarded(ForwardRecord{MessageID: "m2", JobID: "b", ForwardedMessageID: "f2", ForwardedAt: base.Add(time.Minute)})
	s.MarkForwarded(ForwardRecord{MessageID: "m3", JobID: "c", ForwardedMessageID: "f3", ForwardedAt: base.Add(2 * time.Minute)})

	recs := s.Records()
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if recs[0].MessageID != "m3" || recs[2].MessageID != "m1" {
		t.Errorf("records not newest-first: %v", recs)
	}
}

func TestSnapshotClone(t *testing.T) {
	s := NewSnapshot()
	s.MarkSeen("msg-1", time.Now())
	s.AdvanceCursor("conv-1", time.Now())

	c := s.Clone()
	c.MarkSeen("msg-2", time.Now())
	if s.Seen("msg-2") {
		t.Error("mutating the clone leaked into the original")
	}
	if !c.Seen("msg-1") {
		t.Error("clone is missing data from the original")
	}
}

func TestSnapshotInit(t *testing.T) {
	var s Snapshot
	s.Init()
	// All maps must be usable after Init on a zero value.
	s.MarkSeen("msg-1", time.Now())
	s.MarkForwarded(ForwardRecord{MessageID: "m", JobID: "j", ForwardedAt: time.Now()})
	s.AdvanceCursor("c", time.Now())
	if !s.Seen("msg-1") || !s.JobForwarded("j") {
		t.Error("snapshot not usable after Init")
	}
}

func TestDetectionHasJob(t *testing.T) {
	if (Detection{Match: true, JobID: "j"}).HasJob() != true {
		t.Error("expected HasJob true")
	}
	if (Detection{Match: true}).HasJob() {
		t.Error("match without job id should not have a job")
	}
	if (Detection{JobID: "j"}).HasJob() {
		t.Error("job id without match should not have a job")
	}
}

func TestMessageValidate(t *testing.T) {
	m := Message{ID: "m1", ConversationID: "c1"}
	if err := m.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	m = Message{ConversationID: "c1"}
	if err := m.Validate(); err != ErrEmptyMessageID {
		t.Errorf("expected ErrEmptyMessageID, got %v", err)
	}
	m = Message{ID: "m1"}
	if err := m.Validate(); err != ErrEmptyConversationID {
		t.Errorf("expected ErrEmptyConversationID, got %v", err)
	}
}

func TestPatternRequestValidate(t *testing.T) {
	r := PatternRequest{Pattern: `(?i)push\s+(\S+)`}
	if err := r.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	r = PatternRequest{}
	if err := r.Validate(); err != ErrEmptyPattern {
		t.Errorf("expected ErrEmptyPattern, got %v", err)
	}
	long := make([]byte, MaxPatternLength+1)
	for i := range long {
		long[i] = 'a'
	}
	r = PatternRequest{Pattern: string(long)}
	if err := r.Validate(); err != ErrPatternTooLong {
		t.Errorf("expected ErrPatternTooLong, got %v", err)
	}
}

func TestIsValidConversationKind(t *testing.T) {
	for _, k := range []ConversationKind{KindOneOnOne, KindGroup, KindMeeting, KindUnknown} {
		if !IsValidConversationKind(k) {
			t.Errorf("kind %q should be valid", k)
		}
	}
	if IsValidConversationKind("channel") {
		t.Error("unrecognized kind should be invalid")
	}
}

func TestAPIResponseBuilders(t *testing.T) {
	resp := Success(map[string]string{"k": "v"})
	if resp.Status != string(APIStatusOK) {
		t.Errorf("expected ok status, got %q", resp.Status)
	}
	resp = Error("boom")
	if resp.Status != string(APIStatusError) || resp.Message != "boom" {
		t.Errorf("unexpected error response: %+v", resp)
	}
	resp = SuccessWithMessage("added", nil)
	if resp.Status != string(APIStatusOK) || resp.Message != "added" {
		t.Errorf("unexpected response: %+v", resp)
	}
}
