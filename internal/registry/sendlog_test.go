package registry

import (
	"testing"
	"time"
)

func TestRecordRetentionSendIsAppendOnly(t *testing.T) {
	reg := newTestRegistry(t)

	first := &RetentionSend{
		TenantID:  "t-SEND000001",
		Step:      1,
		Channel:   "sms",
		Succeeded: true,
	}
	if err := reg.RecordRetentionSend(first); err != nil {
		t.Fatalf("RecordRetentionSend: %v", err)
	}

	// A duplicate from an overlapping run must not overwrite the first outcome.
	dup := &RetentionSend{
		TenantID:    "t-SEND000001",
		Step:        1,
		Channel:     "email",
		Succeeded:   false,
		ErrorDetail: "timeout",
	}
	if err := reg.RecordRetentionSend(dup); err != nil {
		t.Fatalf("RecordRetentionSend duplicate: %v", err)
	}

	sends, err := reg.ListRetentionSends("t-SEND000001")
	if err != nil {
		t.Fatalf("ListRetentionSends: %v", err)
	}
	if len(sends) != 1 {
		t.Fatalf("got %d send records, want 1", len(sends))
	}
	if !sends[0].Succeeded || sends[0].Channel != "sms" {
		t.Fatalf("first record was overwritten: %+v", sends[0])
	}
}

func TestRetentionStepsSentIncludesFailures(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.RecordRetentionSend(&RetentionSend{
		TenantID:    "t-SEND000002",
		Step:        2,
		Channel:     "sms",
		SentAt:      time.Now().UTC(),
		Succeeded:   false,
		ErrorDetail: "provider 503",
	}); err != nil {
		t.Fatalf("RecordRetentionSend: %v", err)
	}

	steps, err := reg.RetentionStepsSent("t-SEND000002")
	if err != nil {
		t.Fatalf("RetentionStepsSent: %v", err)
	}
	if !steps[2] {
		t.Fatal("failed attempt must still mark the step as sent")
	}
	if steps[1] || steps[3] {
		t.Fatalf("unexpected steps marked: %v", steps)
	}
}

func TestDeleteRetentionSendReArmsStep(t *testing.T) {
	reg := newTestRegistry(t)

	if err := reg.RecordRetentionSend(&RetentionSend{
		TenantID: "t-SEND000003", Step: 1, Channel: "sms", Succeeded: false, ErrorDetail: "boom",
	}); err != nil {
		t.Fatalf("RecordRetentionSend: %v", err)
	}
	if err := reg.DeleteRetentionSend("t-SEND000003", 1); err != nil {
		t.Fatalf("DeleteRetentionSend: %v", err)
	}

	steps, err := reg.RetentionStepsSent("t-SEND000003")
	if err != nil {
		t.Fatalf("RetentionStepsSent: %v", err)
	}
	if len(steps) != 0 {
		t.Fatalf("steps = %v, want empty after delete", steps)
	}
}
