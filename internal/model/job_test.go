package model

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestJobJSONCarriesTypeTag(t *testing.T) {
	strength := 0.8
	job := Job{
		ID:           uuid.New(),
		GenerationID: 42,
		Payload:      VariationPayload{OriginalImageURL: "https://cdn/a.png", VariationStrength: &strength},
		Options:      Options{MaxAttempts: 2, Timeout: time.Minute},
	}

	data, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"variation"`) {
		t.Fatalf("encoded job lacks type tag: %s", data)
	}

	var got Job
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	p, ok := got.Payload.(VariationPayload)
	if !ok {
		t.Fatalf("payload = %T, want VariationPayload", got.Payload)
	}
	if p.Strength() != 0.8 || got.GenerationID != 42 || got.ID != job.ID {
		t.Fatalf("decoded job = %+v", got)
	}
}

func TestJobJSONUnknownType(t *testing.T) {
	data := []byte(`{"id":"` + uuid.NewString() + `","generation_id":1,"type":"upscale","payload":{"factor":2}}`)

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	u, ok := job.Payload.(UnknownPayload)
	if !ok {
		t.Fatalf("payload = %T, want UnknownPayload", job.Payload)
	}
	if job.Type() != "upscale" || string(u.Raw) != `{"factor":2}` {
		t.Fatalf("unknown payload = %+v", u)
	}

	out, err := json.Marshal(job)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if !strings.Contains(string(out), `"payload":{"factor":2}`) {
		t.Fatalf("raw payload not preserved: %s", out)
	}
}

func TestJobAttempt(t *testing.T) {
	if got := (Job{AttemptsMade: 2}).Attempt(); got != 3 {
		t.Fatalf("Attempt = %d, want 3", got)
	}
}

func TestPayloadDefaults(t *testing.T) {
	if got := (VariationPayload{}).Strength(); got != DefaultVariationStrength {
		t.Fatalf("Strength = %v, want %v", got, DefaultVariationStrength)
	}
	if got := (CopyPayload{}).VariationCount(); got != 1 {
		t.Fatalf("VariationCount = %d, want 1", got)
	}
	if AspectRatio("2:1").Valid() {
		t.Fatal("2:1 must not be valid")
	}
}

func TestDecodePayloadRejectsMalformedBody(t *testing.T) {
	if _, err := DecodePayload(JobGenerate, json.RawMessage(`{"prompt":1}`)); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestFailedResultMarksPermanent(t *testing.T) {
	job := Job{ID: uuid.New(), GenerationID: 3}
	now := time.Now()

	r := FailedResult(job, Permanent(errors.New("bad input")), now, now)
	if !r.Permanent || r.Error != "bad input" {
		t.Fatalf("result = %+v", r)
	}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	r = FailedResult(job, errors.New("flaky"), now, now)
	if r.Permanent {
		t.Fatal("plain error marked permanent")
	}
}

func TestJobResultValidate(t *testing.T) {
	bad := []JobResult{
		{Status: ResultCompleted},
		{Status: ResultCompleted, ImageURL: "u", Error: "x"},
		{Status: ResultFailed},
		{Status: ResultFailed, Error: "x", CopyText: "c"},
		{Status: "weird"},
	}
	for i, r := range bad {
		if err := r.Validate(); err == nil {
			t.Fatalf("case %d: expected error", i)
		}
	}
}
