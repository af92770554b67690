package generation

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/aliskhannn/generation-pipeline/internal/model"
)

func TestMemoryStoreCreateGet(t *testing.T) {
	s := NewMemoryStore(nil)

	id, err := s.Create(context.Background(), model.Generation{Prompt: "p"})
	if err != nil || id != 1 {
		t.Fatalf("Create = %d, %v", id, err)
	}
	if id, _ := s.Create(context.Background(), model.Generation{ID: 50}); id != 50 {
		t.Fatalf("explicit id = %d", id)
	}
	if id, _ := s.Create(context.Background(), model.Generation{}); id != 51 {
		t.Fatalf("next id = %d, want 51", id)
	}

	gen, err := s.Get(context.Background(), 1)
	if err != nil || gen.Status != model.GenerationPending {
		t.Fatalf("Get = %+v, %v", gen, err)
	}

	if _, err := s.Get(context.Background(), 999); !errors.Is(err, model.ErrGenerationNotFound) {
		t.Fatalf("err = %v, want ErrGenerationNotFound", err)
	}
}

func TestMemoryStoreUpdateIsolation(t *testing.T) {
	s := NewMemoryStore(nil)
	id, _ := s.Create(context.Background(), model.Generation{})
	jobID := uuid.New()

	gen, err := s.Update(context.Background(), id, model.GenerationUpdate{JobID: jobID, Attempt: 1, Status: model.GenerationProcessing})
	if err != nil {
		t.Fatal(err)
	}
	_, err = s.Update(context.Background(), id, model.GenerationUpdate{
		JobID:       jobID,
		Attempt:     1,
		Status:      model.GenerationCompleted,
		ImageURL:    "u",
		AppendTurns: []model.Turn{{Role: "model", ImageURLs: []string{"u"}}},
	})
	if err != nil {
		t.Fatal(err)
	}

	gen, _ = s.Get(context.Background(), id)
	gen.Conversation[0].ImageURLs[0] = "mutated"

	again, _ := s.Get(context.Background(), id)
	if again.Conversation[0].ImageURLs[0] != "u" {
		t.Fatal("Get returned shared conversation")
	}

	_, err = s.Update(context.Background(), id, model.GenerationUpdate{JobID: uuid.New(), Attempt: 1, Status: model.GenerationFailed})
	if !errors.Is(err, model.ErrStaleTransition) {
		t.Fatalf("err = %v, want ErrStaleTransition", err)
	}
	if again, _ := s.Get(context.Background(), id); again.Status != model.GenerationCompleted {
		t.Fatalf("rejected write changed status to %q", again.Status)
	}

	if _, err := s.Update(context.Background(), 404, model.GenerationUpdate{}); !errors.Is(err, ErrGenerationNotFound) {
		t.Fatalf("err = %v, want ErrGenerationNotFound", err)
	}
}
