package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestSaveAndGetReview(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	created := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveReview(ctx, Review{ID: "abc123", LeadJSON: `{"text":"нужен трансфер"}`, CreatedAt: created}); err != nil {
		t.Fatalf("SaveReview: %v", err)
	}
	if err := s.SetReviewMessage(ctx, "abc123", 555); err != nil {
		t.Fatalf("SetReviewMessage: %v", err)
	}

	got, err := s.GetReview(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if got.Status != ReviewPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
	if got.MessageID != 555 {
		t.Errorf("MessageID = %d, want 555", got.MessageID)
	}
	if !got.CreatedAt.Equal(created) {
		t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, created)
	}
	if !got.DecidedAt.IsZero() {
		t.Errorf("DecidedAt = %v, want zero", got.DecidedAt)
	}
}

func TestGetReviewNotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetReview(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	if err := s.SetReviewMessage(context.Background(), "missing", 1); err != ErrNotFound {
		t.Errorf("SetReviewMessage error = %v, want ErrNotFound", err)
	}
}

func TestDecideReviewOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveReview(ctx, Review{ID: "r1", LeadJSON: "{}"})

	if err := s.DecideReview(ctx, "r1", ReviewApproved); err != nil {
		t.Fatalf("DecideReview: %v", err)
	}
	if err := s.DecideReview(ctx, "r1", ReviewRejected); !errors.Is(err, ErrAlreadyDecided) {
		t.Errorf("second DecideReview error = %v, want ErrAlreadyDecided", err)
	}

	got, _ := s.GetReview(ctx, "r1")
	if got.Status != ReviewApproved {
		t.Errorf("Status = %q, want approved", got.Status)
	}
	if got.DecidedAt.IsZero() {
		t.Error("DecidedAt not set")
	}
}

func TestDecideReviewInvalid(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.DecideReview(ctx, "nope", ReviewApproved); err != ErrNotFound {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
	s.SaveReview(ctx, Review{ID: "r2", LeadJSON: "{}"})
	if err := s.DecideReview(ctx, "r2", "maybe"); err == nil {
		t.Error("expected error for invalid status")
	}
}

func TestListReviews(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"a", "b", "c"} {
		s.SaveReview(ctx, Review{ID: id, LeadJSON: "{}", CreatedAt: base.Add(time.Duration(i) * time.Minute)})
	}
	s.DecideReview(ctx, "b", ReviewRejected)

	pending, err := s.ListReviews(ctx, ReviewPending, 10)
	if err != nil {
		t.Fatalf("ListReviews: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != "c" || pending[1].ID != "a" {
		t.Errorf("pending = %+v, want [c a]", pending)
	}

	all, _ := s.ListReviews(ctx, "", 10)
	if len(all) != 3 {
		t.Errorf("len(all) = %d, want 3", len(all))
	}
}

func TestSaveReviewDuplicateIsNoop(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	s.SaveReview(ctx, Review{ID: "dup", LeadJSON: `{"v":1}`})
	if err := s.SaveReview(ctx, Review{ID: "dup", LeadJSON: `{"v":2}`}); err != nil {
		t.Fatalf("SaveReview duplicate: %v", err)
	}
	got, _ := s.GetReview(ctx, "dup")
	if got.LeadJSON != `{"v":1}` {
		t.Errorf("LeadJSON = %q, want original", got.LeadJSON)
	}
}
