package subscriber

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"
)

// openTestPostgres connects to LEADBOT_TEST_POSTGRES_DSN, skipping when unset.
func openTestPostgres(t *testing.T) *PostgresStore {
	t.Helper()
	dsn := os.Getenv("LEADBOT_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("LEADBOT_TEST_POSTGRES_DSN not set")
	}
	if err := MigrateUp(dsn); err != nil {
		t.Fatalf("MigrateUp: %v", err)
	}
	s, err := OpenPostgres(context.Background(), dsn)
	if err != nil {
		t.Fatalf("OpenPostgres: %v", err)
	}
	t.Cleanup(func() {
		s.db.Exec(`DELETE FROM subscribers WHERE user_id BETWEEN 900000 AND 900099`)
		s.Close()
	})
	return s
}

func TestPostgresRoundTrip(t *testing.T) {
	s := openTestPostgres(t)
	ctx := context.Background()

	in := Preference{
		UserID:     900001,
		Categories: []string{"трансфер"},
		Subcats:    map[string][]string{"трансфер": {"аэропорт"}},
		Locations:  []string{"Алания"},
		TrialStart: NewTimestamp(time.Now().Add(-time.Hour).Truncate(time.Microsecond)),
	}
	if err := s.Save(ctx, in); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Get(ctx, in.UserID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Access(time.Now()) != AccessTrial {
		t.Errorf("Access = %s", got.Access(time.Now()))
	}
	if !got.AllowsSubcategory("трансфер", "аэропорт") || got.AllowsSubcategory("трансфер", "город") {
		t.Errorf("subcats = %v", got.Subcats)
	}

	if err := s.SetNotified(ctx, in.UserID, NoticeTrialExpired); err != nil {
		t.Fatal(err)
	}
	got, _ = s.Get(ctx, in.UserID)
	if !got.TrialExpiredNotified {
		t.Error("flag not stored")
	}

	if err := s.Delete(ctx, in.UserID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(ctx, in.UserID); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete err = %v", err)
	}
}
