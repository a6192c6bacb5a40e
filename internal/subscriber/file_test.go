package subscriber

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleSubscriptions = `{
  "1001": {
    "categories": ["трансфер"],
    "subcats": {},
    "locations": ["Алания"],
    "trial_start": "2025-06-01T10:00:00+00:00"
  },
  "1002": {
    "categories": ["бьюти"],
    "locations": ["Анталия"],
    "subscription_end": "2025-07-01T00:00:00",
    "paid_expired_notified": true
  },
  "not-a-user": {"categories": []}
}`

func writeSubscriptions(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFileStoreLoad(t *testing.T) {
	s, err := OpenFile(writeSubscriptions(t, sampleSubscriptions))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	ctx := context.Background()

	all, err := s.List(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 {
		t.Fatalf("List = %d subscribers, want 2", len(all))
	}
	if all[0].UserID != 1001 || all[1].UserID != 1002 {
		t.Errorf("ids = %d, %d", all[0].UserID, all[1].UserID)
	}
	if !all[1].PaidExpiredNotified {
		t.Error("paid_expired_notified not loaded")
	}
	if all[0].TrialStart == nil || all[0].TrialStart.Day() != 1 {
		t.Errorf("trial_start = %v", all[0].TrialStart)
	}

	inAlanya, err := InRegions(ctx, s, []string{"Алания"})
	if err != nil || len(inAlanya) != 1 || inAlanya[0].UserID != 1001 {
		t.Errorf("InRegions = %+v, %v", inAlanya, err)
	}
}

func TestFileStoreMissingFile(t *testing.T) {
	s, err := OpenFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	all, _ := s.List(context.Background())
	if len(all) != 0 {
		t.Errorf("List = %v", all)
	}
	if _, err := s.Get(context.Background(), 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get err = %v", err)
	}
}

func TestFileStoreSetNotifiedPersists(t *testing.T) {
	path := writeSubscriptions(t, sampleSubscriptions)
	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.SetNotified(ctx, 1001, NoticeTrialExpired); err != nil {
		t.Fatalf("SetNotified: %v", err)
	}
	if err := s.SetNotified(ctx, 42, NoticeTrialExpired); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown user err = %v", err)
	}

	reopened, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	p, err := reopened.Get(ctx, 1001)
	if err != nil {
		t.Fatal(err)
	}
	if !p.TrialExpiredNotified {
		t.Error("flag not persisted")
	}
	if len(p.Locations) != 1 || p.Locations[0] != "Алания" {
		t.Errorf("other fields lost: %+v", p)
	}
}

func TestFileStoreReturnsCopies(t *testing.T) {
	s, err := OpenFile(writeSubscriptions(t, sampleSubscriptions))
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	p, _ := s.Get(ctx, 1001)
	p.Locations[0] = "Кемер"

	again, _ := s.Get(ctx, 1001)
	if again.Locations[0] != "Алания" {
		t.Error("caller mutation leaked into the store")
	}
}

func TestFileStoreReloadsOnChange(t *testing.T) {
	path := writeSubscriptions(t, sampleSubscriptions)
	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(path, []byte(`{"7": {"categories": ["экскурсии"], "locations": ["Кемер"]}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	future := time.Now().Add(time.Minute)
	os.Chtimes(path, future, future)

	all, err := s.List(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].UserID != 7 {
		t.Errorf("List after rewrite = %+v", all)
	}
}

func TestFileStoreSaveDelete(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "subs.json")
	s, err := OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	if err := s.Save(ctx, Preference{UserID: 5, Categories: []string{"трансфер"}, Locations: []string{"Алания"}}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("file not written: %v", err)
	}
	if err := s.Delete(ctx, 5); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, 5); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete err = %v", err)
	}
}

func TestOpenBackend(t *testing.T) {
	if _, err := Open(context.Background(), "redis", "", ""); err == nil {
		t.Error("unknown backend should fail")
	}
	if _, err := Open(context.Background(), "postgres", "", ""); err == nil {
		t.Error("postgres without DSN should fail")
	}
	s, err := Open(context.Background(), "", filepath.Join(t.TempDir(), "s.json"), "")
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := s.(*FileStore); !ok {
		t.Errorf("default backend = %T", s)
	}
}
