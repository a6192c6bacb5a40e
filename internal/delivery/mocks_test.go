package delivery

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/telegram"
)

type fakeSender struct {
	mu       sync.Mutex
	sent     []telegram.SendOptions
	errs     map[int64]error
	botID    int64
	answers  map[string]string
	deleted  []int64
	cleared  []int64
	nextID   int64
	getMeHit int
}

func newFakeSender() *fakeSender {
	return &fakeSender{errs: map[int64]error{}, answers: map[string]string{}, botID: 42}
}

func (f *fakeSender) SendMessage(_ context.Context, opts telegram.SendOptions) (telegram.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.errs[opts.ChatID]; err != nil {
		return telegram.Message{}, err
	}
	f.sent = append(f.sent, opts)
	f.nextID++
	return telegram.Message{MessageID: f.nextID, Chat: telegram.Chat{ID: opts.ChatID}}, nil
}

func (f *fakeSender) GetMe(context.Context) (telegram.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.getMeHit++
	return telegram.User{ID: f.botID, IsBot: true}, nil
}

func (f *fakeSender) AnswerCallbackQuery(_ context.Context, id, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.answers[id] = text
	return nil
}

func (f *fakeSender) DeleteMessage(_ context.Context, _, messageID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *fakeSender) EditReplyMarkup(_ context.Context, _, messageID int64, kb *telegram.InlineKeyboardMarkup) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if kb == nil {
		f.cleared = append(f.cleared, messageID)
	}
	return nil
}

func (f *fakeSender) sentTo() []int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []int64
	for _, s := range f.sent {
		ids = append(ids, s.ChatID)
	}
	return ids
}

// memStore is an in-memory subscriber.Store.
type memStore struct {
	mu   sync.Mutex
	subs map[int64]subscriber.Preference
}

func newMemStore(prefs ...subscriber.Preference) *memStore {
	s := &memStore{subs: map[int64]subscriber.Preference{}}
	for _, p := range prefs {
		s.subs[p.UserID] = p
	}
	return s
}

func (s *memStore) List(context.Context) ([]subscriber.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]subscriber.Preference, 0, len(s.subs))
	for _, p := range s.subs {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

func (s *memStore) Get(_ context.Context, id int64) (subscriber.Preference, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.subs[id]
	if !ok {
		return subscriber.Preference{}, subscriber.ErrNotFound
	}
	return p.Clone(), nil
}

func (s *memStore) Save(_ context.Context, p subscriber.Preference) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.subs[p.UserID] = p.Clone()
	return nil
}

func (s *memStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.subs, id)
	return nil
}

func (s *memStore) SetNotified(_ context.Context, id int64, n subscriber.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.subs[id]
	if !ok {
		return subscriber.ErrNotFound
	}
	switch n {
	case subscriber.NoticeTrialExpired:
		p.TrialExpiredNotified = true
	case subscriber.NoticePaidExpired:
		p.PaidExpiredNotified = true
	}
	s.subs[id] = p
	return nil
}

func (s *memStore) Close() error { return nil }

type recordingNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (n *recordingNotifier) Notify(_ context.Context, text string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.texts = append(n.texts, text)
}

type recordingExporter struct{ leads []Lead }

func (e *recordingExporter) Export(_ context.Context, l Lead) error {
	e.leads = append(e.leads, l)
	return nil
}

const testCatalog = `{
  "трансфер": {
    "keywords": ["трансфер", "такси"],
    "subcategories": {
      "аэропорт": {"keywords": ["аэропорт"]},
      "межгород": {"keywords": ["межгород"]}
    }
  },
  "экскурсии": {"keywords": ["экскурсия", "гид"]}
}`

func testCatalogOf(t *testing.T) *category.Catalog {
	t.Helper()
	snap, err := category.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatalf("parsing catalog: %v", err)
	}
	return category.NewStatic(snap)
}

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func trialSub(id int64, locations ...string) subscriber.Preference {
	return subscriber.Preference{
		UserID:     id,
		Categories: []string{"трансфер"},
		Locations:  locations,
		TrialStart: subscriber.NewTimestamp(testNow.Add(-time.Hour)),
	}
}
