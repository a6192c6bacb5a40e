package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/delivery"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
)

const testCatalog = `{
  "трансфер": {
    "keywords": ["трансфер", "такси"],
    "subcategories": {"аэропорт": {"keywords": ["аэропорт"]}}
  },
  "бьюти": {"keywords": ["маникюр", "массаж"]},
  "экскурсии": {"keywords": ["экскурсия"]}
}`

const testSubscribers = `{
  "1": {"categories": ["трансфер"], "locations": ["Алания"], "trial_start": "2025-06-01T10:00:00Z"}
}`

type fakeClassifier struct {
	mu       sync.Mutex
	result   classify.Result
	attempts []classify.Attempt
	requests []classify.Request
}

func (f *fakeClassifier) Classify(_ context.Context, req classify.Request) (classify.Result, []classify.Attempt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return f.result, f.attempts
}

func (f *fakeClassifier) Thresholds() classify.Thresholds { return classify.DefaultThresholds }

type fakeRouter struct {
	leads []delivery.Lead
	subs  [][]subscriber.Preference
}

func (f *fakeRouter) Route(_ context.Context, l delivery.Lead, subs []subscriber.Preference) ([]int64, []int64) {
	f.leads = append(f.leads, l)
	f.subs = append(f.subs, subs)
	ids := make([]int64, len(subs))
	for i, s := range subs {
		ids[i] = s.UserID
	}
	return ids, nil
}

type fakeReviewer struct{ leads []delivery.Lead }

func (f *fakeReviewer) Submit(_ context.Context, l delivery.Lead) (string, error) {
	f.leads = append(f.leads, l)
	return "id", nil
}

type fixture struct {
	proc       *Processor
	classifier *fakeClassifier
	router     *fakeRouter
	reviewer   *fakeReviewer
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	snap, err := category.Parse([]byte(testCatalog))
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(t.TempDir(), "subscriptions.json")
	if err := os.WriteFile(path, []byte(testSubscribers), 0o600); err != nil {
		t.Fatal(err)
	}
	subs, err := subscriber.OpenFile(path)
	if err != nil {
		t.Fatal(err)
	}

	f := &fixture{
		classifier: &fakeClassifier{result: classify.Result{Relevant: true, Category: "трансфер", Confidence: 0.9}},
		router:     &fakeRouter{},
		reviewer:   &fakeReviewer{},
	}
	f.proc = New(Deps{
		Catalog:     category.NewStatic(snap),
		Classifier:  f.classifier,
		Subscribers: subs,
		Router:      f.router,
		Reviewer:    f.reviewer,
	}, opts)
	return f
}

func groupEvent(title, text string) storage.Event {
	return storage.Event{
		ID:         77,
		ChatID:     -1001500,
		IsGroup:    true,
		ChatTitle:  title,
		SenderID:   9,
		SenderName: "Олег",
		Text:       text,
		Date:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

const request = "Подскажите, нужен трансфер до отеля, нас четверо"

func TestProcessOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		opts   Options
		ev     storage.Event
		result *classify.Result
		want   Outcome
	}{
		{
			name: "sent",
			ev:   groupEvent("Алания чат", request),
			want: Sent,
		},
		{
			name: "private chat",
			ev: func() storage.Event {
				ev := groupEvent("Алания чат", request)
				ev.IsGroup = false
				return ev
			}(),
			want: Ignored,
		},
		{
			name: "chat not allowed",
			opts: Options{AllowedChats: map[int64]bool{-100999: true}},
			ev:   groupEvent("Алания чат", request),
			want: Ignored,
		},
		{
			name: "own notification",
			ev:   groupEvent("Алания чат", "📩 Алания | Олег\n\n- "+request),
			want: DropSelf,
		},
		{
			name: "forwarded from the bot",
			opts: Options{SelfID: 4242},
			ev: func() storage.Event {
				ev := groupEvent("Алания чат", request)
				ev.IsForwarded = true
				ev.FwdFromID = 4242
				return ev
			}(),
			want: DropSelf,
		},
		{
			name: "bot sender",
			opts: Options{IgnoreBotSenders: true},
			ev: func() storage.Event {
				ev := groupEvent("Алания чат", request)
				ev.SenderIsBot = true
				return ev
			}(),
			want: DropBot,
		},
		{
			name: "negative context",
			ev:   groupEvent("Алания чат", "Осторожно, мошенники с трансфером"),
			want: DropNegCtx,
		},
		{
			name: "advertisement",
			ev:   groupEvent("Алания чат", "Продаю квартиру 2+1, цена 100000 €, пишите @agent"),
			want: DropAd,
		},
		{
			name: "no region",
			ev:   groupEvent("Общий чат", request),
			want: DropNoRegion,
		},
		{
			name: "no keyword for regional subscribers",
			ev:   groupEvent("Алания чат", "Подскажите хорошего мастера маникюра"),
			want: DropRegionKW,
		},
		{
			name:   "not relevant",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: false, Category: "трансфер", Confidence: 0.9},
			want:   DropAI,
		},
		{
			name:   "invalid subcategory",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: true, Category: "трансфер", Subcategory: "яхты", Confidence: 0.9},
			want:   DropAI,
		},
		{
			name:   "low confidence",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: true, Category: "трансфер", Confidence: 0.5},
			want:   Discard,
		},
		{
			name:   "borderline",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: true, Category: "трансфер", Confidence: 0.75},
			want:   Review,
		},
		{
			name:   "category keyword missing",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: true, Category: "экскурсии", Confidence: 0.85},
			want:   DropAI,
		},
		{
			name:   "confident result bypasses keyword check",
			ev:     groupEvent("Алания чат", request),
			result: &classify.Result{Relevant: true, Category: "экскурсии", Confidence: 0.95},
			want:   Sent,
		},
		{
			name: "no subscribers in region",
			ev:   groupEvent("Кемер чат", request),
			want: DropNoSubs,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.opts)
			if tt.result != nil {
				f.classifier.result = *tt.result
			}
			got, err := f.proc.Process(context.Background(), tt.ev)
			if err != nil {
				t.Fatalf("Process: %v", err)
			}
			if got != tt.want {
				t.Errorf("outcome = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestProcessSentLead(t *testing.T) {
	f := newFixture(t, Options{})
	if _, err := f.proc.Process(context.Background(), groupEvent("Алания чат", request+" #трансфер")); err != nil {
		t.Fatal(err)
	}
	if len(f.router.leads) != 1 {
		t.Fatalf("routed %d leads", len(f.router.leads))
	}
	l := f.router.leads[0]
	if l.Region != "Алания" || l.Category != "трансфер" || l.Link != "https://t.me/c/1500/77" {
		t.Errorf("lead = %+v", l)
	}
	if len(f.router.subs[0]) != 1 || f.router.subs[0][0].UserID != 1 {
		t.Errorf("subscribers = %+v", f.router.subs[0])
	}

	req := f.classifier.requests[0]
	if req.Hint != "трансфер" || len(req.Categories) != 1 || req.Categories[0] != "трансфер" {
		t.Errorf("request = %+v", req)
	}
	if n := f.proc.Metrics().Get("region_detected"); n != 1 {
		t.Errorf("region_detected = %d", n)
	}
}

func TestProcessDropsDuplicates(t *testing.T) {
	f := newFixture(t, Options{})
	ctx := context.Background()
	if got, _ := f.proc.Process(ctx, groupEvent("Алания чат", request)); got != Sent {
		t.Fatalf("first = %s", got)
	}
	if got, _ := f.proc.Process(ctx, groupEvent("Алания чат", "  "+request+"  ")); got != DropDup {
		t.Fatalf("second = %s, want %s", got, DropDup)
	}
	if n := f.proc.Metrics().Get("dedup_text"); n != 1 {
		t.Errorf("dedup_text = %d", n)
	}
}

func TestProcessBorderlineGoesToReview(t *testing.T) {
	f := newFixture(t, Options{})
	f.classifier.result = classify.Result{Relevant: true, Category: "трансфер", Confidence: 0.75, Explanation: "нужен трансфер"}
	if _, err := f.proc.Process(context.Background(), groupEvent("Алания чат", request)); err != nil {
		t.Fatal(err)
	}
	if len(f.reviewer.leads) != 1 || len(f.router.leads) != 0 {
		t.Fatalf("reviewed %d, routed %d", len(f.reviewer.leads), len(f.router.leads))
	}
	if f.reviewer.leads[0].Explanation != "нужен трансфер" {
		t.Errorf("lead = %+v", f.reviewer.leads[0])
	}
}

func TestProcessTimeout(t *testing.T) {
	f := newFixture(t, Options{})
	f.classifier.result = classify.Result{Explanation: "Ошибка классификации"}
	f.classifier.attempts = []classify.Attempt{{Provider: "primary", Err: context.DeadlineExceeded}}
	got, err := f.proc.Process(context.Background(), groupEvent("Алания чат", request))
	if err != nil || got != Timeout {
		t.Fatalf("Process = %s, %v; want %s", got, err, Timeout)
	}
}
