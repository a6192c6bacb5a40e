package delivery

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/telegram"
)

const adminID = 500

func openTestStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

type reviewFixture struct {
	desk   *ReviewDesk
	sender *fakeSender
	store  *storage.Store
}

func newReviewFixture(t *testing.T, subs ...subscriber.Preference) reviewFixture {
	t.Helper()
	sender := newFakeSender()
	members := newMemStore(subs...)
	router := newTestRouter(t, sender, members, RouterOptions{})
	store := openTestStore(t)
	return reviewFixture{
		desk:   NewReviewDesk(store, sender, router, members, adminID, nil),
		sender: sender,
		store:  store,
	}
}

func TestReviewIDStable(t *testing.T) {
	l := transferLead(0.75)
	l.Received = testNow
	a, b := ReviewID(l), ReviewID(l)
	if a != b || len(a) != 16 {
		t.Fatalf("ReviewID = %q, %q", a, b)
	}
	l.Text += "!"
	if ReviewID(l) == a {
		t.Error("different text produced the same id")
	}
}

func TestFormatReview(t *testing.T) {
	l := transferLead(0.75)
	l.Explanation = "просит трансфер"
	want := "⚠️ Проверь лид (75%): #сочи #трансфер\nНужен трансфер из аэропорта в центр\n\n💡 просит трансфер"
	if got := FormatReview(l); got != want {
		t.Errorf("FormatReview =\n%q\nwant\n%q", got, want)
	}
}

func TestSubmitSendsButtons(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()
	l := transferLead(0.75)
	l.Received = testNow

	id, err := f.desk.Submit(ctx, l)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(f.sender.sent) != 1 {
		t.Fatalf("sent %d messages", len(f.sender.sent))
	}
	msg := f.sender.sent[0]
	if msg.ChatID != adminID || !strings.HasPrefix(msg.Text, "⚠️ Проверь лид (75%)") {
		t.Errorf("prompt = %+v", msg)
	}
	row := msg.Keyboard.InlineKeyboard[0]
	if len(row) != 3 || row[0].CallbackData != "ap:"+id || row[1].CallbackData != "rj:"+id || row[2].URL != l.Link {
		t.Errorf("buttons = %+v", row)
	}

	rv, err := f.store.GetReview(ctx, id)
	if err != nil {
		t.Fatalf("GetReview: %v", err)
	}
	if rv.Status != storage.ReviewPending || rv.MessageID != 1 {
		t.Errorf("review = %+v", rv)
	}
}

func TestSubmitUnsafeLinkHasNoButton(t *testing.T) {
	f := newReviewFixture(t)
	l := transferLead(0.75)
	l.Link = "https://example.com/x"
	if _, err := f.desk.Submit(context.Background(), l); err != nil {
		t.Fatal(err)
	}
	if row := f.sender.sent[0].Keyboard.InlineKeyboard[0]; len(row) != 2 {
		t.Errorf("buttons = %+v", row)
	}
}

func TestApproveCallbackDelivers(t *testing.T) {
	f := newReviewFixture(t, trialSub(1, "Сочи"), trialSub(2, "Адлер"))
	ctx := context.Background()
	id, err := f.desk.Submit(ctx, transferLead(0.72))
	if err != nil {
		t.Fatal(err)
	}

	cq := telegram.CallbackQuery{ID: "cb1", From: telegram.User{ID: adminID}, Data: "ap:" + id}
	if err := f.desk.HandleCallback(ctx, cq); err != nil {
		t.Fatalf("HandleCallback: %v", err)
	}
	if got := f.sender.answers["cb1"]; got != "✅ Лид одобрен и отправлен пользователям!" {
		t.Errorf("answer = %q", got)
	}
	// Prompt to the admin, then the lead to subscriber 1 only.
	if to := f.sender.sentTo(); len(to) != 2 || to[1] != 1 {
		t.Errorf("sent to %v", to)
	}
	if len(f.sender.deleted) != 1 || f.sender.deleted[0] != 1 {
		t.Errorf("deleted = %v", f.sender.deleted)
	}
	rv, _ := f.store.GetReview(ctx, id)
	if rv.Status != storage.ReviewApproved {
		t.Errorf("status = %q", rv.Status)
	}

	// A second press must not deliver again.
	f.desk.HandleCallback(ctx, telegram.CallbackQuery{ID: "cb2", From: telegram.User{ID: adminID}, Data: "ap:" + id})
	if got := f.sender.answers["cb2"]; got != "Лид уже обработан" {
		t.Errorf("second answer = %q", got)
	}
	if n := len(f.sender.sent); n != 2 {
		t.Errorf("sent %d messages after repeat", n)
	}
}

func TestRejectCallback(t *testing.T) {
	f := newReviewFixture(t, trialSub(1, "Сочи"))
	ctx := context.Background()
	id, _ := f.desk.Submit(ctx, transferLead(0.72))

	f.desk.HandleCallback(ctx, telegram.CallbackQuery{ID: "cb", From: telegram.User{ID: adminID}, Data: "rj:" + id})
	rv, _ := f.store.GetReview(ctx, id)
	if rv.Status != storage.ReviewRejected {
		t.Errorf("status = %q", rv.Status)
	}
	if len(f.sender.sent) != 1 {
		t.Errorf("rejected lead was delivered")
	}
	if len(f.sender.cleared) != 1 || len(f.sender.deleted) != 0 {
		t.Errorf("cleared=%v deleted=%v, want buttons removed only", f.sender.cleared, f.sender.deleted)
	}
}

func TestCallbackUnknownAndForeign(t *testing.T) {
	f := newReviewFixture(t)
	ctx := context.Background()

	f.desk.HandleCallback(ctx, telegram.CallbackQuery{ID: "a", From: telegram.User{ID: adminID}, Data: "ap:deadbeefdeadbeef"})
	if got := f.sender.answers["a"]; got != "Ошибка: лид не найден!" {
		t.Errorf("answer = %q", got)
	}

	f.desk.HandleCallback(ctx, telegram.CallbackQuery{ID: "b", From: telegram.User{ID: 1}, Data: "ap:deadbeefdeadbeef"})
	if got := f.sender.answers["b"]; got != "Нет доступа" {
		t.Errorf("answer = %q", got)
	}
}

func TestApproveUnknown(t *testing.T) {
	f := newReviewFixture(t)
	if _, err := f.desk.Approve(context.Background(), "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIsReviewCallback(t *testing.T) {
	for data, want := range map[string]bool{"ap:1": true, "rj:1": true, "menu:subscribe": false} {
		if got := IsReviewCallback(data); got != want {
			t.Errorf("IsReviewCallback(%q) = %v", data, got)
		}
	}
}
