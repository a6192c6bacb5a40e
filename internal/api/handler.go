package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/heuristics"
	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/supervisor"
)

const maxRequestBodySize = 1 << 20 // 1MB

type QueueStatter interface {
	Stats(ctx context.Context) (storage.QueueStats, error)
}

type ReviewLister interface {
	ListReviews(ctx context.Context, status string, limit int) ([]storage.Review, error)
}

// ReviewDecider approves or rejects a held lead on behalf of the operator.
type ReviewDecider interface {
	Approve(ctx context.Context, id string) ([]int64, error)
	Reject(ctx context.Context, id string) error
}

type Classifier interface {
	Classify(ctx context.Context, req classify.Request) (classify.Result, []classify.Attempt)
}

type ConnectionStatuser interface {
	Status() map[string]supervisor.Status
}

// Deps holds everything the operator API reads from. Nil fields disable the
// routes that need them with a 503.
type Deps struct {
	Queue       QueueStatter
	Reviews     ReviewLister
	Desk        ReviewDecider
	Classifier  Classifier
	Connections ConnectionStatuser
	Catalog     *category.Catalog
	Metrics     *metrics.Counters
	Token       string
	Logger      *slog.Logger
}

// NewHandler builds the operator router. /health is public; every other
// route requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/metrics", handleMetrics(deps))
		r.Get("/queue/stats", handleQueueStats(deps))
		r.Get("/connections", handleConnections(deps))
		r.Get("/reviews", handleListReviews(deps))
		r.Post("/reviews/{id}/approve", handleApproveReview(deps))
		r.Post("/reviews/{id}/reject", handleRejectReview(deps))
		r.Post("/classify", handleClassify(deps))
		r.Handle("/mcp", NewMCPHandler(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleMetrics(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, deps.Metrics.Snapshot())
	}
}

func handleQueueStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Queue == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "queue not configured")
			return
		}
		st, err := deps.Queue.Stats(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to read queue stats: %v", err)
			return
		}
		writeJSON(w, st)
	}
}

func handleConnections(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out := map[string]supervisor.Status{}
		if deps.Connections != nil {
			out = deps.Connections.Status()
		}
		writeJSON(w, out)
	}
}

// reviewView is the operator-facing shape of a stored review. The lead is
// inlined as JSON rather than a quoted string.
type reviewView struct {
	ID        string          `json:"id"`
	Status    string          `json:"status"`
	MessageID int64           `json:"message_id,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	DecidedAt *time.Time      `json:"decided_at,omitempty"`
	Lead      json.RawMessage `json:"lead"`
}

func toReviewViews(reviews []storage.Review) []reviewView {
	out := make([]reviewView, 0, len(reviews))
	for _, rv := range reviews {
		v := reviewView{
			ID:        rv.ID,
			Status:    rv.Status,
			MessageID: rv.MessageID,
			CreatedAt: rv.CreatedAt,
			Lead:      json.RawMessage(rv.LeadJSON),
		}
		if !json.Valid(v.Lead) {
			v.Lead = json.RawMessage("null")
		}
		if !rv.DecidedAt.IsZero() {
			d := rv.DecidedAt
			v.DecidedAt = &d
		}
		out = append(out, v)
	}
	return out
}

func validReviewStatus(s string) bool {
	switch s {
	case "", storage.ReviewPending, storage.ReviewApproved, storage.ReviewRejected:
		return true
	}
	return false
}

func handleListReviews(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Reviews == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "reviews not configured")
			return
		}
		status := r.URL.Query().Get("status")
		if !validReviewStatus(status) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "unknown status %q", status)
			return
		}
		limit := parseIntParam(r, "limit", 20, 200)

		reviews, err := deps.Reviews.ListReviews(r.Context(), status, limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list reviews: %v", err)
			return
		}
		writeJSON(w, toReviewViews(reviews))
	}
}

func handleApproveReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Desk == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "review desk not configured")
			return
		}
		id := chi.URLParam(r, "id")
		sent, err := deps.Desk.Approve(r.Context(), id)
		if reviewDecisionError(w, err) {
			return
		}
		if sent == nil {
			sent = []int64{}
		}
		deps.Logger.Info("review approved via api", "review", id, "users", len(sent))
		writeJSON(w, map[string]any{"status": storage.ReviewApproved, "delivered_to": sent})
	}
}

func handleRejectReview(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Desk == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "review desk not configured")
			return
		}
		id := chi.URLParam(r, "id")
		if reviewDecisionError(w, deps.Desk.Reject(r.Context(), id)) {
			return
		}
		deps.Logger.Info("review rejected via api", "review", id)
		writeJSON(w, map[string]string{"status": storage.ReviewRejected})
	}
}

// reviewDecisionError writes the response for a failed decision and reports
// whether it did.
func reviewDecisionError(w http.ResponseWriter, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "review not found")
	case errors.Is(err, storage.ErrAlreadyDecided):
		httpError(w, http.StatusConflict, "conflict", "review already decided")
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "review decision failed: %v", err)
	}
	return true
}

type ClassifyRequest struct {
	Text       string   `json:"text"`
	Categories []string `json:"categories,omitempty"`
	Hint       string   `json:"hint,omitempty"`
}

type AttemptView struct {
	Provider  string `json:"provider"`
	ElapsedMS int64  `json:"elapsed_ms"`
	Skipped   bool   `json:"skipped,omitempty"`
	Error     string `json:"error,omitempty"`
}

type ClassifyResponse struct {
	Result        classify.Result `json:"result"`
	Attempts      []AttemptView   `json:"attempts"`
	TimedOut      bool            `json:"timed_out"`
	Advertisement bool            `json:"advertisement"`
	Negative      bool            `json:"negative"`
	Regions       []string        `json:"regions"`
	Hint          string          `json:"hint,omitempty"`
}

// dryRun classifies text exactly as the pipeline would for a message with no
// subscriber context, without enqueueing or delivering anything.
func dryRun(ctx context.Context, deps Deps, req ClassifyRequest) ClassifyResponse {
	text := heuristics.StripHashtags(req.Text)
	cats := req.Categories
	hint := req.Hint
	if deps.Catalog != nil {
		snap := deps.Catalog.Snapshot()
		if len(cats) == 0 {
			cats = snap.Names()
		}
		if hint == "" {
			hint = snap.Hint(heuristics.StemSet(text))
		}
	}

	res, attempts := deps.Classifier.Classify(ctx, classify.Request{
		Text:       text,
		Categories: cats,
		Regions:    heuristics.CanonicalRegions(),
		Hint:       hint,
	})

	views := make([]AttemptView, 0, len(attempts))
	for _, a := range attempts {
		v := AttemptView{Provider: a.Provider, ElapsedMS: a.Elapsed.Milliseconds(), Skipped: a.Skipped}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		views = append(views, v)
	}

	regions := heuristics.AllLocations(text)
	if regions == nil {
		regions = []string{}
	}
	return ClassifyResponse{
		Result:        res,
		Attempts:      views,
		TimedOut:      classify.TimedOut(attempts),
		Advertisement: heuristics.IsAdvertisement(text),
		Negative:      heuristics.ContainsNegative(text),
		Regions:       regions,
		Hint:          hint,
	}
}

func handleClassify(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Classifier == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "no classifier configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)

		var req ClassifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}

		writeJSON(w, dryRun(r.Context(), deps, req))
	}
}
