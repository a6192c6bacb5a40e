// Package pipeline turns one queued chat message into a delivery decision.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/dedup"
	"github.com/kalambet/leadbot/internal/delivery"
	"github.com/kalambet/leadbot/internal/heuristics"
	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
)

const (
	transferCategory = "трансфер"
	// softBypass lets a confident result through without a top keyword.
	softBypass = 0.92
	// longText is the rune count above which a message needs some trigger.
	longText    = 100
	logMsgRunes = 180
)

// Classifier is the classification orchestrator.
type Classifier interface {
	Classify(ctx context.Context, req classify.Request) (classify.Result, []classify.Attempt)
	Thresholds() classify.Thresholds
}

// Router delivers accepted leads.
type Router interface {
	Route(ctx context.Context, l delivery.Lead, subs []subscriber.Preference) (sent, failed []int64)
}

// Reviewer takes borderline leads for manual review.
type Reviewer interface {
	Submit(ctx context.Context, l delivery.Lead) (string, error)
}

// Deps are the collaborators of a Processor. Reviewer may be nil.
type Deps struct {
	Dedup       *dedup.Filter
	Regions     *heuristics.RegionCache
	Catalog     *category.Catalog
	Classifier  Classifier
	Subscribers subscriber.Store
	Router      Router
	Reviewer    Reviewer
}

type Options struct {
	// SelfID and SelfUsername identify the bot so its own posts are skipped.
	SelfID       int64
	SelfUsername string
	// AllowedChats, when non-empty, limits processing to these chats.
	AllowedChats     map[int64]bool
	IgnoreBotSenders bool
	Metrics          *metrics.Counters
	Logger           *slog.Logger
}

// Processor runs the filter chain for one event at a time. It is safe for
// concurrent use by the worker pool.
type Processor struct {
	deps    Deps
	opts    Options
	metrics *metrics.Counters
	logger  *slog.Logger
}

func New(deps Deps, opts Options) *Processor {
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if deps.Dedup == nil {
		deps.Dedup = dedup.New(dedup.DefaultWindow, dedup.DefaultMaxSize)
	}
	if deps.Regions == nil {
		deps.Regions = heuristics.NewRegionCache()
	}
	return &Processor{deps: deps, opts: opts, metrics: opts.Metrics, logger: opts.Logger}
}

// Metrics returns the counters the processor writes to.
func (p *Processor) Metrics() *metrics.Counters { return p.metrics }

// run carries the state of one Process call.
type run struct {
	ev     storage.Event
	text   string
	lower  string
	group  string
	region string
	logger *slog.Logger
}

func (r *run) log(code Outcome, attrs ...any) {
	base := []any{"code", string(code), "chat", r.ev.ChatID, "group", r.group}
	if r.region != "" {
		base = append(base, "region", r.region)
	}
	base = append(base, attrs...)
	base = append(base, "msg", truncate(r.text, logMsgRunes))
	r.logger.Info("lead decision", base...)
}

func (r *run) debug(code Outcome, attrs ...any) {
	r.logger.Debug("lead decision", append([]any{"code", string(code), "chat", r.ev.ChatID}, attrs...)...)
}

// Process decides what happens to ev. A non-nil error means the event could
// not be evaluated and should be marked failed; every drop is a nil error.
func (p *Processor) Process(ctx context.Context, ev storage.Event) (Outcome, error) {
	p.metrics.Inc("processed")
	r := &run{ev: ev, logger: p.logger.With("trace", uuid.NewString())}

	if !ev.IsGroup && !ev.IsChannel {
		return Ignored, nil
	}
	if len(p.opts.AllowedChats) > 0 && !p.opts.AllowedChats[ev.ChatID] {
		return Ignored, nil
	}
	if p.opts.SelfID != 0 && ev.SenderID == p.opts.SelfID {
		return Ignored, nil
	}
	if ev.IsForwarded && p.forwardedFromSelf(ev) {
		p.metrics.Inc("forward_loop_blocked")
		return DropSelf, nil
	}

	r.text = heuristics.StripHashtags(ev.Text)
	r.lower = strings.ToLower(r.text)
	if r.text == "" {
		return Ignored, nil
	}
	if strings.HasPrefix(r.text, "📩") || strings.HasPrefix(r.text, "⚠️ Ошибка") {
		p.metrics.Inc("forward_loop_blocked")
		r.debug(DropSelf)
		return DropSelf, nil
	}
	if heuristics.ContainsNegative(r.lower) {
		p.metrics.Inc("negative_ctx_filtered")
		r.debug(DropNegCtx)
		return DropNegCtx, nil
	}
	if p.deps.Dedup.ShouldDrop(r.text) {
		p.metrics.Inc("dedup_text")
		r.log(DropDup)
		return DropDup, nil
	}
	if heuristics.IsAdvertisement(ev.Text) {
		p.metrics.Inc("pre_ad_filtered")
		r.log(DropAd)
		return DropAd, nil
	}

	snap := p.deps.Catalog.Snapshot()
	stems := heuristics.StemSet(r.lower)
	hasTopKeyword := heuristics.Intersects(stems, snap.TopStems())

	r.group = groupName(ev)
	if p.opts.SelfUsername != "" && strings.EqualFold(ev.SenderUsername, p.opts.SelfUsername) {
		p.metrics.Inc("forward_loop_blocked")
		r.debug(DropSelf, "sender", ev.SenderUsername)
		return DropSelf, nil
	}
	if p.opts.IgnoreBotSenders && ev.SenderIsBot {
		r.debug(DropBot, "sender", ev.SenderUsername)
		return DropBot, nil
	}

	r.region = p.deps.Regions.Resolve(ev.ChatID, ev.ChatTitle, ev.ChatUsername, r.lower)
	if r.region == "" {
		p.metrics.Inc("no_region")
		r.debug(DropNoRegion, "group", r.group)
		return DropNoRegion, nil
	}
	p.metrics.Inc("region_detected")

	hint := snap.Hint(stems)
	if hint != "" {
		p.metrics.Inc("category_heuristic_detected")
	} else {
		p.metrics.Inc("category_not_detected")
	}

	candidates := candidateRegions(r.region, r.lower)
	regional, err := subscriber.InRegions(ctx, p.deps.Subscribers, candidates)
	if err != nil {
		return "", fmt.Errorf("loading subscribers for %v: %w", candidates, err)
	}
	if len(regional) > 0 {
		if !heuristics.Intersects(stems, regionalStems(snap, regional)) {
			p.metrics.Inc("no_regional_keyword_match")
			r.debug(DropRegionKW, "regions", strings.Join(candidates, ","))
			return DropRegionKW, nil
		}
		if kw, ok := heuristics.FirstShared(stems, userStems(snap, regional)); ok {
			r.logger.Debug("keyword match", "chat", ev.ChatID, "kw", kw)
		} else {
			p.metrics.Inc("no_category_match")
			r.debug(DropNoKeyword)
			return DropNoKeyword, nil
		}
	}

	if out, ok := p.preFilter(r, hasTopKeyword); !ok {
		return out, nil
	}

	allSubs, err := p.deps.Subscribers.List(ctx)
	if err != nil {
		return "", fmt.Errorf("listing subscribers: %w", err)
	}
	res, attempts := p.deps.Classifier.Classify(ctx, classify.Request{
		Text:       r.text,
		Categories: classifyCategories(snap, allSubs, hint),
		Regions:    heuristics.CanonicalRegions(),
		Hint:       hint,
	})
	if !res.Relevant && classify.TimedOut(attempts) {
		p.metrics.Inc("ai_timeout")
		r.log(Timeout, "attempts", len(attempts))
		return Timeout, nil
	}
	res.Region = r.region

	if res.Category != "" && res.Subcategory != "" {
		if c, ok := snap.Get(res.Category); ok && len(c.Subcategories) > 0 && !snap.HasSub(res.Category, res.Subcategory) {
			res.Relevant = false
			res.Explanation = "Невалидная подкатегория для категории"
		}
	}
	if !res.Relevant {
		p.metrics.Inc("ai_dropped")
		r.log(DropAI, "cat", res.Category, "conf", res.Confidence, "exp", res.Explanation)
		return DropAI, nil
	}

	th := p.deps.Classifier.Thresholds()
	lead := p.lead(r, res)
	switch {
	case res.Confidence < th.Discard:
		p.metrics.Inc("discarded_low_confidence")
		r.log(Discard, "cat", res.Category, "conf", res.Confidence, "exp", res.Explanation)
		return Discard, nil
	case res.Confidence < th.Deliver:
		if !snap.Has(res.Category) {
			p.metrics.Inc("ai_no_category")
			return DropAI, nil
		}
		if top := snap.CategoryTopStems(res.Category); len(top) > 0 && !heuristics.Intersects(top, stems) {
			p.metrics.Inc("ai_cat_no_kw_match")
			return DropAI, nil
		}
		p.metrics.Inc("low_confidence")
		r.log(Review, "cat", res.Category, "conf", res.Confidence, "exp", res.Explanation)
		if p.deps.Reviewer != nil {
			if _, err := p.deps.Reviewer.Submit(ctx, lead); err != nil {
				r.logger.Error("submitting lead for review", "error", err)
			}
		}
		return Review, nil
	}

	if !snap.Has(res.Category) {
		p.metrics.Inc("ai_no_category")
		r.log(DropAI, "cat", res.Category, "conf", res.Confidence, "exp", "unknown category")
		return DropAI, nil
	}
	if top := snap.CategoryTopStems(res.Category); len(top) > 0 && !heuristics.Intersects(top, stems) {
		if res.Confidence < softBypass {
			p.metrics.Inc("ai_cat_no_kw_match")
			r.log(DropAI, "cat", res.Category, "conf", res.Confidence, "exp", "no category keyword")
			return DropAI, nil
		}
		p.metrics.Inc("ai_kw_soft_bypass")
	}

	targets := lead.TargetRegions()
	subs, err := subscriber.InRegions(ctx, p.deps.Subscribers, targets)
	if err != nil {
		return "", fmt.Errorf("loading subscribers for %v: %w", targets, err)
	}
	if len(subs) == 0 {
		p.metrics.Inc("no_subscribers_for_region")
		r.log(DropNoSubs, "targets", strings.Join(targets, ","))
		return DropNoSubs, nil
	}

	sent, failed := p.deps.Router.Route(ctx, lead, subs)
	r.log(Sent, "cat", res.Category, "conf", res.Confidence, "exp", res.Explanation,
		"sent", len(sent), "failed", len(failed))
	return Sent, nil
}

// preFilter applies the cheap gates that keep obvious non-requests away
// from the classifier.
func (p *Processor) preFilter(r *run, hasTopKeyword bool) (Outcome, bool) {
	buyer := heuristics.HasBuyerRequest(r.lower)
	contact := heuristics.ContainsContact(r.lower)

	switch {
	case heuristics.ExcursionPromo(r.lower) && contact && !buyer,
		heuristics.TransferPromo(r.lower) && contact && !buyer:
		p.metrics.Inc("pre_offer_filtered")
		r.log(DropOffer)
		return DropOffer, false
	case !hasTopKeyword && !buyer:
		p.metrics.Inc("no_global_keyword_match")
		r.debug(DropNoTrigger, "reason", "no keyword")
		return DropNoTrigger, false
	case heuristics.HasOffer(r.lower) && !buyer:
		p.metrics.Inc("pre_offer_filtered")
		r.log(DropOffer)
		return DropOffer, false
	case heuristics.HasReview(r.lower) && !buyer:
		p.metrics.Inc("pre_review_filtered")
		r.log(DropReview)
		return DropReview, false
	case !buyer && utf8.RuneCountInString(r.text) > longText && !heuristics.HasPotentialTrigger(r.lower):
		p.metrics.Inc("pre_no_trigger_filtered")
		r.log(DropNoTrigger)
		return DropNoTrigger, false
	}
	return "", true
}

func (p *Processor) forwardedFromSelf(ev storage.Event) bool {
	if p.opts.SelfID != 0 && ev.FwdFromID == p.opts.SelfID {
		return true
	}
	return p.opts.SelfUsername != "" && ev.FwdFromName != "" &&
		strings.Contains(strings.ToLower(ev.FwdFromName), strings.ToLower(p.opts.SelfUsername))
}

func (p *Processor) lead(r *run, res classify.Result) delivery.Lead {
	ev := r.ev
	l := delivery.Lead{
		ChatID:         ev.ChatID,
		MessageID:      ev.ID,
		ChatTitle:      r.group,
		ChatUsername:   ev.ChatUsername,
		SenderID:       ev.SenderID,
		SenderName:     ev.SenderName,
		SenderUsername: ev.SenderUsername,
		Text:           ev.Text,
		Link:           delivery.MessageLink(ev.ChatID, ev.ChatUsername, ev.ID),
		Region:         r.region,
		Regions:        []string{r.region},
		Category:       res.Category,
		Subcategory:    res.Subcategory,
		Confidence:     res.Confidence,
		Explanation:    res.Explanation,
		Received:       ev.Date,
	}
	if l.SenderName == "" {
		l.SenderName = r.group
	}
	if res.Category == transferCategory {
		l.Pickup, l.Destination = heuristics.ExtractTransferRoute(r.lower, r.region)
	}
	return l
}

func groupName(ev storage.Event) string {
	switch {
	case ev.ChatTitle != "":
		return ev.ChatTitle
	case ev.ChatUsername != "":
		return ev.ChatUsername
	}
	return fmt.Sprintf("chat_%d", ev.ChatID)
}

// candidateRegions is the chat region followed by every region named in text.
func candidateRegions(region, lowerText string) []string {
	out := []string{region}
	for _, loc := range heuristics.AllLocations(lowerText) {
		if loc != region {
			out = append(out, loc)
		}
	}
	return out
}

// regionalStems are the top-level keyword stems of every category chosen by subs.
func regionalStems(snap *category.Snapshot, subs []subscriber.Preference) map[string]struct{} {
	var keywords []string
	for _, s := range subs {
		for _, c := range s.Categories {
			if cat, ok := snap.Get(c); ok {
				keywords = append(keywords, cat.Keywords...)
			}
		}
	}
	return heuristics.KeywordStems(keywords)
}

// userStems adds subcategory keywords to the regional stems.
func userStems(snap *category.Snapshot, subs []subscriber.Preference) map[string]struct{} {
	var keywords []string
	for _, s := range subs {
		for _, c := range s.Categories {
			keywords = append(keywords, snap.Keywords(c)...)
		}
		for c, names := range s.Subcats {
			for _, sc := range names {
				keywords = append(keywords, snap.SubKeywords(c, sc)...)
			}
		}
	}
	return heuristics.KeywordStems(keywords)
}

// classifyCategories offers the categories subscribers chose, or the whole
// catalog when nobody has chosen any, plus the keyword hint.
func classifyCategories(snap *category.Snapshot, subs []subscriber.Preference, hint string) []string {
	seen := make(map[string]bool)
	var cats []string
	for _, s := range subs {
		for _, c := range s.Categories {
			if !seen[c] {
				seen[c] = true
				cats = append(cats, c)
			}
		}
	}
	if len(cats) == 0 {
		cats = snap.Names()
		for _, c := range cats {
			seen[c] = true
		}
	}
	if hint != "" && !seen[hint] {
		cats = append(cats, hint)
	}
	return cats
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
