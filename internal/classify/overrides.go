package classify

import (
	"strings"

	"github.com/kalambet/leadbot/internal/heuristics"
)

const (
	catRealty    = "недвижимость"
	catBeauty    = "бьюти"
	insuranceKey = "страховка"
)

// ApplyOverrides corrects the model's verdict with deterministic rules. The
// rules run in a fixed order and several of them end evaluation. lowerText
// must already be lowercased.
func ApplyOverrides(r Result, lowerText, hint string) Result {
	buyer := heuristics.HasBuyerTrigger(lowerText)

	if rentalRequest(lowerText) {
		r.Relevant = true
		if r.Category == "" {
			r.Category = catRealty
		}
		r.Explanation = "Запрос аренды недвижимости"
		return r
	}

	if containsAny(lowerText, heuristics.MassageTerms) {
		r.Category = catBeauty
	}

	if strings.Contains(lowerText, insuranceKey) &&
		containsAny(lowerText, heuristics.SalesyTerms) &&
		!containsAny(lowerText, heuristics.QuestionIndicators) {
		r.Relevant = false
		r.Explanation = "Реклама страховки"
		return r
	}

	if r.Category == catRealty || hint == catRealty {
		sig := heuristics.Analyze(lowerText)
		if !sig.Buyer && (sig.ListingSellerish() || sig.MultiListing()) {
			r.Relevant = false
			r.Explanation = "Риэлторский листинг/продажа"
			return r
		}
	}

	if heuristics.HasOffer(lowerText) && !buyer {
		r.Relevant = false
		r.Explanation = "Предложение услуг, а не запрос"
		return r
	}

	if heuristics.HasReview(lowerText) && !buyer &&
		!containsAny(lowerText, heuristics.RecommendationRequests) {
		r.Relevant = false
		r.Explanation = "Отзыв или комментарий, а не запрос"
		return r
	}

	if hint != "" {
		if r.Category == "" || r.Confidence < 0.6 {
			r.Category = hint
		}
		if r.Category == hint && r.Confidence < 0.8 {
			r.Confidence = min(0.85, r.Confidence+0.1)
		}
	}
	return r
}

// rentalRequest reports explicit rental demand, including "квартир" next to
// a search verb.
func rentalRequest(t string) bool {
	if containsAny(t, heuristics.RentalSignals) {
		return true
	}
	if !strings.Contains(t, "квартир") {
		return false
	}
	for _, w := range []string{"ищу", "ищем", "ищет"} {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

func containsAny(t string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(t, term) {
			return true
		}
	}
	return false
}
