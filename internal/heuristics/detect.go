package heuristics

import (
	"regexp"
	"strings"
)

var contactRE = regexp.MustCompile(`(?i)(@[\w_]+|t\.me/[\w_\-]+|https?://t\.me/[\w_\-]+|\+?[\d\-\s\(\)]{7,}|whatsapp)`)

// ContainsContact reports @handles, t.me links, phone-like digit runs or whatsapp.
func ContainsContact(text string) bool {
	return contactRE.MatchString(text)
}

var negativeStems = []string{
	"осторожн", "мошенник", "спам", "реклама", "мошенников", "предоплат",
	"обман", "кидали", "кидают", "не советую", "фейк", "дешево откровенно",
}

var negativePhrases = []string{
	"не рекомендую", "остерегайтесь", "берегитесь", "не стоит",
	"развод", "отстой", "плохой сервис", "никому не советую",
}

var negativeRE = func() *regexp.Regexp {
	quoted := make([]string, len(negativeStems))
	for i, s := range negativeStems {
		quoted[i] = regexp.QuoteMeta(s)
	}
	return regexp.MustCompile(`(?i)(` + strings.Join(quoted, "|") + `)`)
}()

// ContainsNegative reports warning or complaint context. A stem directly
// negated by a standalone "не " ("не спам") does not count.
func ContainsNegative(text string) bool {
	t := lower(text)
	for _, loc := range negativeRE.FindAllStringIndex(t, -1) {
		if !negatedAt(t, loc[0]) {
			return true
		}
	}
	return containsAny(t, negativePhrases)
}

// negatedAt reports whether s[:i] ends with the word "не" followed by one
// whitespace rune.
func negatedAt(s string, i int) bool {
	r, ok := runeBefore(s, i)
	if !ok || !isSpace(r) {
		return false
	}
	head := s[:i-len(string(r))]
	if !strings.HasSuffix(head, "не") {
		return false
	}
	before, ok := runeBefore(head, len(head)-len("не"))
	return !ok || !isWordRune(before)
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == ' '
}

var (
	priceRE  = regexp.MustCompile(`(?i)\d+(?:[.,]\d+)?\s?(?:€|eur|евро|usd|\$|доллар|₺|try)`)
	phoneRE  = regexp.MustCompile(`\+?\d[\d\-\s\(\)]{6,}\d`)
	layoutRE = regexp.MustCompile(`[1-5]\s*[+xх]\s*[0-5]`)
	areaRE   = regexp.MustCompile(`(?i)(кв\.?\s?м|м2|м\^2|м²|sqm|sq\s?m)`)
	budgetRE = regexp.MustCompile(`(бюджет|до)`)
)

// PriceHits counts price-with-currency mentions.
func PriceHits(text string) int {
	t := lower(text)
	n := 0
	for _, loc := range priceRE.FindAllStringIndex(t, -1) {
		if r, ok := runeBefore(t, loc[0]); !ok || !isWordRune(r) {
			n++
		}
	}
	return n
}

// HasBuyerTrigger reports explicit demand vocabulary.
func HasBuyerTrigger(text string) bool {
	return containsAny(lower(text), BuyerTriggers)
}

// HasBuyerRequest reports a buyer trigger or at least two question marks.
func HasBuyerRequest(text string) bool {
	t := lower(text)
	return containsAny(t, BuyerTriggers) || strings.Count(t, "?") >= 2
}

func HasOffer(text string) bool            { return containsAny(lower(text), OfferTerms) }
func HasReview(text string) bool           { return containsAny(lower(text), ReviewTerms) }
func HasSellerTerms(text string) bool      { return containsAny(lower(text), SellerTerms) }
func HasPotentialTrigger(text string) bool { return containsAny(lower(text), PotentialTriggers) }

// ExcursionPromo reports excursion or ticket vocabulary.
func ExcursionPromo(text string) bool { return containsAny(lower(text), ExcursionMarkers) }

// TransferPromo reports transfer vocabulary.
func TransferPromo(text string) bool { return containsAny(lower(text), TransferMarkers) }

// Signals is the set of listing features shared by the ad detector and the
// post-classification overrides.
type Signals struct {
	Contact    bool
	Price      bool
	PriceHits  int
	Seller     bool
	Layout     bool
	Area       bool
	RealtyHint bool
	Hashtags   int
	Buyer      bool
	Offer      bool
	Review     bool
	PromoEmoji int
	PromoCTA   int
}

// Sellerish reports any seller, price, layout, area or realty marker.
func (s Signals) Sellerish() bool {
	return s.Seller || s.Price || s.Layout || s.Area || s.RealtyHint
}

// ListingSellerish is Sellerish without counting bare phone numbers as prices.
func (s Signals) ListingSellerish() bool {
	return s.Seller || s.PriceHits > 0 || s.Layout || s.Area || s.RealtyHint
}

// MultiListing reports several prices, promo emoji or calls to action.
func (s Signals) MultiListing() bool {
	return s.PriceHits >= 2 || s.PromoEmoji >= 2 || s.PromoCTA >= 2
}

// Analyze extracts listing signals from text.
func Analyze(text string) Signals {
	t := lower(text)
	hits := PriceHits(t)
	return Signals{
		Contact:    ContainsContact(t),
		Price:      hits > 0 || phoneRE.MatchString(t),
		PriceHits:  hits,
		Seller:     containsAny(t, SellerTerms),
		Layout:     countBounded(layoutRE, t, isWordRune) > 0,
		Area:       countBounded(areaRE, t, isWordRune) > 0,
		RealtyHint: containsAny(t, RealtyHintTerms),
		Hashtags:   CountHashtags(t),
		Buyer:      containsAny(t, BuyerTriggers),
		Offer:      containsAny(t, OfferTerms),
		Review:     containsAny(t, ReviewTerms),
		PromoEmoji: countAll(t, promoEmoji),
		PromoCTA:   countAll(t, PromoCTATerms),
	}
}

// IsAdvertisement reports whether text reads as a seller listing, a service
// offer or a review rather than a request. A contact alone is not an ad.
func IsAdvertisement(text string) bool {
	t := lower(text)
	s := Analyze(t)

	budget := s.Price && matchBounded(budgetRE, t, isWordRune)
	if (s.Buyer || budget) && !s.Seller {
		return false
	}

	sellerish := s.Sellerish()
	manyHashtags := s.Hashtags > 3

	switch {
	case s.Contact && (sellerish || manyHashtags):
		return true
	case s.Price && (sellerish || s.Contact || manyHashtags):
		return true
	case s.Seller && (s.Contact || s.Price || manyHashtags || s.RealtyHint):
		return true
	case s.MultiListing() && !s.Buyer:
		return true
	case len([]rune(t)) > 220 && sellerish && !containsAny(t, longQuestionTriggers):
		return true
	case s.Offer && !s.Buyer:
		return true
	case s.Review && !s.Buyer:
		return true
	}
	return false
}
