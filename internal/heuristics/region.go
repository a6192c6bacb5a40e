package heuristics

import (
	"regexp"
	"sync"
)

type alias struct {
	name  string
	canon string
	re    *regexp.Regexp
}

func newAlias(name, canon string) alias {
	return alias{name: name, canon: canon, re: regexp.MustCompile(aliasPattern(name))}
}

// aliasPattern tolerates Russian case endings on Cyrillic aliases. Latin
// aliases must match exactly.
func aliasPattern(name string) string {
	quoted := regexp.QuoteMeta(lower(name))
	for _, r := range name {
		if r >= 'a' && r <= 'z' {
			return quoted
		}
	}
	return quoted + `[а-яё]*`
}

func buildAliases(pairs [][2]string) []alias {
	out := make([]alias, len(pairs))
	for i, p := range pairs {
		out[i] = newAlias(p[0], p[1])
	}
	return out
}

// locationAliases map chat and message spellings to canonical region names.
// Order matters: the first match wins.
var locationAliases = buildAliases([][2]string{
	{"анталия", "Анталия"}, {"анталья", "Анталия"}, {"анталии", "Анталия"}, {"анталию", "Анталия"},
	{"алания", "Алания"}, {"аланья", "Алания"},
	{"авсаллар", "Авсаллар"},
	{"кемер", "Кемер"}, {"кемера", "Кемер"}, {"кемере", "Кемер"},
	{"стамбул", "Стамбул"}, {"стамбула", "Стамбул"}, {"стамбуле", "Стамбул"},
	{"белдиби", "Бельдиби"}, {"бельдиби", "Бельдиби"},
	{"белека", "Белек"}, {"белеке", "Белек"},
	{"гейнюк", "Гёйнюк"}, {"гёйнюк", "Гёйнюк"},
	{"манавгат", "Манавгат"},
	{"чамьюва", "Чамьюва"},
	{"турция", "Турция"}, {"турции", "Турция"}, {"турцию", "Турция"},
	{"мерсин", "Мерсин"}, {"мерсина", "Мерсин"}, {"мерсине", "Мерсин"},
	{"сиде", "Сиде"},
	{"фетхие", "Фетхие"},
	{"antalya", "Анталия"}, {"alanya", "Алания"}, {"mersin", "Мерсин"}, {"side", "Сиде"},
	{"fethiye", "Фетхие"}, {"kemer", "Кемер"}, {"istanbul", "Стамбул"},
})

// cityKeywords are the looser city names used for chat titles and usernames.
var cityKeywords = buildAliases([][2]string{
	{"antalya", "Анталия"}, {"анталия", "Анталия"},
	{"alanya", "Алания"}, {"алания", "Алания"},
	{"kemer", "Кемер"}, {"кемер", "Кемер"},
	{"belek", "Белек"}, {"белек", "Белек"},
	{"side", "Сиде"}, {"сиде", "Сиде"},
	{"istanbul", "Стамбул"}, {"истамбул", "Стамбул"}, {"стамбул", "Стамбул"},
	{"kundu", "Кунду"}, {"кунду", "Кунду"},
	{"fethiye", "Фетхие"}, {"фетхие", "Фетхие"},
	{"mersin", "Мерсин"}, {"мерсин", "Мерсин"},
	{"beldibi", "Бельдиби"}, {"бельдиби", "Бельдиби"},
	{"goynuk", "Гёйнюк"}, {"гейнюк", "Гёйнюк"}, {"göynük", "Гёйнюк"},
})

// mergedAliases is locationAliases followed by city keywords not already present.
var mergedAliases = func() []alias {
	seen := make(map[string]bool, len(locationAliases))
	out := append([]alias(nil), locationAliases...)
	for _, a := range locationAliases {
		seen[a.name] = true
	}
	for _, a := range cityKeywords {
		if !seen[a.name] {
			out = append(out, a)
		}
	}
	return out
}()

var airportCodes = buildAliases([][2]string{
	{"ayt", "Анталия"},
	{"ist", "Стамбул"},
	{"saw", "Стамбул"},
})

// CanonicalRegions lists every canonical region name in first-seen order.
func CanonicalRegions() []string {
	seen := make(map[string]bool)
	var out []string
	for _, a := range mergedAliases {
		if !seen[a.canon] {
			seen[a.canon] = true
			out = append(out, a.canon)
		}
	}
	return out
}

func (a alias) in(text string) bool {
	return matchBounded(a.re, text, isAliasLetter)
}

func firstAlias(aliases []alias, text string) (string, bool) {
	if text == "" {
		return "", false
	}
	for _, a := range aliases {
		if a.in(text) {
			return a.canon, true
		}
	}
	return "", false
}

func airportIn(text string) (string, bool) {
	for _, a := range airportCodes {
		if matchBounded(a.re, text, isWordRune) {
			return a.canon, true
		}
	}
	return "", false
}

// InferRegion resolves a canonical region from the chat title, then the
// message text, then city keywords in the title or username. It returns ""
// when nothing matches.
func InferRegion(title, username, text string) string {
	title, username, text = lower(title), lower(username), lower(text)
	if r, ok := firstAlias(locationAliases, title); ok {
		return r
	}
	if r, ok := firstAlias(locationAliases, text); ok {
		return r
	}
	for _, a := range cityKeywords {
		if a.in(title) || a.in(username) {
			return a.canon
		}
	}
	return ""
}

// StrictTitleRegion matches location aliases as whole words of the chat title.
func StrictTitleRegion(title string) string {
	for _, a := range locationAliases {
		if ContainsWord(title, a.name) {
			return a.canon
		}
	}
	return ""
}

// AllLocations returns every canonical region mentioned in text, including
// airport codes, in alias order.
func AllLocations(text string) []string {
	text = lower(text)
	seen := make(map[string]bool)
	var out []string
	add := func(canon string) {
		if !seen[canon] {
			seen[canon] = true
			out = append(out, canon)
		}
	}
	for _, a := range mergedAliases {
		if a.in(text) {
			add(a.canon)
		}
	}
	for _, a := range airportCodes {
		if matchBounded(a.re, text, isWordRune) {
			add(a.canon)
		}
	}
	return out
}

// RegionCache remembers the region resolved for each chat. It is safe for
// concurrent use.
type RegionCache struct {
	mu      sync.Mutex
	regions map[int64]string
}

func NewRegionCache() *RegionCache {
	return &RegionCache{regions: make(map[int64]string)}
}

// Resolve returns the chat's region. A cache miss is inferred and stored;
// a whole-word alias in the title overrides a stale cached value.
func (c *RegionCache) Resolve(chatID int64, title, username, text string) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	region := c.regions[chatID]
	if region == "" {
		region = InferRegion(title, username, text)
		if region != "" {
			c.regions[chatID] = region
		}
	}
	if strict := StrictTitleRegion(title); strict != "" && strict != region {
		region = strict
		c.regions[chatID] = region
	}
	return region
}

// Len returns the number of cached chats.
func (c *RegionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.regions)
}
