package heuristics

import "regexp"

var (
	pickupPrefix = `(?:из|с|от)\s+`
	destPrefix   = `(?:в|до|к)\s+`

	toAirportRE   = regexp.MustCompile(`в\s+аэропорт[а-яё]*`)
	fromAirportRE = regexp.MustCompile(`из\s+аэропорт[а-яё]*`)
)

type routeAlias struct {
	canon  string
	pickup *regexp.Regexp
	dest   *regexp.Regexp
}

var routeAliases = func() []routeAlias {
	out := make([]routeAlias, len(mergedAliases))
	for i, a := range mergedAliases {
		p := aliasPattern(a.name)
		out[i] = routeAlias{
			canon:  a.canon,
			pickup: regexp.MustCompile(pickupPrefix + p),
			dest:   regexp.MustCompile(destPrefix + p),
		}
	}
	return out
}()

// ExtractTransferRoute returns the pickup and destination regions of a
// transfer request. Either may be empty. The chat region stands in for an
// unnamed airport and for a missing pickup.
func ExtractTransferRoute(text, chatRegion string) (pickup, destination string) {
	t := lower(text)

	for _, a := range routeAliases {
		if matchBounded(a.pickup, t, isWordRune) {
			pickup = a.canon
			break
		}
	}
	for _, a := range routeAliases {
		if matchBounded(a.dest, t, isWordRune) {
			destination = a.canon
			break
		}
	}

	if destination == "" && matchBounded(toAirportRE, t, isWordRune) {
		if code, ok := airportIn(t); ok {
			destination = code
		} else {
			destination = chatRegion
		}
	}
	if pickup == "" && matchBounded(fromAirportRE, t, isWordRune) {
		if code, ok := airportIn(t); ok {
			pickup = code
		} else {
			pickup = chatRegion
		}
	}

	if destination == "" {
		for _, loc := range AllLocations(t) {
			if loc != pickup {
				destination = loc
				break
			}
		}
	}

	if pickup == "" {
		pickup = chatRegion
	}
	return pickup, destination
}
