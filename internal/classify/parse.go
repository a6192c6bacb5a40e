package classify

import (
	"encoding/json"
	"errors"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	maxExplanation   = 70
	explanationCut   = 67
	explanationTrail = "..."
)

var (
	objectRE        = regexp.MustCompile(`\{[\s\S]*\}`)
	trailingCommaRE = regexp.MustCompile(`,\s*([}\]])`)
)

var categoryAliases = map[string]string{
	"страховка":   "страховки",
	"страхование": "страховки",
}

// ParseJSON decodes a model reply. It first tries the whole reply, then the
// first brace-delimited block with single quotes and trailing commas repaired.
func ParseJSON(raw string) (map[string]any, error) {
	var out map[string]any
	firstErr := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out)
	if firstErr == nil && out != nil {
		return out, nil
	}

	block := objectRE.FindString(raw)
	if block == "" {
		if firstErr == nil {
			firstErr = errors.New("reply is not an object")
		}
		return nil, &ParseError{Raw: raw, Err: firstErr}
	}
	block = strings.ReplaceAll(block, "'", `"`)
	block = trailingCommaRE.ReplaceAllString(block, "$1")

	out = nil
	if err := json.Unmarshal([]byte(block), &out); err != nil {
		return nil, &ParseError{Raw: raw, Err: err}
	}
	if out == nil {
		return nil, &ParseError{Raw: raw, Err: errors.New("reply is not an object")}
	}
	return out, nil
}

// Decode turns a parsed reply into a sanitized Result.
func Decode(m map[string]any, th Thresholds) Result {
	r := Result{
		Relevant:    asBool(m["relevant"]),
		Category:    asString(m["category"]),
		Subcategory: asString(m["subcategory"]),
		Region:      asString(m["region"]),
		Explanation: asString(m["explanation"]),
		Confidence:  asFloat(m["confidence"]),
	}
	return Sanitize(r, th)
}

// Sanitize clamps confidence, trims the explanation, canonicalizes the
// category and recomputes the acceptance flags.
func Sanitize(r Result, th Thresholds) Result {
	if math.IsNaN(r.Confidence) || r.Confidence < 0 {
		r.Confidence = 0
	}
	if r.Confidence > 1 {
		r.Confidence = 1
	}

	r.Explanation = strings.TrimSpace(r.Explanation)
	if ex := []rune(r.Explanation); len(ex) > maxExplanation {
		r.Explanation = string(ex[:explanationCut]) + explanationTrail
	}

	r.Category = strings.ToLower(strings.TrimSpace(r.Category))
	if canon, ok := categoryAliases[r.Category]; ok {
		r.Category = canon
	}
	r.Subcategory = strings.TrimSpace(r.Subcategory)
	r.Region = strings.TrimSpace(r.Region)

	r.Accepted = r.Relevant && r.Confidence >= th.Deliver
	r.Borderline = r.Relevant && r.Confidence < th.Deliver
	return r
}

// Calibrate snaps confidence onto the bands the delivery gates expect.
func Calibrate(conf float64) float64 {
	switch {
	case conf >= 0.9:
		return 0.92
	case conf >= 0.8:
		return 0.85
	case conf >= 0.6:
		return 0.70
	case conf >= 0.5:
		return 0.55
	}
	return conf
}

func asBool(v any) bool {
	switch t := v.(type) {
	case bool:
		return t
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(t))
		return b
	case float64:
		return t != 0
	}
	return false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

// asFloat coerces numbers and numeric strings; anything else is zero.
func asFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0
		}
		return f
	}
	return 0
}
