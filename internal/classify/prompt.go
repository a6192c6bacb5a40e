package classify

import (
	"sort"
	"strings"
)

// DefaultCategories are offered to the model when no subscriber narrows the set.
var DefaultCategories = []string{
	"аренда авто", "аренда яхт", "бьюти", "недвижимость", "страховки", "трансфер", "экскурсии",
}

const systemPrompt = `You classify messages from Telegram community chats. Decide whether the
message is a lead, i.e. a person asking for a service. Reply with one JSON
object on a single line and nothing else:
{"relevant": true|false, "category": string|null, "subcategory": string|null,
 "region": string|null, "explanation": string, "confidence": number 0.0-1.0}

Rules:
1. A lead explicitly asks for, or clearly implies a need for, a service from
   the category list given by the user.
2. Anything that advertises or offers a service or product is not a lead:
   sales wording, emoji-heavy listings, calls to action ("пишите",
   "забронируй", "успей").
3. Reviews and stories about past experience without a new request are not leads.
4. Chat rules, greetings and posting instructions are not leads.
5. Asking about price, availability or for a recommendation is a lead.
6. "Трансфер" is about moving people only. Moving goods is not a lead.
7. Take the region from city names (Анталия, Алания, Кемер ...) or leave it null.
8. Use only the given category names. Never invent categories.
9. Keep the explanation under 70 characters and name the words that decided it.
10. Confidence: 0.9+ for an obvious request, 0.6-0.8 when ambiguous, under 0.5
    when it is almost certainly not a lead.

Return JSON only, no markdown.`

// categoryContext returns the unique categories sorted and comma-joined.
func categoryContext(categories []string) string {
	return strings.Join(uniqueSorted(categories), ", ")
}

func uniqueSorted(items []string) []string {
	seen := make(map[string]bool, len(items))
	out := make([]string, 0, len(items))
	for _, it := range items {
		if it == "" || seen[it] {
			continue
		}
		seen[it] = true
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}

// BuildPrompt assembles the system and user messages for text.
func BuildPrompt(text string, categories, regions []string) Prompt {
	var b strings.Builder
	b.WriteString("Категории для классификации: ")
	b.WriteString(categoryContext(categories))
	if len(regions) > 0 {
		b.WriteString("\nИзвестные регионы: ")
		b.WriteString(strings.Join(regions, ", "))
	}
	b.WriteString("\n\nСообщение: ")
	b.WriteString(text)
	return Prompt{System: systemPrompt, User: b.String()}
}
