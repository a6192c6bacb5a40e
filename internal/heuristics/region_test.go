package heuristics

import (
	"reflect"
	"testing"
)

func TestInferRegion(t *testing.T) {
	tests := []struct {
		name                  string
		title, username, text string
		want                  string
	}{
		{"title alias", "Анталия Чат | Объявления", "", "привет", "Анталия"},
		{"text with ending", "Русские в Турции", "", "переезжаю в Кемере", "Турция"},
		{"text only", "Общий чат", "", "переезжаю в Кемере", "Кемер"},
		{"username keyword", "", "alanya_chat", "привет", "Алания"},
		{"latin strict", "Sidebar", "", "", ""},
		{"nothing", "Общий", "", "без города", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := InferRegion(tt.title, tt.username, tt.text); got != tt.want {
				t.Errorf("InferRegion() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStrictTitleRegion(t *testing.T) {
	if got := StrictTitleRegion("Чат Анталии"); got != "Анталия" {
		t.Errorf("StrictTitleRegion = %q, want Анталия", got)
	}
	if got := StrictTitleRegion("Кемерово сегодня"); got != "" {
		t.Errorf("StrictTitleRegion = %q, want empty", got)
	}
}

func TestAllLocations(t *testing.T) {
	got := AllLocations("Трансфер из Кемера в AYT")
	want := []string{"Кемер", "Анталия"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("AllLocations = %v, want %v", got, want)
	}
}

func TestRegionCache(t *testing.T) {
	c := NewRegionCache()

	if got := c.Resolve(1, "Чат экспатов", "", "живу в Кемере"); got != "Кемер" {
		t.Fatalf("first Resolve = %q, want Кемер", got)
	}
	if got := c.Resolve(1, "Чат экспатов", "", "еду в Стамбул"); got != "Кемер" {
		t.Errorf("cached Resolve = %q, want Кемер", got)
	}

	c.Resolve(3, "Общий", "", "Анталия")
	if got := c.Resolve(3, "Стамбул общий", "", ""); got != "Стамбул" {
		t.Errorf("title override = %q, want Стамбул", got)
	}
	if got := c.Resolve(3, "", "", ""); got != "Стамбул" {
		t.Errorf("override not cached, got %q", got)
	}

	if got := c.Resolve(4, "Общий", "", "без города"); got != "" {
		t.Errorf("unresolved = %q, want empty", got)
	}
	if c.Len() != 2 {
		t.Errorf("Len = %d, want 2", c.Len())
	}
}

func TestExtractTransferRoute(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		chat       string
		wantPickup string
		wantDest   string
	}{
		{"explicit both", "Нужен трансфер из Кемера в Анталию", "Кемер", "Кемер", "Анталия"},
		{"to airport uses chat region", "Нужен трансфер в аэропорт", "Алания", "Алания", "Алания"},
		{"from airport code", "Трансфер из аэропорта AYT до Сиде", "", "Анталия", "Сиде"},
		{"destination only", "Кто везет до Белека?", "Анталия", "Анталия", "Белек"},
		{"nothing", "Нужен трансфер", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, d := ExtractTransferRoute(tt.text, tt.chat)
			if p != tt.wantPickup || d != tt.wantDest {
				t.Errorf("ExtractTransferRoute() = (%q, %q), want (%q, %q)", p, d, tt.wantPickup, tt.wantDest)
			}
		})
	}
}

func TestCanonicalRegionsUnique(t *testing.T) {
	seen := map[string]bool{}
	for _, r := range CanonicalRegions() {
		if seen[r] {
			t.Errorf("duplicate canonical region %q", r)
		}
		seen[r] = true
	}
	if !seen["Кунду"] || !seen["Анталия"] {
		t.Errorf("missing regions in %v", CanonicalRegions())
	}
}
