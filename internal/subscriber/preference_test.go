package subscriber

import (
	"encoding/json"
	"testing"
	"time"
)

func TestAccess(t *testing.T) {
	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		p    Preference
		want Access
	}{
		{"none", Preference{}, AccessNone},
		{"trial running", Preference{TrialStart: NewTimestamp(now.Add(-47 * time.Hour))}, AccessTrial},
		{"trial expired", Preference{TrialStart: NewTimestamp(now.Add(-49 * time.Hour))}, AccessTrialExpired},
		{"paid", Preference{SubscriptionEnd: NewTimestamp(now.Add(time.Hour))}, AccessPaid},
		{"paid expired", Preference{SubscriptionEnd: NewTimestamp(now.Add(-time.Hour))}, AccessPaidExpired},
		{
			"paid wins over stale trial",
			Preference{TrialStart: NewTimestamp(now.Add(-30 * 24 * time.Hour)), SubscriptionEnd: NewTimestamp(now.Add(time.Hour))},
			AccessPaid,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.p.Access(now); got != tt.want {
				t.Errorf("Access = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestPreferenceMatching(t *testing.T) {
	p := Preference{
		Categories: []string{"трансфер", "бьюти"},
		Subcats:    map[string][]string{"бьюти": {"маникюр"}},
		Locations:  []string{"Алания"},
	}
	if !p.HasCategory("трансфер") || p.HasCategory("экскурсии") {
		t.Error("HasCategory mismatch")
	}
	if !p.AllowsSubcategory("трансфер", "аэропорт") {
		t.Error("no subcategory list means any subcategory")
	}
	if !p.AllowsSubcategory("бьюти", "маникюр") || p.AllowsSubcategory("бьюти", "массаж") {
		t.Error("AllowsSubcategory mismatch")
	}
	if !p.InRegions([]string{"Анталия", "Алания"}) || p.InRegions([]string{"Кемер"}) {
		t.Error("InRegions mismatch")
	}
}

func TestCloneIsDeep(t *testing.T) {
	p := Preference{
		Categories: []string{"трансфер"},
		Subcats:    map[string][]string{"бьюти": {"маникюр"}},
		TrialStart: NewTimestamp(time.Now()),
	}
	c := p.Clone()
	c.Categories[0] = "x"
	c.Subcats["бьюти"][0] = "y"
	c.TrialStart.Time = time.Time{}

	if p.Categories[0] != "трансфер" || p.Subcats["бьюти"][0] != "маникюр" || p.TrialStart.IsZero() {
		t.Errorf("clone shares memory with original: %+v", p)
	}
}

func TestTimestampFormats(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{`"2025-06-01T10:00:00+00:00"`, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{`"2025-06-01T13:00:00+03:00"`, time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)},
		{`"2025-06-01T10:00:00.123456"`, time.Date(2025, 6, 1, 10, 0, 0, 123456000, time.UTC)},
	}
	for _, tt := range tests {
		var ts Timestamp
		if err := json.Unmarshal([]byte(tt.in), &ts); err != nil {
			t.Errorf("Unmarshal(%s): %v", tt.in, err)
			continue
		}
		if !ts.Equal(tt.want) {
			t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, ts.Time, tt.want)
		}
	}

	var ts Timestamp
	if err := json.Unmarshal([]byte(`"yesterday"`), &ts); err == nil {
		t.Error("garbage timestamp should fail")
	}
}
