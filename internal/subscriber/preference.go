// Package subscriber holds lead recipients and their delivery preferences.
package subscriber

import (
	"errors"
	"slices"
	"strings"
	"time"
)

var ErrNotFound = errors.New("subscriber not found")

// TrialPeriod is how long a trial lasts from trial_start.
const TrialPeriod = 48 * time.Hour

// Access summarizes whether a subscriber may receive leads right now.
type Access int

const (
	AccessNone Access = iota
	AccessTrial
	AccessTrialExpired
	AccessPaid
	AccessPaidExpired
)

func (a Access) String() string {
	switch a {
	case AccessTrial:
		return "trial"
	case AccessTrialExpired:
		return "trial_expired"
	case AccessPaid:
		return "paid"
	case AccessPaidExpired:
		return "paid_expired"
	}
	return "none"
}

// Active reports a running trial or paid subscription.
func (a Access) Active() bool { return a == AccessTrial || a == AccessPaid }

// Notice names a one-time expiry message.
type Notice string

const (
	NoticeTrialExpired Notice = "trial_expired"
	NoticePaidExpired  Notice = "paid_expired"
)

// Preference is one subscriber. Delivery only ever writes the notified flags.
type Preference struct {
	UserID               int64               `json:"-"`
	Categories           []string            `json:"categories"`
	Subcats              map[string][]string `json:"subcats,omitempty"`
	Locations            []string            `json:"locations"`
	TrialStart           *Timestamp          `json:"trial_start,omitempty"`
	SubscriptionEnd      *Timestamp          `json:"subscription_end,omitempty"`
	TrialExpiredNotified bool                `json:"trial_expired_notified,omitempty"`
	PaidExpiredNotified  bool                `json:"paid_expired_notified,omitempty"`
}

// Access evaluates the subscription window at now. A paid subscription,
// even an expired one, takes precedence over the trial.
func (p Preference) Access(now time.Time) Access {
	if p.SubscriptionEnd != nil {
		if now.After(p.SubscriptionEnd.Time) {
			return AccessPaidExpired
		}
		return AccessPaid
	}
	if p.TrialStart == nil {
		return AccessNone
	}
	if now.Sub(p.TrialStart.Time) > TrialPeriod {
		return AccessTrialExpired
	}
	return AccessTrial
}

// Notified reports whether the given expiry notice was already sent.
func (p Preference) Notified(n Notice) bool {
	switch n {
	case NoticeTrialExpired:
		return p.TrialExpiredNotified
	case NoticePaidExpired:
		return p.PaidExpiredNotified
	}
	return false
}

func (p *Preference) setNotified(n Notice) error {
	switch n {
	case NoticeTrialExpired:
		p.TrialExpiredNotified = true
	case NoticePaidExpired:
		p.PaidExpiredNotified = true
	default:
		return errors.New("unknown notice " + string(n))
	}
	return nil
}

func (p Preference) HasCategory(c string) bool { return slices.Contains(p.Categories, c) }

// AllowsSubcategory is true when the subscriber picked no subcategories for
// category, or picked sub among them.
func (p Preference) AllowsSubcategory(category, sub string) bool {
	subs := p.Subcats[category]
	return len(subs) == 0 || slices.Contains(subs, sub)
}

// InRegions reports whether any of regions is among the subscriber's locations.
func (p Preference) InRegions(regions []string) bool {
	for _, r := range regions {
		if slices.Contains(p.Locations, r) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (p Preference) Clone() Preference {
	c := p
	c.Categories = slices.Clone(p.Categories)
	c.Locations = slices.Clone(p.Locations)
	if p.Subcats != nil {
		c.Subcats = make(map[string][]string, len(p.Subcats))
		for k, v := range p.Subcats {
			c.Subcats[k] = slices.Clone(v)
		}
	}
	if p.TrialStart != nil {
		t := *p.TrialStart
		c.TrialStart = &t
	}
	if p.SubscriptionEnd != nil {
		t := *p.SubscriptionEnd
		c.SubscriptionEnd = &t
	}
	return c
}

// Timestamp accepts RFC 3339 as well as ISO times without a zone, which are
// taken as UTC.
type Timestamp struct {
	time.Time
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func NewTimestamp(t time.Time) *Timestamp { return &Timestamp{Time: t.UTC()} }

func (ts *Timestamp) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		ts.Time = time.Time{}
		return nil
	}
	var err error
	for _, layout := range timestampLayouts {
		var t time.Time
		if t, err = time.Parse(layout, s); err == nil {
			ts.Time = t.UTC()
			return nil
		}
	}
	return err
}

func (ts Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + ts.UTC().Format(time.RFC3339Nano) + `"`), nil
}
