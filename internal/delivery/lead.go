// Package delivery sends accepted leads to matching subscribers, queues
// borderline ones for admin review and reports problems to the operator.
package delivery

import (
	"strings"
	"time"
)

// Lead is a classified message ready for routing.
type Lead struct {
	ChatID         int64     `json:"chat_id"`
	MessageID      int64     `json:"message_id"`
	ChatTitle      string    `json:"chat_title,omitempty"`
	ChatUsername   string    `json:"chat_username,omitempty"`
	SenderID       int64     `json:"sender_id,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	Text           string    `json:"text"`
	Link           string    `json:"link,omitempty"`
	Region         string    `json:"region,omitempty"`
	Regions        []string  `json:"regions,omitempty"`
	Pickup         string    `json:"pickup,omitempty"`
	Destination    string    `json:"destination,omitempty"`
	Category       string    `json:"category"`
	Subcategory    string    `json:"subcategory,omitempty"`
	Confidence     float64   `json:"confidence"`
	Explanation    string    `json:"explanation,omitempty"`
	Approved       bool      `json:"approved,omitempty"`
	Received       time.Time `json:"received"`
}

// HasRoute reports a transfer route with at least one endpoint.
func (l Lead) HasRoute() bool { return l.Pickup != "" || l.Destination != "" }

// TargetRegions are the regions a subscriber must cover: the route
// endpoints when there is a route, otherwise the detected regions.
func (l Lead) TargetRegions() []string {
	if l.HasRoute() {
		var out []string
		for _, r := range []string{l.Pickup, l.Destination} {
			if r != "" {
				out = append(out, r)
			}
		}
		return out
	}
	if len(l.Regions) > 0 {
		return l.Regions
	}
	if l.Region != "" {
		return []string{l.Region}
	}
	return nil
}

// RegionTag renders the region part of the hashtag footer.
func (l Lead) RegionTag() string {
	tag := func(s string) string { return "#" + strings.ToLower(s) }
	switch {
	case l.Pickup != "" && l.Destination != "":
		return tag(l.Pickup) + " → " + tag(l.Destination)
	case l.Pickup != "":
		return tag(l.Pickup)
	case l.Destination != "":
		return tag(l.Destination)
	case len(l.Regions) > 0:
		tags := make([]string, len(l.Regions))
		for i, r := range l.Regions {
			tags[i] = tag(r)
		}
		return strings.Join(tags, " ")
	case l.Region != "":
		return tag(l.Region)
	}
	return ""
}

// CategoryTag renders the category and subcategory hashtags.
func (l Lead) CategoryTag() string {
	if l.Category == "" {
		return ""
	}
	t := "#" + strings.ToLower(l.Category)
	if l.Subcategory != "" {
		t += " #" + strings.ToLower(l.Subcategory)
	}
	return t
}

// Tags joins the region and category tags.
func (l Lead) Tags() string {
	return strings.TrimSpace(l.RegionTag() + " " + l.CategoryTag())
}
