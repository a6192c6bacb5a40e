package delivery

import (
	"html"
	"regexp"
	"strconv"
	"strings"

	"github.com/kalambet/leadbot/internal/heuristics"
	"github.com/kalambet/leadbot/internal/telegram"
)

const tmePrefix = "https://t.me/"

var (
	privateMessageLinkRE = regexp.MustCompile(`/c/\d+/\d+$`)
	safeLinkRE           = regexp.MustCompile(`^(https://t\.me/(c/\d+/\d+|[A-Za-z0-9_]+)/?\d*|tg://.+)$`)
)

// MessageLink returns the t.me link to a message. Public chats use the
// username; private supergroups use the /c/ form without the -100 prefix.
func MessageLink(chatID int64, chatUsername string, messageID int64) string {
	if chatUsername != "" {
		return "https://t.me/" + chatUsername + "/" + strconv.FormatInt(messageID, 10)
	}
	id := strconv.FormatInt(chatID, 10)
	if len(id) > 4 && id[:4] == "-100" {
		id = id[4:]
	} else if id[0] == '-' {
		id = id[1:]
	}
	return "https://t.me/c/" + id + "/" + strconv.FormatInt(messageID, 10)
}

// ChatURL is where the group name in a lead links to, or "" for no link.
func ChatURL(l Lead) string {
	if l.ChatUsername != "" {
		return "https://t.me/" + l.ChatUsername
	}
	if !strings.HasPrefix(l.Link, tmePrefix) {
		return ""
	}
	if privateMessageLinkRE.MatchString(l.Link) {
		return l.Link
	}
	if strings.Contains(l.Link, "/c/") {
		return ""
	}
	if i := strings.LastIndex(l.Link, "/"); i >= len(tmePrefix) {
		return l.Link[:i]
	}
	return l.Link
}

// UserURL opens the sender's profile.
func UserURL(l Lead) string {
	if l.SenderUsername != "" {
		return "https://t.me/" + l.SenderUsername
	}
	return "tg://user?id=" + strconv.FormatInt(l.SenderID, 10)
}

// FormatLead renders the HTML message subscribers receive.
func FormatLead(l Lead) string {
	group := html.EscapeString(l.ChatTitle)
	if u := ChatURL(l); u != "" {
		group = `<a href="` + html.EscapeString(u) + `">` + group + `</a>`
	}

	sender := html.EscapeString(l.SenderName)
	if l.SenderUsername != "" {
		sender = "@" + html.EscapeString(l.SenderUsername)
	}

	body := html.EscapeString(heuristics.StripHashtags(l.Text))
	return "📩 " + group + " | " + sender + "\n\n- " + body + "\n\n" + html.EscapeString(l.Tags())
}

// LeadKeyboard links to the message and the sender. It is nil when the lead
// has no message link.
func LeadKeyboard(l Lead) *telegram.InlineKeyboardMarkup {
	if l.Link == "" {
		return nil
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
		{Text: "Сообщение", URL: l.Link},
		{Text: "Пользователь", URL: UserURL(l)},
	}}}
}

// SafeLink reports whether link may be attached to a URL button.
func SafeLink(link string) bool { return safeLinkRE.MatchString(link) }
