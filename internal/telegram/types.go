package telegram

// Update is one item from getUpdates. Only the fields the bot reads are decoded.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	ChannelPost   *Message       `json:"channel_post,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

// DisplayName is the first and last name joined, or the username.
func (u *User) DisplayName() string {
	if u == nil {
		return ""
	}
	name := u.FirstName
	if u.LastName != "" {
		if name != "" {
			name += " "
		}
		name += u.LastName
	}
	if name == "" {
		name = u.Username
	}
	return name
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type"` // "private", "group", "supergroup" or "channel"
	Title    string `json:"title,omitempty"`
	Username string `json:"username,omitempty"`
}

func (c Chat) IsGroup() bool   { return c.Type == "group" || c.Type == "supergroup" }
func (c Chat) IsChannel() bool { return c.Type == "channel" }
func (c Chat) IsPrivate() bool { return c.Type == "private" }

type Message struct {
	MessageID         int64  `json:"message_id"`
	From              *User  `json:"from,omitempty"`
	SenderChat        *Chat  `json:"sender_chat,omitempty"`
	Chat              Chat   `json:"chat"`
	Date              int64  `json:"date"`
	Text              string `json:"text,omitempty"`
	Caption           string `json:"caption,omitempty"`
	ForwardFrom       *User  `json:"forward_from,omitempty"`
	ForwardFromChat   *Chat  `json:"forward_from_chat,omitempty"`
	ForwardSenderName string `json:"forward_sender_name,omitempty"`
	ForwardDate       int64  `json:"forward_date,omitempty"`
}

// Body returns the text or, for media posts, the caption.
func (m *Message) Body() string {
	if m.Text != "" {
		return m.Text
	}
	return m.Caption
}

func (m *Message) IsForwarded() bool {
	return m.ForwardDate != 0 || m.ForwardFrom != nil || m.ForwardFromChat != nil || m.ForwardSenderName != ""
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	URL          string `json:"url,omitempty"`
	CallbackData string `json:"callback_data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// SendOptions describes one sendMessage call.
type SendOptions struct {
	ChatID                int64
	Text                  string
	ParseMode             string
	Keyboard              *InlineKeyboardMarkup
	DisableWebPagePreview bool
}
