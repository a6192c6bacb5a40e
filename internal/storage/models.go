package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrNotProcessing is returned when a queue item is finished by a worker
// that no longer holds its claim.
var ErrNotProcessing = errors.New("queue item not held by this claim")

// ErrAlreadyDecided is returned when a review has already been approved or rejected.
var ErrAlreadyDecided = errors.New("review already decided")

// Queue item statuses.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// Review statuses.
const (
	ReviewPending  = "pending"
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Event is one inbound chat message as captured by the listener. It is
// immutable once enqueued.
type Event struct {
	ID             int64     `json:"id"`
	ChatID         int64     `json:"chat_id"`
	IsGroup        bool      `json:"is_group"`
	IsChannel      bool      `json:"is_channel"`
	ChatTitle      string    `json:"chat_title,omitempty"`
	ChatUsername   string    `json:"chat_username,omitempty"`
	SenderID       int64     `json:"sender_id,omitempty"`
	SenderName     string    `json:"sender_name,omitempty"`
	SenderUsername string    `json:"sender_username,omitempty"`
	SenderIsBot    bool      `json:"sender_is_bot,omitempty"`
	Text           string    `json:"text"`
	Date           time.Time `json:"date"`
	IsForwarded    bool      `json:"is_forwarded,omitempty"`
	FwdFromName    string    `json:"fwd_from_name,omitempty"`
	FwdFromID      int64     `json:"fwd_from_id,omitempty"`
}

type QueueItem struct {
	ID          int64
	Event       Event
	Status      string // "pending", "processing", "completed", "failed"
	Priority    int
	CreatedAt   time.Time
	ProcessedAt time.Time
	Error       string
}

type QueueStats struct {
	Pending       int       `json:"pending"`
	Processing    int       `json:"processing"`
	Completed     int       `json:"completed"`
	Failed        int       `json:"failed"`
	OldestPending time.Time `json:"oldest_pending,omitempty"`
}

type Review struct {
	ID        string
	LeadJSON  string
	Status    string // "pending", "approved", "rejected"
	MessageID int64  // admin chat message carrying the review buttons
	CreatedAt time.Time
	DecidedAt time.Time
}
