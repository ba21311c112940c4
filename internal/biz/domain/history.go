package domain

import "time"

// PendingHistoryEntry is one group message withheld by mention gating,
// buffered per chat until the bot is addressed.
type PendingHistoryEntry struct {
	Sender    string
	Body      string
	MessageID string
	At        time.Time
}
