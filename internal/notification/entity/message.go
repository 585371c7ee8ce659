package entity

import "time"

// Message is a queued notification. SentAt stays nil until an external
// dispatcher delivers it.
type Message struct {
	ID        string     `db:"id"`
	Recipient string     `db:"recipient"`
	Subject   string     `db:"subject"`
	Body      string     `db:"body"`
	CreatedAt time.Time  `db:"created_at"`
	SentAt    *time.Time `db:"sent_at"`
}
