package models

import "time"

// ChatSession is one conversation thread grouping an ordered sequence of
// turns. UpdatedAt is refreshed whenever a new turn is persisted.
type ChatSession struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Title     string    `json:"title"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
