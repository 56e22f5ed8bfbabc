package store

import (
	"database/sql"

	"github.com/LifeNeedZoya/chat-backend/internal/cache"
)

// Service is the persistence façade for users, chat sessions, and chat
// logs. Every session and log operation is scoped by owning-user id; no
// operation reads or writes another user's data.
type Service struct {
	db    *sql.DB
	cache *cache.Client
}

// NewService builds the store. The cache client may be nil, in which case
// history reconstruction always hits the database.
func NewService(db *sql.DB, cacheClient *cache.Client) *Service {
	return &Service{db: db, cache: cacheClient}
}
