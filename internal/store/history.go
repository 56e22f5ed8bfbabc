package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/LifeNeedZoya/chat-backend/internal/models"
)

const historyCacheTTL = 10 * time.Minute

// SessionHistory flattens all logs of a session into one ordered message
// list, oldest first. Returns sql.ErrNoRows when the session does not
// exist or belongs to another user; an empty slice for a session with no
// logs yet. Results are cached in redis when a cache client is wired;
// InsertLog and DeleteSession invalidate the entry.
func (s *Service) SessionHistory(ctx context.Context, userID, sessionID int64) ([]models.ChatMessage, error) {
	if _, err := s.GetSession(ctx, userID, sessionID); err != nil {
		return nil, err
	}

	key := historyKey(userID, sessionID)
	if s.cache != nil {
		if raw, err := s.cache.Get(ctx, key); err == nil {
			var cached []models.ChatMessage
			if err := json.Unmarshal([]byte(raw), &cached); err == nil {
				return cached, nil
			}
			// undecodable entry, drop it and fall through
			_ = s.cache.Del(ctx, key)
		}
	}

	logs, err := s.ListLogs(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	history := make([]models.ChatMessage, 0, len(logs)*2)
	for _, log := range logs {
		history = append(history, log.Messages...)
	}

	if s.cache != nil {
		if payload, err := json.Marshal(history); err == nil {
			_ = s.cache.Set(ctx, key, payload, historyCacheTTL)
		}
	}
	return history, nil
}

func (s *Service) invalidateHistory(ctx context.Context, userID, sessionID int64) {
	if s.cache == nil {
		return
	}
	_ = s.cache.Del(ctx, historyKey(userID, sessionID))
}

func historyKey(userID, sessionID int64) string {
	return fmt.Sprintf("chat:history:%d:%d", userID, sessionID)
}
