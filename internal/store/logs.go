package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/LifeNeedZoya/chat-backend/internal/models"
)

// InsertLog persists one turn. Logs are immutable: they are only ever
// inserted, never updated. A zero SessionID is stored as NULL.
func (s *Service) InsertLog(ctx context.Context, log models.ChatLog) (*models.ChatLog, error) {
	if log.UserID <= 0 {
		return nil, errors.New("user_id is required")
	}
	if len(log.Messages) == 0 {
		return nil, errors.New("messages cannot be empty")
	}
	payload, err := json.Marshal(log.Messages)
	if err != nil {
		return nil, fmt.Errorf("encode messages: %w", err)
	}

	var sessionID sql.NullInt64
	if log.SessionID > 0 {
		sessionID = sql.NullInt64{Int64: log.SessionID, Valid: true}
	}
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_logs (user_id, session_id, messages, created_at) VALUES (?, ?, ?, ?)`,
		log.UserID, sessionID, string(payload), now,
	)
	if err != nil {
		return nil, fmt.Errorf("insert log: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("log id: %w", err)
	}
	log.ID = id
	log.CreatedAt = now
	if log.SessionID > 0 {
		s.invalidateHistory(ctx, log.UserID, log.SessionID)
	}
	return &log, nil
}

// ListLogs returns all logs for the session/user pair ordered by creation
// time ascending, the order that reconstructs the conversation.
func (s *Service) ListLogs(ctx context.Context, userID, sessionID int64) ([]models.ChatLog, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, session_id, messages, created_at FROM chat_logs
		 WHERE session_id = ? AND user_id = ? ORDER BY created_at ASC, id ASC`,
		sessionID, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list logs: %w", err)
	}
	defer rows.Close()

	var logs []models.ChatLog
	for rows.Next() {
		var (
			log     models.ChatLog
			sid     sql.NullInt64
			payload string
		)
		if err := rows.Scan(&log.ID, &log.UserID, &sid, &payload, &log.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan log: %w", err)
		}
		if sid.Valid {
			log.SessionID = sid.Int64
		}
		if err := json.Unmarshal([]byte(payload), &log.Messages); err != nil {
			return nil, fmt.Errorf("decode messages for log %d: %w", log.ID, err)
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}
