package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LifeNeedZoya/chat-backend/internal/models"
)

// CreateSession inserts a new session for the user. An empty title gets
// the timestamped placeholder.
func (s *Service) CreateSession(ctx context.Context, userID int64, title string) (*models.ChatSession, error) {
	if userID <= 0 {
		return nil, errors.New("user_id is required")
	}
	now := time.Now().UTC()
	if title == "" {
		title = fmt.Sprintf("New Chat at %s", now.Format("2006-01-02 15:04:05"))
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO chat_sessions (user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?)`,
		userID, title, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("session id: %w", err)
	}
	return &models.ChatSession{ID: id, UserID: userID, Title: title, CreatedAt: now, UpdatedAt: now}, nil
}

// GetSession fetches a session scoped to its owner; sql.ErrNoRows when it
// does not exist or belongs to another user.
func (s *Service) GetSession(ctx context.Context, userID, sessionID int64) (*models.ChatSession, error) {
	var session models.ChatSession
	err := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE id = ? AND user_id = ?`,
		sessionID, userID,
	).Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &session, nil
}

// ListSessions returns all sessions for a user ordered by last activity.
func (s *Service) ListSessions(ctx context.Context, userID int64) ([]models.ChatSession, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, title, created_at, updated_at FROM chat_sessions WHERE user_id = ? ORDER BY updated_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := make([]models.ChatSession, 0)
	for rows.Next() {
		var session models.ChatSession
		if err := rows.Scan(&session.ID, &session.UserID, &session.Title, &session.CreatedAt, &session.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession refreshes the session's updated_at timestamp.
func (s *Service) TouchSession(ctx context.Context, sessionID int64, at time.Time) error {
	if _, err := s.db.ExecContext(ctx,
		`UPDATE chat_sessions SET updated_at = ? WHERE id = ?`, at.UTC(), sessionID,
	); err != nil {
		return fmt.Errorf("touch session: %w", err)
	}
	return nil
}

// DeleteSession removes a session and all its logs. The session
// exclusively owns its logs, so the cascade is enforced here explicitly:
// logs first, then the session row.
func (s *Service) DeleteSession(ctx context.Context, userID, sessionID int64) error {
	if sessionID <= 0 {
		return errors.New("invalid session id")
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var exists bool
	if err = tx.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM chat_sessions WHERE id = ? AND user_id = ?)`,
		sessionID, userID,
	).Scan(&exists); err != nil {
		return fmt.Errorf("verify session: %w", err)
	}
	if !exists {
		err = sql.ErrNoRows
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_logs WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete logs: %w", err)
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM chat_sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit delete session: %w", err)
	}
	s.invalidateHistory(ctx, userID, sessionID)
	return nil
}
