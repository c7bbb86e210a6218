package store

import (
	"context"
	"fmt"

	"rental-marketplace/internal/models"

	"github.com/jmoiron/sqlx"
)

const insertNotification = `
	INSERT INTO notifications (user_id, type, title, body, rental_request_id)
	VALUES ($1, $2, $3, $4, $5)
	RETURNING id, created_at`

// StoreEventNotifications marks eventID processed and stores its
// notifications in one transaction. It reports false and stores nothing when
// the event was already processed.
func (s *Store) StoreEventNotifications(ctx context.Context, eventID, eventType string, ns []*models.Notification) (bool, error) {
	stored := false
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx,
			"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
			eventID, eventType)
		if err != nil {
			return err
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		for _, n := range ns {
			err := tx.QueryRowxContext(ctx, insertNotification, n.UserID, n.Type, n.Title, n.Body, n.RentalRequestID).
				Scan(&n.ID, &n.CreatedAt)
			if err != nil {
				return fmt.Errorf("notification for user %d: %w", n.UserID, err)
			}
		}
		stored = true
		return nil
	})
	return stored, err
}

// ListNotifications lists a user's notifications, newest first
func (s *Store) ListNotifications(ctx context.Context, userID int64, unreadOnly bool, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	notifications := []models.Notification{}
	err := s.db.SelectContext(ctx, &notifications, `
		SELECT * FROM notifications
		WHERE user_id = $1 AND (NOT $2::boolean OR read_at IS NULL)
		ORDER BY created_at DESC, id DESC
		LIMIT $3`, userID, unreadOnly, limit)
	return notifications, err
}

// MarkNotificationRead marks one of the user's notifications read
func (s *Store) MarkNotificationRead(ctx context.Context, id, userID int64) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read_at = COALESCE(read_at, NOW()) WHERE id = $1 AND user_id = $2",
		id, userID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("notification %d: %w", id, ErrNotFound)
	}
	return nil
}

// MarkAllNotificationsRead marks every unread notification read
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID int64) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET read_at = NOW() WHERE user_id = $1 AND read_at IS NULL", userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// CountUnreadNotifications counts a user's unread notifications
func (s *Store) CountUnreadNotifications(ctx context.Context, userID int64) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE user_id = $1 AND read_at IS NULL", userID)
	return n, err
}
