package store

import (
	"context"
	"fmt"
	"time"
)

const (
	NotificationSent   = "sent"
	NotificationFailed = "failed"
)

type NotificationRecord struct {
	ID      int64     `db:"id" json:"id"`
	Type    string    `db:"notification_type" json:"notification_type"`
	Message string    `db:"message" json:"message"`
	Status  string    `db:"status" json:"status"`
	Error   string    `db:"error_message" json:"error_message,omitempty"`
	SentAt  time.Time `db:"-" json:"sent_at"`
}

// RecordNotification appends one delivery attempt to the history.
func (s *Store) RecordNotification(ctx context.Context, n NotificationRecord) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`INSERT INTO notification_history
	(notification_type, message, status, error_message, sent_at) VALUES (?, ?, ?, ?, ?)`),
		n.Type, n.Message, n.Status, n.Error, s.timestamp())
	if err != nil {
		return fmt.Errorf("record notification %s: %w", n.Type, err)
	}
	return nil
}

// RecentNotifications returns the newest history entries first.
func (s *Store) RecentNotifications(ctx context.Context, limit int) ([]NotificationRecord, error) {
	var rows []struct {
		NotificationRecord
		SentAtRaw string `db:"sent_at"`
	}
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT id, notification_type, message, status, error_message, sent_at
FROM notification_history ORDER BY sent_at DESC, id DESC LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("recent notifications: %w", err)
	}
	out := make([]NotificationRecord, 0, len(rows))
	for _, r := range rows {
		n := r.NotificationRecord
		n.SentAt = parseTimestamp(r.SentAtRaw)
		out = append(out, n)
	}
	return out, nil
}
