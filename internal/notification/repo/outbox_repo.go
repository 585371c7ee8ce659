package repo

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/apperr"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/entity"
)

const (
	sqlInsertMessage = `INSERT INTO notification_outbox (id, recipient, subject, body, created_at)
	VALUES (?, ?, ?, ?, ?)`

	sqlSelectPending = `SELECT id, recipient, subject, body, created_at, sent_at
	FROM notification_outbox WHERE sent_at IS NULL ORDER BY created_at, id LIMIT ?`
)

type OutboxRepo struct {
	db *sqlx.DB
}

func NewOutboxRepo(db *sqlx.DB) *OutboxRepo {
	return &OutboxRepo{db: db}
}

func (r *OutboxRepo) Insert(ctx context.Context, m *entity.Message) error {
	if _, err := r.db.ExecContext(ctx, r.db.Rebind(sqlInsertMessage), m.ID, m.Recipient, m.Subject, m.Body, m.CreatedAt); err != nil {
		return apperr.Storage("insert outbox message", err)
	}
	return nil
}

// Pending returns up to limit undelivered messages, oldest first.
func (r *OutboxRepo) Pending(ctx context.Context, limit int) ([]entity.Message, error) {
	var out []entity.Message
	if err := r.db.SelectContext(ctx, &out, r.db.Rebind(sqlSelectPending), limit); err != nil {
		return nil, apperr.Storage("select pending outbox messages", err)
	}
	return out, nil
}
