// Package notification queues outbound messages in a relational outbox.
// Delivery is done by a separate dispatcher.
package notification

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/entity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

//go:generate mockgen -destination=mocks/mock_gateway.go -package=mocks . Gateway

// Gateway sends a message to a recipient.
type Gateway interface {
	Send(ctx context.Context, to, subject, body string) error
}

type OutboxGateway struct {
	outbox *repo.OutboxRepo
	logger *zap.SugaredLogger
}

var _ Gateway = (*OutboxGateway)(nil)

func NewOutboxGateway(outbox *repo.OutboxRepo, logger *zap.SugaredLogger) *OutboxGateway {
	return &OutboxGateway{outbox: outbox, logger: logger}
}

func (g *OutboxGateway) Send(ctx context.Context, to, subject, body string) error {
	m := &entity.Message{
		ID:        utilities.NewKSUID(),
		Recipient: to,
		Subject:   subject,
		Body:      body,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.outbox.Insert(ctx, m); err != nil {
		return err
	}
	g.logger.Debugw("notification queued", "id", m.ID, "subject", subject)
	return nil
}

// Pending lists undelivered messages.
func (g *OutboxGateway) Pending(ctx context.Context, limit int) ([]entity.Message, error) {
	return g.outbox.Pending(ctx, limit)
}
