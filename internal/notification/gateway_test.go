package notification_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/notification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/testutil"
)

func TestOutboxGateway_SendQueuesMessage(t *testing.T) {
	ctx := context.Background()
	g := notification.NewOutboxGateway(repo.NewOutboxRepo(testutil.NewDB(t)), testutil.Logger())

	require.NoError(t, g.Send(ctx, "alice@example.com", "hello", "first"))
	require.NoError(t, g.Send(ctx, "bob@example.com", "hello", "second"))

	pending, err := g.Pending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "alice@example.com", pending[0].Recipient)
	assert.Equal(t, "first", pending[0].Body)
	assert.Nil(t, pending[0].SentAt)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)

	one, err := g.Pending(ctx, 1)
	require.NoError(t, err)
	assert.Len(t, one, 1)
}
