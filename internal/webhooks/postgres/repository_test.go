//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/amodvardhan/notification-engine/internal/domain"
	pgutil "github.com/amodvardhan/notification-engine/internal/pkg/postgres"
	"github.com/amodvardhan/notification-engine/internal/testutil"
	"github.com/amodvardhan/notification-engine/internal/webhooks"
	"github.com/amodvardhan/notification-engine/internal/webhooks/postgres"
	"github.com/amodvardhan/notification-engine/migrations"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testDB *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testutil.NewPostgresContainer(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(context.Background()) }()

		if err := pgutil.MigrateUp(migrations.FS, container.ConnectionString); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}

		testDB, err = pgutil.Connect(ctx, pgutil.Config{
			URL:             container.ConnectionString,
			MaxOpenConns:    5,
			MaxIdleConns:    1,
			ConnMaxLifetime: time.Minute,
			ConnectAttempts: 3,
		})
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
			return 1
		}
		defer testDB.Close()

		return m.Run()
	}()

	os.Exit(code)
}

func newSub(eventType domain.EventType, secret string, active bool, created time.Time) *domain.WebhookSubscription {
	created = created.UTC().Truncate(time.Microsecond)
	return &domain.WebhookSubscription{
		ID:        uuid.NewString(),
		URL:       "https://hooks.example.com/" + string(eventType),
		EventType: eventType,
		Secret:    secret,
		HasSecret: secret != "",
		Active:    active,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestRepository_Subscriptions(t *testing.T) {
	ctx := context.Background()
	_, err := testDB.Exec(ctx, `TRUNCATE webhook_subscriptions`)
	require.NoError(t, err)
	repo := postgres.NewRepository(testDB)

	now := time.Now()
	sent := newSub(domain.EventNotificationSent, "k", true, now.Add(-2*time.Minute))
	wildcard := newSub(domain.EventTypeAny, "", true, now.Add(-time.Minute))
	inactive := newSub(domain.EventNotificationSent, "", false, now)
	dead := newSub(domain.EventNotificationDead, "", true, now)
	for _, s := range []*domain.WebhookSubscription{sent, wildcard, inactive, dead} {
		require.NoError(t, repo.CreateSubscription(ctx, s))
	}

	got, err := repo.GetSubscription(ctx, sent.ID)
	require.NoError(t, err)
	assert.Equal(t, "k", got.Secret)
	assert.True(t, got.HasSecret)
	assert.Equal(t, sent.URL, got.URL)

	got, err = repo.GetSubscription(ctx, wildcard.ID)
	require.NoError(t, err)
	assert.False(t, got.HasSecret)

	all, err := repo.ListSubscriptions(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	matching, err := repo.ListActiveForEvent(ctx, domain.EventNotificationSent)
	require.NoError(t, err)
	require.Len(t, matching, 2)
	assert.Equal(t, wildcard.ID, matching[0].ID, "newest first")
	assert.Equal(t, sent.ID, matching[1].ID)

	require.NoError(t, repo.DeleteSubscription(ctx, sent.ID))
	assert.ErrorIs(t, repo.DeleteSubscription(ctx, sent.ID), webhooks.ErrSubscriptionNotFound)
	assert.ErrorIs(t, repo.DeleteSubscription(ctx, "nope"), webhooks.ErrSubscriptionNotFound)

	_, err = repo.GetSubscription(ctx, sent.ID)
	assert.ErrorIs(t, err, webhooks.ErrSubscriptionNotFound)
}
