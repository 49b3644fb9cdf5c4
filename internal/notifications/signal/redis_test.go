//go:build integration

package signal_test

import (
	"context"
	"testing"
	"time"

	"github.com/amodvardhan/notification-engine/internal/notifications/signal"
	"github.com/amodvardhan/notification-engine/internal/testutil"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedis_WakesOtherProcess(t *testing.T) {
	ctx := context.Background()

	container, err := testutil.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	producerClient := redis.NewClient(&redis.Options{Addr: container.Addr})
	consumerClient := redis.NewClient(&redis.Options{Addr: container.Addr})
	t.Cleanup(func() {
		_ = producerClient.Close()
		_ = consumerClient.Close()
	})

	producer := signal.NewRedis(producerClient, "test_queue")
	consumer := signal.NewRedis(consumerClient, "test_queue")

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumer.Run(runCtx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})

	require.NoError(t, producer.Notify(ctx, "n-1"))

	select {
	case <-consumer.Wakeups():
	case <-time.After(10 * time.Second):
		t.Fatal("consumer was not woken")
	}

	assert.Eventually(t, func() bool {
		n, err := producerClient.LLen(ctx, "test_queue").Result()
		return err == nil && n == 0
	}, 5*time.Second, 50*time.Millisecond, "hint is consumed from the list")
}

func TestRedis_ListIsBounded(t *testing.T) {
	ctx := context.Background()

	container, err := testutil.NewRedisContainer(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	client := redis.NewClient(&redis.Options{Addr: container.Addr})
	t.Cleanup(func() { _ = client.Close() })

	sig := signal.NewRedis(client, "")
	for i := 0; i < 20; i++ {
		require.NoError(t, sig.Notify(ctx, "n"))
	}

	n, err := client.LLen(ctx, signal.DefaultQueueKey).Result()
	require.NoError(t, err)
	assert.Equal(t, int64(20), n)
}
