package produce

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go.grapht.network/grapht/pkg/event"
	"go.grapht.network/grapht/pkg/queue"
)

func TestProducerEmitsDecodableEvents(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := &queue.Queue{Redis: client, Log: zaptest.NewLogger(t)}

	producer := &Producer{
		Queue: q,
		Log:   zaptest.NewLogger(t),
		Options: Options{
			Queue:     "transactions",
			BatchSize: 50,
			Total:     200,
			Seed:      42,
		},
	}
	ctx := context.Background()
	require.NoError(t, producer.Run(ctx))

	length, err := q.Length(ctx, "transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(200), length)

	payloads, err := q.PopBatch(ctx, "transactions", 200)
	require.NoError(t, err)
	require.Len(t, payloads, 200)
	kinds := make(map[event.Kind]int)
	for _, payload := range payloads {
		ev, err := event.Decode(payload)
		require.NoError(t, err, "payload %s", payload)
		kinds[ev.Kind()]++
	}
	// The mix always contains registrations; a 200-event run at this seed
	// reaches the friendship branches too.
	assert.Greater(t, kinds[event.KindRegister], 0)
	assert.Greater(t, kinds[event.KindAddFriend], 0)
}

func TestProducerStopsAtTotal(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	q := &queue.Queue{Redis: client, Log: zaptest.NewLogger(t)}

	producer := &Producer{
		Queue:   q,
		Log:     zaptest.NewLogger(t),
		Options: Options{Queue: "transactions", BatchSize: 64, Total: 10, Seed: 1},
	}
	require.NoError(t, producer.Run(context.Background()))
	length, err := q.Length(context.Background(), "transactions")
	require.NoError(t, err)
	assert.Equal(t, int64(10), length)
}
