// Package produce generates a synthetic stream of social-graph events for
// load-testing the projection pipeline.
package produce

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/bytedance/sonic"
	"go.uber.org/zap"

	"go.grapht.network/grapht/pkg/event"
	"go.grapht.network/grapht/pkg/queue"
)

// Options configures the generator.
type Options struct {
	Queue     string
	BatchSize int           // payloads per push
	Interval  time.Duration // delay between pushes; zero pushes flat out
	Total     int           // stop after this many events; zero runs until cancelled
	Seed      int64         // rand seed; zero seeds from the clock
}

// Producer left-pushes synthetic event payloads onto the transaction queue.
//
// The event mix leans on friendships, mirroring a growing network: half the
// events befriend two known users, the rest split between registrations,
// referrals and the occasional unfriend.
type Producer struct {
	// Required components
	Queue *queue.Queue
	Log   *zap.Logger
	// Required config
	Options Options

	rng     *rand.Rand
	nextID  int
	members []string
}

type payload struct {
	Type       string `json:"type"`
	Name       string `json:"name,omitempty"`
	ReferredBy string `json:"referredBy,omitempty"`
	User       string `json:"user,omitempty"`
	User1Name  string `json:"user1_name,omitempty"`
	User2Name  string `json:"user2_name,omitempty"`
	CreatedAt  string `json:"created_at"`
}

// Run pushes batches until the total is reached or ctx is cancelled.
func (p *Producer) Run(ctx context.Context) error {
	seed := p.Options.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	p.rng = rand.New(rand.NewSource(seed))
	batchSize := p.Options.BatchSize
	if batchSize <= 0 {
		batchSize = 1000
	}
	pushed := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n := batchSize
		if p.Options.Total > 0 && p.Options.Total-pushed < n {
			n = p.Options.Total - pushed
		}
		if n <= 0 {
			p.Log.Info("Producer done", zap.Int("events", pushed))
			return nil
		}
		batch := make([][]byte, n)
		for i := range batch {
			body, err := sonic.Marshal(p.next())
			if err != nil {
				return fmt.Errorf("failed to marshal event: %w", err)
			}
			batch[i] = body
		}
		if err := p.Queue.Push(ctx, p.Options.Queue, batch...); err != nil {
			return fmt.Errorf("failed to push batch: %w", err)
		}
		pushed += n
		p.Log.Debug("Pushed batch", zap.Int("events", n), zap.Int("total", pushed))
		if p.Options.Interval > 0 {
			timer := time.NewTimer(p.Options.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
}

// next draws one event from the mix. Until two users exist, everything is a
// registration.
func (p *Producer) next() payload {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	roll := p.rng.Float64()
	switch {
	case len(p.members) < 2 || roll < 0.3:
		name := p.newName()
		p.members = append(p.members, name)
		return payload{Type: string(event.KindRegister), Name: name, CreatedAt: now}
	case roll < 0.4:
		name := p.newName()
		referrer := p.pick()
		p.members = append(p.members, name)
		return payload{Type: string(event.KindReferral), ReferredBy: referrer, User: name, CreatedAt: now}
	case roll < 0.9:
		u1, u2 := p.pickPair()
		return payload{Type: string(event.KindAddFriend), User1Name: u1, User2Name: u2, CreatedAt: now}
	default:
		u1, u2 := p.pickPair()
		return payload{Type: string(event.KindUnfriend), User1Name: u1, User2Name: u2, CreatedAt: now}
	}
}

func (p *Producer) newName() string {
	p.nextID++
	return fmt.Sprintf("user%08d", p.nextID)
}

func (p *Producer) pick() string {
	return p.members[p.rng.Intn(len(p.members))]
}

func (p *Producer) pickPair() (string, string) {
	u1 := p.pick()
	u2 := p.pick()
	for u2 == u1 {
		u2 = p.pick()
	}
	return u1, u2
}
