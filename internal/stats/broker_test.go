package stats

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	decimal "github.com/shopspring/decimal"

	"github.com/rootedhq/rooted/backend/internal/services/ledger"
)

func newTestBroker(t *testing.T) (*Broker, func()) {
	t.Helper()
	server, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	broker := NewBroker(client, "", slog.New(slog.NewTextHandler(io.Discard, nil)))
	cleanup := func() {
		client.Close()
		server.Close()
	}
	return broker, cleanup
}

func TestBrokerRelaysPublishedUpdates(t *testing.T) {
	broker, cleanup := newTestBroker(t)
	defer cleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go broker.Run(ctx)

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)

	// Let the Run goroutine finish subscribing before publishing.
	time.Sleep(50 * time.Millisecond)

	userID := uuid.New()
	update := ledger.Update{
		Global: ledger.GlobalSnapshot{
			TotalUsers:   3,
			TotalQueries: 42,
			TotalTrees:   decimal.RequireFromString("1.5"),
			WeekTrees:    decimal.RequireFromString("0.25"),
			TotalDonated: decimal.RequireFromString("0.6"),
		},
		UserID:     userID,
		Milestones: []int{1},
	}
	if err := broker.Publish(ctx, update); err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case got := <-sub:
		if got.UserID != userID {
			t.Errorf("user id = %s, want %s", got.UserID, userID)
		}
		if got.Global.TotalQueries != 42 {
			t.Errorf("total queries = %d, want 42", got.Global.TotalQueries)
		}
		if !got.Global.TotalTrees.Equal(update.Global.TotalTrees) {
			t.Errorf("total trees = %s, want %s", got.Global.TotalTrees, update.Global.TotalTrees)
		}
		if len(got.Milestones) != 1 || got.Milestones[0] != 1 {
			t.Errorf("milestones = %v, want [1]", got.Milestones)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no update relayed")
	}
}

func TestBrokerSlowSubscriberDoesNotBlock(t *testing.T) {
	broker, cleanup := newTestBroker(t)
	defer cleanup()

	slow := broker.Subscribe()
	defer broker.Unsubscribe(slow)

	// Fill the buffer past capacity directly; broadcast must not stall.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			broker.broadcast(ledger.Update{})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("broadcast blocked on a slow subscriber")
	}
}

func TestBrokerUnsubscribeIsIdempotent(t *testing.T) {
	broker, cleanup := newTestBroker(t)
	defer cleanup()

	ch := broker.Subscribe()
	broker.Unsubscribe(ch)
	broker.Unsubscribe(ch) // second call must not panic on the closed channel
}
