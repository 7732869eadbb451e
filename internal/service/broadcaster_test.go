package service

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"auth-sync/internal/domain"
)

func TestBroadcasterDeliversToOtherAgents(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewBroadcaster(zap.NewNop(), store)
	listener := NewBroadcaster(zap.NewNop(), store)
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("listener start failed: %v", err)
	}

	notified := make(chan struct{}, 1)
	listener.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	publisher.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedIn, UserID: "u1"})

	select {
	case <-notified:
	case <-time.After(time.Second):
		t.Fatalf("expected sibling notification")
	}
}

func TestBroadcasterSuppressesSelfDelivery(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := NewBroadcaster(zap.NewNop(), store)
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	notified := make(chan struct{}, 1)
	agent.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})

	agent.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedOut})

	select {
	case <-notified:
		t.Fatalf("publisher must not receive its own publish")
	case <-time.After(100 * time.Millisecond):
	}
}

func TestBroadcasterSuppressesSelfDeliveryUnderRepeatedPublish(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	agent := NewBroadcaster(zap.NewNop(), store)
	if err := agent.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	notified := make(chan struct{}, 128)
	agent.Subscribe(func() {
		notified <- struct{}{}
	})

	// El store en memoria entrega dentro del propio bump: ninguna de estas
	// publicaciones debe alcanzar al agente que las origino.
	for i := 0; i < 50; i++ {
		agent.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedIn})
	}

	select {
	case <-notified:
		t.Fatalf("publisher received one of its own publishes")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	store := NewMemoryStateStore()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := NewBroadcaster(zap.NewNop(), store)
	listener := NewBroadcaster(zap.NewNop(), store)
	if err := listener.Start(ctx); err != nil {
		t.Fatalf("start failed: %v", err)
	}

	notified := make(chan struct{}, 1)
	unsubscribe := listener.Subscribe(func() {
		select {
		case notified <- struct{}{}:
		default:
		}
	})
	unsubscribe()

	publisher.Publish(ctx, domain.ChangeEvent{Kind: domain.ChangeSignedIn})

	select {
	case <-notified:
		t.Fatalf("expected no delivery after unsubscribe")
	case <-time.After(100 * time.Millisecond):
	}
}
