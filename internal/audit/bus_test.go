package audit

import (
	"context"
	"testing"
	"time"
)

func TestBus_PublishSubscribe(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus()
	ch := b.Subscribe(ctx)

	b.Publish(Event{Type: AccessLog, SessionID: "session-1", Operation: "retrieve", Tokens: 42})

	select {
	case ev := <-ch:
		if ev.Type != AccessLog || ev.SessionID != "session-1" {
			t.Fatalf("event mismatch: %+v", ev)
		}
		if ev.ID == "" || ev.CreatedAt.IsZero() {
			t.Fatalf("expected ID and CreatedAt to be filled: %+v", ev)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
}

func TestBus_UnsubscribeOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	b := NewBus()
	ch := b.Subscribe(ctx)

	cancel()
	// 通道应被关闭
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed after ctx cancel")
		}
	}
}

func TestBus_SlowSubscriberDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus()
	ch := b.Subscribe(ctx)

	// 灌满缓冲后再发布一条：慢订阅者被剔除，Publish 不阻塞
	for i := 0; i < subscribeChanBuffer+1; i++ {
		b.Publish(Event{Type: AccessLog, Operation: "peek"})
	}

	n := 0
	for range ch {
		n++
	}
	if n != subscribeChanBuffer {
		t.Fatalf("expected %d buffered events before close, got %d", subscribeChanBuffer, n)
	}
}
