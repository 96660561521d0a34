// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package audit

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-engine/pkg/log"
)

const subscribeChanBuffer = 64

// Bus 进程内审计事件总线。Publish 不阻塞：缓冲满的订阅者被关闭剔除
type Bus struct {
	mu   sync.Mutex
	subs []chan Event
}

// NewBus 创建审计总线
func NewBus() *Bus {
	return &Bus{}
}

// Publish 发布事件；补齐 ID 与时间戳
func (b *Bus) Publish(event Event) {
	if event.ID == "" {
		event.ID = "audit-" + uuid.New().String()
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	var still []chan Event
	for _, ch := range b.subs {
		select {
		case ch <- event:
			still = append(still, ch)
		default:
			close(ch)
		}
	}
	b.subs = still
}

// Subscribe 注册订阅者；ctx 结束时自动注销并关闭通道
func (b *Bus) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscribeChanBuffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, c := range b.subs {
			if c == ch {
				b.subs = append(b.subs[:i], b.subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()
	return ch
}

// AttachLogger 启动一个订阅者，把审计事件写入结构化日志；随 ctx 结束
func AttachLogger(ctx context.Context, bus *Bus, logger *log.Logger) {
	ch := bus.Subscribe(ctx)
	go func() {
		for ev := range ch {
			logger.Info("audit",
				"type", string(ev.Type),
				"client_id", ev.ClientID,
				"session_id", ev.SessionID,
				"operation", ev.Operation,
				"entry_id", ev.EntryID,
				"span_id", ev.SpanID,
				"tokens", ev.Tokens,
				"reason", ev.Reason,
				"error", ev.Err,
			)
		}
	}()
}
