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

// Package audit 引擎唯一的审计面：每次 Session 操作一条访问日志事件，
// 每次驱逐/Pin/Unpin/完整性标记一条审计事件。订阅方显式注册，组件只发布。
package audit

import "time"

// EventType 审计事件类型
type EventType string

const (
	// AccessLog Session 操作访问日志（retrieve/peek/write/subcall/end）
	AccessLog EventType = "access_log"
	// EntryEvicted 条目被驱逐
	EntryEvicted EventType = "entry_evicted"
	// EntryPinned 条目被 Pin
	EntryPinned EventType = "entry_pinned"
	// EntryUnpinned 条目被 Unpin
	EntryUnpinned EventType = "entry_unpinned"
	// SpanFlagged Span hash 校验失败被标记
	SpanFlagged EventType = "span_flagged"
)

// Event 审计事件。字段按事件类型部分填充
type Event struct {
	ID        string        `json:"id"`
	Type      EventType     `json:"type"`
	ClientID  string        `json:"client_id,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Operation string        `json:"operation,omitempty"` // AccessLog：操作名
	EntryID   string        `json:"entry_id,omitempty"`
	SpanID    string        `json:"span_id,omitempty"`
	Priority  string        `json:"priority,omitempty"` // EntryEvicted：条目优先级
	Category  string        `json:"category,omitempty"` // EntryPinned/Unpinned：Pin 分类
	Tokens    int64         `json:"tokens,omitempty"`
	Score     float64       `json:"score,omitempty"` // EntryEvicted：驱逐分
	Reason    string        `json:"reason,omitempty"`
	Err       string        `json:"error,omitempty"`
	Duration  time.Duration `json:"duration,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
}
