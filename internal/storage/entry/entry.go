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

// Package entry 记忆条目存储：驱逐引擎与 Pin 管理共用的池化条目。
package entry

import "time"

// Priority 条目保留层级。数值即权重基数，驱逐顺序严格按层级从低到高
type Priority int

const (
	PriorityEphemeral Priority = 1    // 随时可驱逐
	PrioritySliding   Priority = 10   // 按策略驱逐
	PrioritySession   Priority = 100  // 仅所属会话不活跃时可驱逐
	PriorityPinned    Priority = 1000 // 永不驱逐
)

// Valid 判定是否为已知层级
func (p Priority) Valid() bool {
	switch p {
	case PriorityEphemeral, PrioritySliding, PrioritySession, PriorityPinned:
		return true
	}
	return false
}

func (p Priority) String() string {
	switch p {
	case PriorityEphemeral:
		return "ephemeral"
	case PrioritySliding:
		return "sliding"
	case PrioritySession:
		return "session"
	case PriorityPinned:
		return "pinned"
	default:
		return "unknown"
	}
}

// MemoryEntry 池中的一条记忆。AccessCount 与 LastAccessed 由 Touch 维护，
// 驱逐打分只读取这两个字段
type MemoryEntry struct {
	ID           string    `json:"id"`
	ClientID     string    `json:"client_id"`
	SessionID    string    `json:"session_id,omitempty"`
	Category     string    `json:"category,omitempty"` // Pin 条目的类别，其余为空
	Content      string    `json:"content"`
	Tokens       int64     `json:"tokens"`
	Priority     Priority  `json:"priority"`
	Weight       float64   `json:"weight"` // 打分基数，<=0 视为 1
	AccessCount  int64     `json:"access_count"`
	LastAccessed time.Time `json:"last_accessed"`
	CreatedAt    time.Time `json:"created_at"`
}

// Filter 列表与统计的筛选条件；零值字段不参与过滤
type Filter struct {
	ClientID  string
	SessionID string
	Priority  *Priority
	Category  string
}

// Matches 判定条目是否命中筛选条件
func (f Filter) Matches(e *MemoryEntry) bool {
	if f.ClientID != "" && e.ClientID != f.ClientID {
		return false
	}
	if f.SessionID != "" && e.SessionID != f.SessionID {
		return false
	}
	if f.Priority != nil && e.Priority != *f.Priority {
		return false
	}
	if f.Category != "" && e.Category != f.Category {
		return false
	}
	return true
}
