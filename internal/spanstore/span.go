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

// Package spanstore 不可变、hash 校验、按字节寻址的内容存储。
// Span 一经写入不再修改，仅被驱逐或显式删除；并发读者无需加锁。
package spanstore

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// SourceType Span 内容来源类型
type SourceType string

const (
	SourceDocument     SourceType = "document"
	SourceConversation SourceType = "conversation"
	SourceToolOutput   SourceType = "tool_output"
	SourceSessionWrite SourceType = "session_write"
)

// Span 不可变内容分片的元数据。内容本体按 ID 另存
type Span struct {
	ID            string     `json:"id"`
	ClientID      string     `json:"client_id"`
	SourceType    SourceType `json:"source_type"`
	SourceID      string     `json:"source_id"`
	StartByte     int64      `json:"start_byte"`
	EndByte       int64      `json:"end_byte"` // 不变量：EndByte > StartByte
	ContentHash   string     `json:"content_hash"`
	TokenEstimate int        `json:"token_estimate"`
	Flagged       bool       `json:"flagged"` // hash 校验失败：留存审计，不参与检索
	CreatedAt     time.Time  `json:"created_at"`
}

// ComputeHash 计算内容 hash（SHA-256 hex），注册与校验共用
func ComputeHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
