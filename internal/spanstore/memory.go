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

package spanstore

import (
	"context"
	"sort"
	"sync"
	"time"

	"memory-engine/pkg/errors"
)

// spanRecord 元数据 + 内容快照
type spanRecord struct {
	span    Span
	content []byte
}

// MemoryStore 内存实现（map + RWMutex），按客户端分桶
type MemoryStore struct {
	mu       sync.RWMutex
	byClient map[string]map[string]*spanRecord
}

// NewMemoryStore 创建内存 Span 存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byClient: make(map[string]map[string]*spanRecord)}
}

// Register 实现 Store
func (s *MemoryStore) Register(ctx context.Context, span Span, content []byte) error {
	if span.ID == "" || span.ClientID == "" {
		return errors.Wrap(errors.ErrInvalidArg, "span id and client id are required")
	}
	if span.EndByte <= span.StartByte {
		return errors.Wrapf(errors.ErrInvalidArg, "span %s: end byte %d <= start byte %d",
			span.ID, span.EndByte, span.StartByte)
	}
	if span.CreatedAt.IsZero() {
		span.CreatedAt = time.Now()
	}

	computed := ComputeHash(content)
	var mismatch error
	if span.ContentHash != computed {
		mismatch = &errors.IntegrityMismatchError{
			SpanID:       span.ID,
			DeclaredHash: span.ContentHash,
			ComputedHash: computed,
		}
		span.Flagged = true
	}

	data := make([]byte, len(content))
	copy(data, content)

	s.mu.Lock()
	bucket, ok := s.byClient[span.ClientID]
	if !ok {
		bucket = make(map[string]*spanRecord)
		s.byClient[span.ClientID] = bucket
	}
	bucket[span.ID] = &spanRecord{span: span, content: data}
	s.mu.Unlock()

	return mismatch
}

// Get 实现 Store
func (s *MemoryStore) Get(ctx context.Context, clientID, id string) (*Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byClient[clientID][id]
	if !ok {
		return nil, errors.ErrSpanNotFound
	}
	span := rec.span
	return &span, nil
}

// GetContent 实现 Store：未知 id 返回空，Flagged 拒绝
func (s *MemoryStore) GetContent(ctx context.Context, clientID, id string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byClient[clientID][id]
	if !ok {
		return nil, nil
	}
	if rec.span.Flagged {
		return nil, &errors.IntegrityMismatchError{
			SpanID:       id,
			DeclaredHash: rec.span.ContentHash,
			ComputedHash: ComputeHash(rec.content),
		}
	}
	out := make([]byte, len(rec.content))
	copy(out, rec.content)
	return out, nil
}

// List 实现 Store：创建时间升序，不含 Flagged
func (s *MemoryStore) List(ctx context.Context, clientID string) ([]Span, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bucket := s.byClient[clientID]
	out := make([]Span, 0, len(bucket))
	for _, rec := range bucket {
		if rec.span.Flagged {
			continue
		}
		out = append(out, rec.span)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete 实现 Store
func (s *MemoryStore) Delete(ctx context.Context, clientID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket := s.byClient[clientID]
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}
