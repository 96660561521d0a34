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

package entry

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-engine/pkg/errors"
)

// MemoryStore 内存实现（map + RWMutex），按客户端分桶
type MemoryStore struct {
	mu       sync.RWMutex
	byClient map[string]map[string]*MemoryEntry
}

// NewMemoryStore 创建内存条目存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byClient: make(map[string]map[string]*MemoryEntry)}
}

func (s *MemoryStore) Put(ctx context.Context, e MemoryEntry) (*MemoryEntry, error) {
	if e.ClientID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "client id is required")
	}
	if !e.Priority.Valid() {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "unknown priority %d", e.Priority)
	}
	if e.ID == "" {
		e.ID = "entry-" + uuid.New().String()
	}
	now := time.Now()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	if e.LastAccessed.IsZero() {
		e.LastAccessed = e.CreatedAt
	}
	if e.Weight <= 0 {
		e.Weight = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byClient[e.ClientID]
	if !ok {
		bucket = make(map[string]*MemoryEntry)
		s.byClient[e.ClientID] = bucket
	}
	stored := e
	bucket[e.ID] = &stored
	out := stored
	return &out, nil
}

func (s *MemoryStore) Get(ctx context.Context, clientID, id string) (*MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if e, ok := s.byClient[clientID][id]; ok {
		out := *e
		return &out, nil
	}
	return nil, errors.ErrNotFound
}

func (s *MemoryStore) Touch(ctx context.Context, clientID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byClient[clientID][id]
	if !ok {
		return errors.ErrNotFound
	}
	e.AccessCount++
	e.LastAccessed = time.Now()
	return nil
}

func (s *MemoryStore) List(ctx context.Context, filter Filter) ([]MemoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []MemoryEntry
	for clientID, bucket := range s.byClient {
		if filter.ClientID != "" && clientID != filter.ClientID {
			continue
		}
		for _, e := range bucket {
			if filter.Matches(e) {
				out = append(out, *e)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) TokensUsed(ctx context.Context, filter Filter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var total int64
	for clientID, bucket := range s.byClient {
		if filter.ClientID != "" && clientID != filter.ClientID {
			continue
		}
		for _, e := range bucket {
			if filter.Matches(e) {
				total += e.Tokens
			}
		}
	}
	return total, nil
}

func (s *MemoryStore) Delete(ctx context.Context, clientID string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.byClient[clientID]
	if !ok {
		return nil
	}
	for _, id := range ids {
		delete(bucket, id)
	}
	return nil
}
