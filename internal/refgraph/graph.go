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

package refgraph

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"memory-engine/pkg/errors"
)

// Graph 引用图抽象
type Graph interface {
	// Create 创建引用；ID 为空时分配，Version 置 1
	Create(ctx context.Context, ref Reference) (*Reference, error)

	// Get 按 id 获取引用（任意历史版本均可见）
	Get(ctx context.Context, clientID, id string) (*Reference, error)

	// Resolve 只返回位置元数据（span id + 字节区间 + token 估计），不取内容
	Resolve(ctx context.Context, clientID, id string) (*SpanPointer, error)

	// CreateVersion 追加新版本（copy-on-write）；旧版本保留
	CreateVersion(ctx context.Context, clientID, id string, updates VersionUpdate) (*Reference, error)

	// VersionHistory 按创建顺序返回 id 所在版本链（根到最新）
	VersionHistory(ctx context.Context, clientID, id string) ([]Reference, error)

	// Link 插入正向边；bidirectional 时同时插入确定性反向边
	Link(ctx context.Context, clientID, sourceID, targetID string, linkType LinkType, bidirectional bool) error

	// Links 列出 refID 的全部出边
	Links(ctx context.Context, clientID, refID string) ([]Link, error)

	// List 列出客户端全部引用的最新版本
	List(ctx context.Context, clientID string) ([]Reference, error)

	// Delete 删除引用及其出入边（版本历史保留，除非逐版本删除）
	Delete(ctx context.Context, clientID string, ids []string) error
}

// MemoryGraph 内存实现（map + RWMutex），按客户端分桶
type MemoryGraph struct {
	mu       sync.RWMutex
	byClient map[string]*clientGraph
}

// clientGraph 单客户端的引用与边
type clientGraph struct {
	refs  map[string]*Reference
	next  map[string]string // 版本链前驱 id -> 后继 id
	heads map[string]bool   // 最新版本集合
	links map[string][]Link // sourceID -> 出边
}

// NewMemoryGraph 创建内存引用图
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{byClient: make(map[string]*clientGraph)}
}

func (g *MemoryGraph) clientLocked(clientID string) *clientGraph {
	cg, ok := g.byClient[clientID]
	if !ok {
		cg = &clientGraph{
			refs:  make(map[string]*Reference),
			next:  make(map[string]string),
			heads: make(map[string]bool),
			links: make(map[string][]Link),
		}
		g.byClient[clientID] = cg
	}
	return cg
}

// Create 实现 Graph
func (g *MemoryGraph) Create(ctx context.Context, ref Reference) (*Reference, error) {
	if ref.ClientID == "" {
		return nil, errors.Wrap(errors.ErrInvalidArg, "client id is required")
	}
	if ref.ID == "" {
		ref.ID = "ref-" + uuid.New().String()
	}
	ref.Version = 1
	ref.PreviousVersionID = ""
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	cg := g.clientLocked(ref.ClientID)
	if _, exists := cg.refs[ref.ID]; exists {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "reference %s already exists", ref.ID)
	}
	stored := ref
	cg.refs[ref.ID] = &stored
	cg.heads[ref.ID] = true
	out := stored
	return &out, nil
}

// Get 实现 Graph
func (g *MemoryGraph) Get(ctx context.Context, clientID, id string) (*Reference, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}
	ref, ok := cg.refs[id]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}
	out := *ref
	return &out, nil
}

// Resolve 实现 Graph：无 span 指针的引用返回 nil 位置
func (g *MemoryGraph) Resolve(ctx context.Context, clientID, id string) (*SpanPointer, error) {
	ref, err := g.Get(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	if ref.SpanRef == nil {
		return nil, nil
	}
	out := *ref.SpanRef
	return &out, nil
}

// CreateVersion 实现 Graph
func (g *MemoryGraph) CreateVersion(ctx context.Context, clientID, id string, updates VersionUpdate) (*Reference, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}
	prev, ok := cg.refs[id]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}
	// 只允许在链尾追加，避免版本分叉
	if !cg.heads[id] {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "reference %s is not the latest version", id)
	}

	next := *prev
	next.ID = "ref-" + uuid.New().String()
	next.Version = prev.Version + 1
	next.PreviousVersionID = prev.ID
	next.CreatedAt = time.Now()
	if updates.TargetID != nil {
		next.TargetID = *updates.TargetID
	}
	if updates.SpanRef != nil {
		sp := *updates.SpanRef
		next.SpanRef = &sp
	}
	if updates.Importance != nil {
		next.Importance = *updates.Importance
	}

	cg.refs[next.ID] = &next
	cg.next[prev.ID] = next.ID
	delete(cg.heads, prev.ID)
	cg.heads[next.ID] = true
	out := next
	return &out, nil
}

// VersionHistory 实现 Graph：先回溯到根，再沿后继走到链尾
func (g *MemoryGraph) VersionHistory(ctx context.Context, clientID, id string) ([]Reference, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}
	ref, ok := cg.refs[id]
	if !ok {
		return nil, errors.ErrReferenceNotFound
	}

	root := ref
	for root.PreviousVersionID != "" {
		prev, ok := cg.refs[root.PreviousVersionID]
		if !ok {
			break // 历史被逐版本删除时从断点开始
		}
		root = prev
	}

	var history []Reference
	cur := root
	for {
		history = append(history, *cur)
		nextID, ok := cg.next[cur.ID]
		if !ok {
			break
		}
		cur = cg.refs[nextID]
	}
	return history, nil
}

// Link 实现 Graph
func (g *MemoryGraph) Link(ctx context.Context, clientID, sourceID, targetID string, linkType LinkType, bidirectional bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return errors.ErrReferenceNotFound
	}
	if _, ok := cg.refs[sourceID]; !ok {
		return errors.Wrapf(errors.ErrReferenceNotFound, "link source %s", sourceID)
	}
	if _, ok := cg.refs[targetID]; !ok {
		return errors.Wrapf(errors.ErrReferenceNotFound, "link target %s", targetID)
	}

	now := time.Now()
	cg.links[sourceID] = append(cg.links[sourceID], Link{
		SourceID: sourceID, TargetID: targetID, Type: linkType, CreatedAt: now,
	})
	if bidirectional {
		cg.links[targetID] = append(cg.links[targetID], Link{
			SourceID: targetID, TargetID: sourceID, Type: ReverseLinkType(linkType), CreatedAt: now,
		})
	}
	return nil
}

// Links 实现 Graph
func (g *MemoryGraph) Links(ctx context.Context, clientID, refID string) ([]Link, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil, nil
	}
	out := make([]Link, len(cg.links[refID]))
	copy(out, cg.links[refID])
	return out, nil
}

// List 实现 Graph：仅最新版本，创建时间升序
func (g *MemoryGraph) List(ctx context.Context, clientID string) ([]Reference, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil, nil
	}
	out := make([]Reference, 0, len(cg.heads))
	for id := range cg.heads {
		out = append(out, *cg.refs[id])
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Delete 实现 Graph
func (g *MemoryGraph) Delete(ctx context.Context, clientID string, ids []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	cg, ok := g.byClient[clientID]
	if !ok {
		return nil
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	for _, id := range ids {
		delete(cg.refs, id)
		delete(cg.heads, id)
		delete(cg.links, id)
		delete(cg.next, id)
	}
	// 清理指向被删引用的入边
	for src, links := range cg.links {
		kept := links[:0]
		for _, l := range links {
			if !drop[l.TargetID] {
				kept = append(kept, l)
			}
		}
		cg.links[src] = kept
	}
	return nil
}
