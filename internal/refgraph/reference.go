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

// Package refgraph 轻量引用图：指向 Span/实体的类型化指针、双向边与版本链。
// 引用本身可不携带内容，导航（"有什么"）与取回（"取出来"）的成本解耦。
package refgraph

import "time"

// ReferenceType 引用指向的目标类型
type ReferenceType string

const (
	RefSpan     ReferenceType = "span"
	RefEntity   ReferenceType = "entity"
	RefSession  ReferenceType = "session"
	RefExternal ReferenceType = "external"
)

// LinkType 引用间的边类型
type LinkType string

const (
	LinkParentOf    LinkType = "parent_of"
	LinkChildOf     LinkType = "child_of"
	LinkSupersedes  LinkType = "supersedes"
	LinkDerivedFrom LinkType = "derived_from"
	LinkRelatedTo   LinkType = "related_to"
)

// ReverseLinkType 反向边类型是确定性的：parent_of↔child_of、supersedes↔derived_from，
// 其余对称
func ReverseLinkType(t LinkType) LinkType {
	switch t {
	case LinkParentOf:
		return LinkChildOf
	case LinkChildOf:
		return LinkParentOf
	case LinkSupersedes:
		return LinkDerivedFrom
	case LinkDerivedFrom:
		return LinkSupersedes
	default:
		return t
	}
}

// SpanPointer 指向 Span 的位置元数据（内容不随引用携带）
type SpanPointer struct {
	SpanID        string `json:"span_id"`
	StartByte     int64  `json:"start_byte"`
	EndByte       int64  `json:"end_byte"`
	TokenEstimate int    `json:"token_estimate"`
}

// Reference 版本化引用。更新走 copy-on-write：新版本追加，旧版本留作历史
type Reference struct {
	ID                string        `json:"id"`
	ClientID          string        `json:"client_id"`
	Type              ReferenceType `json:"type"`
	TargetID          string        `json:"target_id"`
	SpanRef           *SpanPointer  `json:"span_ref,omitempty"`
	Version           int           `json:"version"` // 不变量：沿版本链单调递增
	PreviousVersionID string        `json:"previous_version_id,omitempty"`
	Importance        float64       `json:"importance"`
	CreatedAt         time.Time     `json:"created_at"`
}

// Link 引用间的一条有向边
type Link struct {
	SourceID  string    `json:"source_id"`
	TargetID  string    `json:"target_id"`
	Type      LinkType  `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

// VersionUpdate CreateVersion 的变更集；nil 字段表示沿用旧值
type VersionUpdate struct {
	TargetID   *string
	SpanRef    *SpanPointer
	Importance *float64
}
