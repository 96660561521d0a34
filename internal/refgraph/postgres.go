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
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memory-engine/pkg/config"
	"memory-engine/pkg/errors"
)

// NewGraph 根据配置创建引用图
func NewGraph(cfg config.BackendConfig) (Graph, error) {
	switch cfg.Type {
	case "", "memory":
		return NewMemoryGraph(), nil
	case "postgres":
		if cfg.DSN == "" {
			return nil, fmt.Errorf("reference graph: postgres requires dsn")
		}
		return NewPostgresGraph(context.Background(), cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported reference graph type: %s", cfg.Type)
	}
}

// pgGraph PostgreSQL 实现，表结构见 createReferencesTables
type pgGraph struct {
	pool *pgxpool.Pool
}

const createReferencesTables = `
CREATE TABLE IF NOT EXISTS memory_references (
	id                  TEXT NOT NULL,
	client_id           TEXT NOT NULL,
	ref_type            TEXT NOT NULL,
	target_id           TEXT NOT NULL DEFAULT '',
	span_id             TEXT NOT NULL DEFAULT '',
	start_byte          BIGINT NOT NULL DEFAULT 0,
	end_byte            BIGINT NOT NULL DEFAULT 0,
	token_estimate      INT NOT NULL DEFAULT 0,
	has_span            BOOLEAN NOT NULL DEFAULT FALSE,
	version             INT NOT NULL DEFAULT 1,
	previous_version_id TEXT NOT NULL DEFAULT '',
	next_version_id     TEXT NOT NULL DEFAULT '',
	is_head             BOOLEAN NOT NULL DEFAULT TRUE,
	importance          DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at          TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, id)
);
CREATE INDEX IF NOT EXISTS idx_references_client_head ON memory_references (client_id, is_head);

CREATE TABLE IF NOT EXISTS memory_reference_links (
	client_id  TEXT NOT NULL,
	source_id  TEXT NOT NULL,
	target_id  TEXT NOT NULL,
	link_type  TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_reference_links_source ON memory_reference_links (client_id, source_id);
`

// NewPostgresGraph 创建基于 PostgreSQL 的引用图
func NewPostgresGraph(ctx context.Context, dsn string) (Graph, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createReferencesTables); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgGraph{pool: pool}, nil
}

// Close 关闭连接池（可选，用于优雅退出）
func (g *pgGraph) Close() {
	g.pool.Close()
}

const refColumns = `id, client_id, ref_type, target_id, span_id, start_byte, end_byte,
	token_estimate, has_span, version, previous_version_id, importance, created_at`

func (g *pgGraph) Create(ctx context.Context, ref Reference) (*Reference, error) {
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

	tag, err := g.pool.Exec(ctx,
		`INSERT INTO memory_references (id, client_id, ref_type, target_id, span_id, start_byte,
		                                end_byte, token_estimate, has_span, version,
		                                previous_version_id, is_head, importance, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,TRUE,$12,$13)
		 ON CONFLICT (client_id, id) DO NOTHING`,
		refArgs(&ref)...)
	if err != nil {
		return nil, errors.Wrap(err, "create reference")
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.Wrapf(errors.ErrInvalidArg, "reference %s already exists", ref.ID)
	}
	out := ref
	return &out, nil
}

// refArgs Insert 参数展开（Create 与 CreateVersion 共用列序）
func refArgs(ref *Reference) []any {
	var spanID string
	var start, end int64
	var tokens int
	hasSpan := ref.SpanRef != nil
	if hasSpan {
		spanID = ref.SpanRef.SpanID
		start = ref.SpanRef.StartByte
		end = ref.SpanRef.EndByte
		tokens = ref.SpanRef.TokenEstimate
	}
	return []any{ref.ID, ref.ClientID, string(ref.Type), ref.TargetID, spanID, start, end,
		tokens, hasSpan, ref.Version, ref.PreviousVersionID, ref.Importance, ref.CreatedAt}
}

func (g *pgGraph) Get(ctx context.Context, clientID, id string) (*Reference, error) {
	row := g.pool.QueryRow(ctx,
		`SELECT `+refColumns+` FROM memory_references WHERE client_id = $1 AND id = $2`,
		clientID, id)
	ref, err := scanReference(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	return ref, nil
}

func (g *pgGraph) Resolve(ctx context.Context, clientID, id string) (*SpanPointer, error) {
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

func (g *pgGraph) CreateVersion(ctx context.Context, clientID, id string, updates VersionUpdate) (*Reference, error) {
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	row := tx.QueryRow(ctx,
		`SELECT `+refColumns+`, is_head FROM memory_references
		 WHERE client_id = $1 AND id = $2 FOR UPDATE`,
		clientID, id)
	prev, isHead, err := scanReferenceHead(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrReferenceNotFound
	}
	if err != nil {
		return nil, err
	}
	// 只允许在链尾追加，避免版本分叉
	if !isHead {
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

	if _, err := tx.Exec(ctx,
		`INSERT INTO memory_references (id, client_id, ref_type, target_id, span_id, start_byte,
		                                end_byte, token_estimate, has_span, version,
		                                previous_version_id, is_head, importance, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,TRUE,$12,$13)`,
		refArgs(&next)...); err != nil {
		return nil, errors.Wrap(err, "insert version")
	}
	if _, err := tx.Exec(ctx,
		`UPDATE memory_references SET is_head = FALSE, next_version_id = $3
		 WHERE client_id = $1 AND id = $2`,
		clientID, prev.ID, next.ID); err != nil {
		return nil, errors.Wrap(err, "retire previous version")
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	out := next
	return &out, nil
}

func (g *pgGraph) VersionHistory(ctx context.Context, clientID, id string) ([]Reference, error) {
	cur, err := g.Get(ctx, clientID, id)
	if err != nil {
		return nil, err
	}
	// 先回溯到根
	root := cur
	for root.PreviousVersionID != "" {
		prev, err := g.Get(ctx, clientID, root.PreviousVersionID)
		if errors.Is(err, errors.ErrReferenceNotFound) {
			break // 历史被逐版本删除时从断点开始
		}
		if err != nil {
			return nil, err
		}
		root = prev
	}

	var history []Reference
	node := root
	for {
		history = append(history, *node)
		var nextID string
		err := g.pool.QueryRow(ctx,
			`SELECT next_version_id FROM memory_references WHERE client_id = $1 AND id = $2`,
			clientID, node.ID).Scan(&nextID)
		if err != nil || nextID == "" {
			break
		}
		next, err := g.Get(ctx, clientID, nextID)
		if err != nil {
			break
		}
		node = next
	}
	return history, nil
}

func (g *pgGraph) Link(ctx context.Context, clientID, sourceID, targetID string, linkType LinkType, bidirectional bool) error {
	var count int
	if err := g.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM memory_references WHERE client_id = $1 AND id = ANY($2)`,
		clientID, []string{sourceID, targetID}).Scan(&count); err != nil {
		return err
	}
	want := 2
	if sourceID == targetID {
		want = 1
	}
	if count < want {
		return errors.Wrapf(errors.ErrReferenceNotFound, "link %s -> %s", sourceID, targetID)
	}

	now := time.Now()
	if _, err := g.pool.Exec(ctx,
		`INSERT INTO memory_reference_links (client_id, source_id, target_id, link_type, created_at)
		 VALUES ($1,$2,$3,$4,$5)`,
		clientID, sourceID, targetID, string(linkType), now); err != nil {
		return err
	}
	if bidirectional {
		if _, err := g.pool.Exec(ctx,
			`INSERT INTO memory_reference_links (client_id, source_id, target_id, link_type, created_at)
			 VALUES ($1,$2,$3,$4,$5)`,
			clientID, targetID, sourceID, string(ReverseLinkType(linkType)), now); err != nil {
			return err
		}
	}
	return nil
}

func (g *pgGraph) Links(ctx context.Context, clientID, refID string) ([]Link, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT source_id, target_id, link_type, created_at
		 FROM memory_reference_links WHERE client_id = $1 AND source_id = $2
		 ORDER BY created_at`,
		clientID, refID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Link
	for rows.Next() {
		var l Link
		var linkType string
		if err := rows.Scan(&l.SourceID, &l.TargetID, &linkType, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.Type = LinkType(linkType)
		out = append(out, l)
	}
	return out, rows.Err()
}

func (g *pgGraph) List(ctx context.Context, clientID string) ([]Reference, error) {
	rows, err := g.pool.Query(ctx,
		`SELECT `+refColumns+` FROM memory_references
		 WHERE client_id = $1 AND is_head ORDER BY created_at, id`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Reference
	for rows.Next() {
		ref, err := scanReference(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ref)
	}
	return out, rows.Err()
}

func (g *pgGraph) Delete(ctx context.Context, clientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := g.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_references WHERE client_id = $1 AND id = ANY($2)`,
		clientID, ids); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx,
		`DELETE FROM memory_reference_links
		 WHERE client_id = $1 AND (source_id = ANY($2) OR target_id = ANY($2))`,
		clientID, ids); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// scanReference 从单行扫描引用（Query 与 QueryRow 共用）
func scanReference(row pgx.Row) (*Reference, error) {
	var ref Reference
	var refType, spanID string
	var start, end int64
	var tokens int
	var hasSpan bool
	if err := row.Scan(&ref.ID, &ref.ClientID, &refType, &ref.TargetID, &spanID, &start, &end,
		&tokens, &hasSpan, &ref.Version, &ref.PreviousVersionID, &ref.Importance,
		&ref.CreatedAt); err != nil {
		return nil, err
	}
	ref.Type = ReferenceType(refType)
	if hasSpan {
		ref.SpanRef = &SpanPointer{SpanID: spanID, StartByte: start, EndByte: end, TokenEstimate: tokens}
	}
	return &ref, nil
}

// scanReferenceHead scanReference 加 is_head 列（CreateVersion 的 FOR UPDATE 查询用）
func scanReferenceHead(row pgx.Row) (*Reference, bool, error) {
	var ref Reference
	var refType, spanID string
	var start, end int64
	var tokens int
	var hasSpan, isHead bool
	if err := row.Scan(&ref.ID, &ref.ClientID, &refType, &ref.TargetID, &spanID, &start, &end,
		&tokens, &hasSpan, &ref.Version, &ref.PreviousVersionID, &ref.Importance,
		&ref.CreatedAt, &isHead); err != nil {
		return nil, false, err
	}
	ref.Type = ReferenceType(refType)
	if hasSpan {
		ref.SpanRef = &SpanPointer{SpanID: spanID, StartByte: start, EndByte: end, TokenEstimate: tokens}
	}
	return &ref, isHead, nil
}
