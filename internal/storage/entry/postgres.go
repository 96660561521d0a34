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
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memory-engine/pkg/errors"
)

// pgStore PostgreSQL 实现，表结构见 createEntriesTable
type pgStore struct {
	pool *pgxpool.Pool
}

const createEntriesTable = `
CREATE TABLE IF NOT EXISTS memory_entries (
	id            TEXT NOT NULL,
	client_id     TEXT NOT NULL,
	session_id    TEXT NOT NULL DEFAULT '',
	category      TEXT NOT NULL DEFAULT '',
	content       TEXT NOT NULL,
	tokens        BIGINT NOT NULL DEFAULT 0,
	priority      INT NOT NULL,
	weight        DOUBLE PRECISION NOT NULL DEFAULT 1,
	access_count  BIGINT NOT NULL DEFAULT 0,
	last_accessed TIMESTAMPTZ NOT NULL DEFAULT now(),
	created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, id)
);
CREATE INDEX IF NOT EXISTS idx_entries_client_priority ON memory_entries (client_id, priority);
`

// NewPostgresStore 创建基于 PostgreSQL 的条目存储
func NewPostgresStore(ctx context.Context, dsn string) (Store, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	if _, err := pool.Exec(ctx, createEntriesTable); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// Close 关闭连接池（可选，用于优雅退出）
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Put(ctx context.Context, e MemoryEntry) (*MemoryEntry, error) {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memory_entries (id, client_id, session_id, category, content, tokens,
		                             priority, weight, access_count, last_accessed, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (client_id, id) DO UPDATE SET
		   session_id = EXCLUDED.session_id, category = EXCLUDED.category,
		   content = EXCLUDED.content, tokens = EXCLUDED.tokens,
		   priority = EXCLUDED.priority, weight = EXCLUDED.weight`,
		e.ID, e.ClientID, e.SessionID, e.Category, e.Content, e.Tokens,
		int(e.Priority), e.Weight, e.AccessCount, e.LastAccessed, e.CreatedAt)
	if err != nil {
		return nil, errors.Wrap(err, "put entry")
	}
	out := e
	return &out, nil
}

func (s *pgStore) Get(ctx context.Context, clientID, id string) (*MemoryEntry, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, client_id, session_id, category, content, tokens, priority, weight,
		        access_count, last_accessed, created_at
		 FROM memory_entries WHERE client_id = $1 AND id = $2`,
		clientID, id)
	e, err := scanEntry(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

func (s *pgStore) Touch(ctx context.Context, clientID, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memory_entries SET access_count = access_count + 1, last_accessed = now()
		 WHERE client_id = $1 AND id = $2`,
		clientID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errors.ErrNotFound
	}
	return nil
}

func (s *pgStore) List(ctx context.Context, filter Filter) ([]MemoryEntry, error) {
	query, args := filterQuery(
		`SELECT id, client_id, session_id, category, content, tokens, priority, weight,
		        access_count, last_accessed, created_at
		 FROM memory_entries`, filter)
	rows, err := s.pool.Query(ctx, query+` ORDER BY created_at, id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []MemoryEntry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

func (s *pgStore) TokensUsed(ctx context.Context, filter Filter) (int64, error) {
	query, args := filterQuery(`SELECT COALESCE(SUM(tokens), 0) FROM memory_entries`, filter)
	var total int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&total); err != nil {
		return 0, err
	}
	return total, nil
}

func (s *pgStore) Delete(ctx context.Context, clientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM memory_entries WHERE client_id = $1 AND id = ANY($2)`,
		clientID, ids)
	return err
}

// filterQuery 把 Filter 展开为 WHERE 子句（零值字段不参与）
func filterQuery(base string, f Filter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		conds = append(conds, cond)
	}
	if f.ClientID != "" {
		add("client_id", f.ClientID)
	}
	if f.SessionID != "" {
		add("session_id", f.SessionID)
	}
	if f.Priority != nil {
		add("priority", int(*f.Priority))
	}
	if f.Category != "" {
		add("category", f.Category)
	}
	if len(conds) == 0 {
		return base, nil
	}
	var b strings.Builder
	b.WriteString(base)
	b.WriteString(" WHERE ")
	for i, c := range conds {
		if i > 0 {
			b.WriteString(" AND ")
		}
		fmt.Fprintf(&b, "%s = $%d", c, i+1)
	}
	return b.String(), args
}

// scanEntry 从单行扫描条目（Query 与 QueryRow 共用）
func scanEntry(row pgx.Row) (*MemoryEntry, error) {
	var e MemoryEntry
	var priority int
	if err := row.Scan(&e.ID, &e.ClientID, &e.SessionID, &e.Category, &e.Content, &e.Tokens,
		&priority, &e.Weight, &e.AccessCount, &e.LastAccessed, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Priority = Priority(priority)
	return &e, nil
}
