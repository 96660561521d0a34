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
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"memory-engine/pkg/errors"
)

// pgStore PostgreSQL 实现，表结构见 createSpansTable
type pgStore struct {
	pool *pgxpool.Pool
}

const createSpansTable = `
CREATE TABLE IF NOT EXISTS spans (
	id             TEXT NOT NULL,
	client_id      TEXT NOT NULL,
	source_type    TEXT NOT NULL,
	source_id      TEXT NOT NULL DEFAULT '',
	start_byte     BIGINT NOT NULL,
	end_byte       BIGINT NOT NULL,
	content_hash   TEXT NOT NULL,
	token_estimate INT NOT NULL DEFAULT 0,
	flagged        BOOLEAN NOT NULL DEFAULT FALSE,
	content        BYTEA NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (client_id, id)
);
CREATE INDEX IF NOT EXISTS idx_spans_client_created ON spans (client_id, created_at);
`

// NewPostgresStore 创建基于 PostgreSQL 的 Span 存储；dsn 为连接串
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
	if _, err := pool.Exec(ctx, createSpansTable); err != nil {
		pool.Close()
		return nil, err
	}
	return &pgStore{pool: pool}, nil
}

// Close 关闭连接池（可选，用于优雅退出）
func (s *pgStore) Close() {
	s.pool.Close()
}

func (s *pgStore) Register(ctx context.Context, span Span, content []byte) error {
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

	_, err := s.pool.Exec(ctx,
		`INSERT INTO spans (id, client_id, source_type, source_id, start_byte, end_byte,
		                    content_hash, token_estimate, flagged, content, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		 ON CONFLICT (client_id, id) DO NOTHING`,
		span.ID, span.ClientID, string(span.SourceType), span.SourceID,
		span.StartByte, span.EndByte, span.ContentHash, span.TokenEstimate,
		span.Flagged, content, span.CreatedAt)
	if err != nil {
		return errors.Wrap(err, "register span")
	}
	return mismatch
}

func (s *pgStore) Get(ctx context.Context, clientID, id string) (*Span, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, client_id, source_type, source_id, start_byte, end_byte,
		        content_hash, token_estimate, flagged, created_at
		 FROM spans WHERE client_id = $1 AND id = $2`,
		clientID, id)
	span, err := scanSpan(row)
	if err == pgx.ErrNoRows {
		return nil, errors.ErrSpanNotFound
	}
	if err != nil {
		return nil, err
	}
	return span, nil
}

func (s *pgStore) GetContent(ctx context.Context, clientID, id string) ([]byte, error) {
	var content []byte
	var flagged bool
	var declaredHash string
	err := s.pool.QueryRow(ctx,
		`SELECT content, flagged, content_hash FROM spans WHERE client_id = $1 AND id = $2`,
		clientID, id).Scan(&content, &flagged, &declaredHash)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if flagged {
		return nil, &errors.IntegrityMismatchError{
			SpanID:       id,
			DeclaredHash: declaredHash,
			ComputedHash: ComputeHash(content),
		}
	}
	return content, nil
}

func (s *pgStore) List(ctx context.Context, clientID string) ([]Span, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, source_type, source_id, start_byte, end_byte,
		        content_hash, token_estimate, flagged, created_at
		 FROM spans WHERE client_id = $1 AND flagged = FALSE ORDER BY created_at, id`,
		clientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Span
	for rows.Next() {
		span, err := scanSpan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *span)
	}
	return out, rows.Err()
}

func (s *pgStore) Delete(ctx context.Context, clientID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`DELETE FROM spans WHERE client_id = $1 AND id = ANY($2)`,
		clientID, ids)
	return err
}

// scanSpan 从单行扫描 Span（Query 与 QueryRow 共用）
func scanSpan(row pgx.Row) (*Span, error) {
	var span Span
	var sourceType string
	if err := row.Scan(&span.ID, &span.ClientID, &sourceType, &span.SourceID,
		&span.StartByte, &span.EndByte, &span.ContentHash, &span.TokenEstimate,
		&span.Flagged, &span.CreatedAt); err != nil {
		return nil, err
	}
	span.SourceType = SourceType(sourceType)
	return &span, nil
}
