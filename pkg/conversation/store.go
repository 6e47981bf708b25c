// Copyright 2025 The REVA Authors
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

// Package conversation is the episodic memory of the orchestrator: a
// SQL-backed store of per-(user, conversation) message history and the
// property set the last retrieval turn produced. History is a bounded
// FIFO window; the last-retrieved table is overwritten atomically each
// retrieval turn so positional references ("the 2nd one") stay
// unambiguous.
package conversation

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/revaplatform/reva/pkg/config"
)

// Message is one stored conversation turn. RetrievalTurnID links an
// assistant message to the retrieval turn that produced its sources; it
// is empty for plain chat turns.
type Message struct {
	Role            string    `json:"role"`
	Content         string    `json:"content"`
	RetrievalTurnID string    `json:"retrieval_turn_id,omitempty"`
	Seq             int64     `json:"seq"`
	CreatedAt       time.Time `json:"created_at"`
}

// RetrievedRef is one entry of the last-retrieved property set.
// Positions are 1-indexed in presentation order.
type RetrievedRef struct {
	Position   int    `json:"position"`
	PropertyID string `json:"property_id"`
	Title      string `json:"title"`
	TurnID     string `json:"turn_id"`
}

// State is the loaded view of one conversation.
type State struct {
	UserID         string         `json:"user_id"`
	ConversationID string         `json:"conversation_id"`
	Messages       []Message      `json:"messages"`
	LastRetrieved  []RetrievedRef `json:"last_retrieved,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	LastActiveAt   time.Time      `json:"last_active_at"`
}

// Evicted history is kept a few windows deep so a widened window after
// a config change still finds recent turns.
const evictionMultiple = 4

const createConversationsSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    user_id VARCHAR(255) NOT NULL,
    conversation_id VARCHAR(255) NOT NULL,
    created_at TIMESTAMP NOT NULL,
    last_active_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, conversation_id)
);
`

const createMessagesSQL = `
CREATE TABLE IF NOT EXISTS conversation_messages (
    user_id VARCHAR(255) NOT NULL,
    conversation_id VARCHAR(255) NOT NULL,
    seq BIGINT NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    retrieval_turn_id VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    PRIMARY KEY (user_id, conversation_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_conversation_messages_seq
    ON conversation_messages(user_id, conversation_id, seq);
`

const createLastRetrievedSQL = `
CREATE TABLE IF NOT EXISTS conversation_last_retrieved (
    user_id VARCHAR(255) NOT NULL,
    conversation_id VARCHAR(255) NOT NULL,
    position INTEGER NOT NULL,
    property_id VARCHAR(255) NOT NULL,
    title TEXT,
    turn_id VARCHAR(255) NOT NULL,
    PRIMARY KEY (user_id, conversation_id, position)
);
`

// Store is the SQL conversation store. One Store is shared by all
// requests; the database pool handles concurrency, and LockConversation
// serializes the read-modify-write of a single conversation's state
// update.
type Store struct {
	db      *sql.DB
	dialect string

	convLocks sync.Map // "user\x00conv" -> *sync.Mutex
}

// Open connects per the configuration, sizes the pool, and creates the
// schema.
func Open(cfg config.DatabaseConfig) (*Store, error) {
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("conversation store: %w", err)
	}

	driverName := cfg.Driver
	if driverName == "sqlite" {
		driverName = "sqlite3"
	}
	db, err := sql.Open(driverName, cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("conversation store: open: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxConns)
	db.SetMaxIdleConns(cfg.MinIdle)
	db.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("conversation store: connect to %s: %w", cfg.Driver, err)
	}

	s := &Store{db: db, dialect: cfg.Driver}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	for _, ddl := range []string{createConversationsSQL, createMessagesSQL, createLastRetrievedSQL} {
		if s.dialect == "mysql" {
			// MySQL has no CREATE INDEX IF NOT EXISTS; the composite
			// primary key already covers the window scan.
			ddl = dropIndexStatements(ddl)
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("conversation store: schema: %w", err)
		}
	}
	return nil
}

func dropIndexStatements(ddl string) string {
	var kept []string
	for _, stmt := range strings.Split(ddl, ";") {
		if strings.Contains(stmt, "CREATE INDEX") {
			continue
		}
		if strings.TrimSpace(stmt) != "" {
			kept = append(kept, stmt)
		}
	}
	return strings.Join(kept, ";") + ";"
}

// rebind converts ? placeholders to $n for postgres.
func (s *Store) rebind(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// Load returns the conversation state with at most window messages,
// oldest first. A conversation that does not exist yet loads as a fresh
// empty state; nothing is written until the first Append.
func (s *Store) Load(ctx context.Context, userID, conversationID string, window int) (*State, error) {
	state := &State{UserID: userID, ConversationID: conversationID}

	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT created_at, last_active_at FROM conversations
                  WHERE user_id = ? AND conversation_id = ?`),
		userID, conversationID,
	).Scan(&state.CreatedAt, &state.LastActiveAt)
	if err == sql.ErrNoRows {
		now := time.Now()
		state.CreatedAt, state.LastActiveAt = now, now
		return state, nil
	}
	if err != nil {
		return nil, fmt.Errorf("conversation store: load: %w", err)
	}

	messages, err := s.window(ctx, userID, conversationID, window)
	if err != nil {
		return nil, err
	}
	state.Messages = messages

	refs, err := s.LastRetrieved(ctx, userID, conversationID)
	if err != nil {
		return nil, err
	}
	state.LastRetrieved = refs
	return state, nil
}

// window reads the newest messages and re-sorts them oldest first.
func (s *Store) window(ctx context.Context, userID, conversationID string, window int) ([]Message, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT seq, role, content, retrieval_turn_id, created_at
                  FROM conversation_messages
                  WHERE user_id = ? AND conversation_id = ?
                  ORDER BY seq DESC LIMIT ?`),
		userID, conversationID, window,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation store: window: %w", err)
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var turnID sql.NullString
		if err := rows.Scan(&m.Seq, &m.Role, &m.Content, &turnID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("conversation store: scan: %w", err)
		}
		m.RetrievalTurnID = turnID.String
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("conversation store: window: %w", err)
	}

	// Newest-first from the query, oldest-first for prompts.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

// Append stores the turn's messages and evicts history beyond
// window*evictionMultiple rows, FIFO.
func (s *Store) Append(ctx context.Context, userID, conversationID string, messages []Message, window int) error {
	if len(messages) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation store: append: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	if err := s.ensureConversation(ctx, tx, userID, conversationID, now); err != nil {
		return err
	}

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx,
		s.rebind(`SELECT MAX(seq) FROM conversation_messages
                  WHERE user_id = ? AND conversation_id = ?`),
		userID, conversationID,
	).Scan(&maxSeq)
	if err != nil {
		return fmt.Errorf("conversation store: next seq: %w", err)
	}

	seq := maxSeq.Int64
	for _, m := range messages {
		seq++
		var turnID any
		if m.RetrievalTurnID != "" {
			turnID = m.RetrievalTurnID
		}
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO conversation_messages
                      (user_id, conversation_id, seq, role, content, retrieval_turn_id, created_at)
                      VALUES (?, ?, ?, ?, ?, ?, ?)`),
			userID, conversationID, seq, m.Role, m.Content, turnID, now,
		)
		if err != nil {
			return fmt.Errorf("conversation store: insert message: %w", err)
		}
	}

	keep := int64(window * evictionMultiple)
	if keep > 0 {
		_, err = tx.ExecContext(ctx,
			s.rebind(`DELETE FROM conversation_messages
                      WHERE user_id = ? AND conversation_id = ? AND seq <= ?`),
			userID, conversationID, seq-keep,
		)
		if err != nil {
			return fmt.Errorf("conversation store: evict: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation store: commit: %w", err)
	}
	return nil
}

func (s *Store) ensureConversation(ctx context.Context, tx *sql.Tx, userID, conversationID string, now time.Time) error {
	res, err := tx.ExecContext(ctx,
		s.rebind(`UPDATE conversations SET last_active_at = ?
                  WHERE user_id = ? AND conversation_id = ?`),
		now, userID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("conversation store: touch: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n > 0 {
		return nil
	}
	_, err = tx.ExecContext(ctx,
		s.rebind(`INSERT INTO conversations (user_id, conversation_id, created_at, last_active_at)
                  VALUES (?, ?, ?, ?)`),
		userID, conversationID, now, now,
	)
	if err != nil {
		return fmt.Errorf("conversation store: create: %w", err)
	}
	return nil
}

// SetLastRetrieved atomically replaces the conversation's retrieved
// property set.
func (s *Store) SetLastRetrieved(ctx context.Context, userID, conversationID string, refs []RetrievedRef) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("conversation store: last retrieved: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		s.rebind(`DELETE FROM conversation_last_retrieved
                  WHERE user_id = ? AND conversation_id = ?`),
		userID, conversationID,
	)
	if err != nil {
		return fmt.Errorf("conversation store: clear last retrieved: %w", err)
	}
	for _, ref := range refs {
		_, err := tx.ExecContext(ctx,
			s.rebind(`INSERT INTO conversation_last_retrieved
                      (user_id, conversation_id, position, property_id, title, turn_id)
                      VALUES (?, ?, ?, ?, ?, ?)`),
			userID, conversationID, ref.Position, ref.PropertyID, ref.Title, ref.TurnID,
		)
		if err != nil {
			return fmt.Errorf("conversation store: insert last retrieved: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("conversation store: commit: %w", err)
	}
	return nil
}

// LastRetrieved returns the current retrieved set ordered by position.
func (s *Store) LastRetrieved(ctx context.Context, userID, conversationID string) ([]RetrievedRef, error) {
	rows, err := s.db.QueryContext(ctx,
		s.rebind(`SELECT position, property_id, title, turn_id
                  FROM conversation_last_retrieved
                  WHERE user_id = ? AND conversation_id = ?
                  ORDER BY position ASC`),
		userID, conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("conversation store: last retrieved: %w", err)
	}
	defer rows.Close()

	var refs []RetrievedRef
	for rows.Next() {
		var ref RetrievedRef
		var title sql.NullString
		if err := rows.Scan(&ref.Position, &ref.PropertyID, &title, &ref.TurnID); err != nil {
			return nil, fmt.Errorf("conversation store: scan: %w", err)
		}
		ref.Title = title.String
		refs = append(refs, ref)
	}
	return refs, rows.Err()
}

// MessageCount reports how many messages are stored for a conversation.
func (s *Store) MessageCount(ctx context.Context, userID, conversationID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		s.rebind(`SELECT COUNT(*) FROM conversation_messages
                  WHERE user_id = ? AND conversation_id = ?`),
		userID, conversationID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("conversation store: count: %w", err)
	}
	return n, nil
}

// LockConversation serializes state updates for one conversation. The
// returned function releases the lock.
func (s *Store) LockConversation(userID, conversationID string) (unlock func()) {
	key := userID + "\x00" + conversationID
	v, _ := s.convLocks.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Close releases the pool.
func (s *Store) Close() error {
	return s.db.Close()
}
