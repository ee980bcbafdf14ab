package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/companion/backend/internal/model/chat"
	"github.com/zhouzirui/companion/backend/internal/repository"
)

// DBTX is the subset of pgxpool.Pool and pgx.Tx the store needs.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// Store implements repository.Remote.
type Store struct {
	db  DBTX
	log zerolog.Logger
}

// NewStore wraps a pool or transaction.
func NewStore(db DBTX, log zerolog.Logger) *Store {
	return &Store{db: db, log: log.With().Str("component", "remote").Logger()}
}

var _ repository.Remote = (*Store)(nil)

func (s *Store) Messages(ctx context.Context, userID, chatID string) ([]chat.Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id::text, sender, text, created_at, user_id::text
		FROM messages
		WHERE user_id = $1 AND chat_id = $2
		ORDER BY created_at ASC
	`, userID, chatID)
	if err != nil {
		return nil, fmt.Errorf("select messages: %w", err)
	}

	msgs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (chat.Message, error) {
		var (
			m      chat.Message
			sender string
		)
		if err := row.Scan(&m.ID, &sender, &m.Text, &m.CreatedAt, &m.UserID); err != nil {
			return chat.Message{}, err
		}
		m.Sender = chat.Sender(sender)
		m.CreatedAt = m.CreatedAt.UTC()
		return m, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan messages: %w", err)
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	return msgs, nil
}

func (s *Store) InsertMessages(ctx context.Context, userID, chatID string, msgs ...chat.Message) error {
	if len(msgs) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, m := range msgs {
		batch.Queue(`
			INSERT INTO messages (user_id, chat_id, sender, text, created_at)
			VALUES ($1, $2, $3, $4, $5)
		`, userID, chatID, string(m.Sender), m.Text, m.CreatedAt)
	}
	br := s.db.SendBatch(ctx, batch)
	defer br.Close()
	for range msgs {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
	}
	return nil
}

func (s *Store) Profile(ctx context.Context, userID string) (repository.Profile, error) {
	p := repository.Profile{ID: userID}
	var name *string
	err := s.db.QueryRow(ctx, `
		SELECT name, birthdate
		FROM profiles
		WHERE id = $1
	`, userID).Scan(&name, &p.Birthdate)
	if errors.Is(err, pgx.ErrNoRows) {
		return repository.Profile{}, repository.ErrNotFound
	}
	if err != nil {
		return repository.Profile{}, fmt.Errorf("get profile: %w", err)
	}
	if name != nil {
		p.Name = *name
	}
	return p, nil
}

func (s *Store) UpsertProfile(ctx context.Context, p repository.Profile) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO profiles (id, name, birthdate)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			birthdate = EXCLUDED.birthdate
	`, p.ID, p.Name, p.Birthdate)
	if err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (s *Store) InsertFeedback(ctx context.Context, f repository.Feedback) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.Exec(ctx, `
		INSERT INTO feedback (user_id, message, rating, created_at)
		VALUES ($1, $2, $3, $4)
	`, f.UserID, f.Message, f.Rating, f.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert feedback: %w", err)
	}
	return nil
}
