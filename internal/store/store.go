package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/andresmejia3/facegate/internal/types"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
)

var (
	// ErrNotFound is returned when a user lookup matches no row.
	ErrNotFound = errors.New("not found")
	// ErrUsernameTaken is returned by CreateUser when the username already exists.
	ErrUsernameTaken = errors.New("username already exists")
)

// Store manages the PostgreSQL connection pool and pgvector operations.
type Store struct {
	pool *pgxpool.Pool
}

// New establishes a connection pool to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("invalid connection string: %w", err)
	}

	// The vector extension must exist before its type can be registered on a connection.
	if err := ensureExtension(ctx, connString); err != nil {
		return nil, err
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

func ensureExtension(ctx context.Context, connString string) error {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)

	if _, err := conn.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	return nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
// face_embedding keeps the exact vector handed back to the worker on verify. face_vector is a
// float32 pgvector copy used only for similarity ranking. Neither has a fixed dimension.
func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	query := `
		CREATE TABLE IF NOT EXISTS users (
			id SERIAL PRIMARY KEY,
			username TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			name TEXT NOT NULL,
			type TEXT NOT NULL CHECK (type IN ('INDIVIDUAL', 'ORGANIZATION')),
			signature TEXT,
			face_embedding DOUBLE PRECISION[],
			face_vector VECTOR,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		ALTER TABLE users ADD COLUMN IF NOT EXISTS face_vector VECTOR;
		DO $$
		BEGIN
			-- Older databases kept only a float32 VECTOR in face_embedding.
			IF EXISTS (SELECT 1 FROM information_schema.columns
				WHERE table_name = 'users' AND column_name = 'face_embedding' AND udt_name = 'vector') THEN
				UPDATE users SET face_vector = face_embedding;
				ALTER TABLE users ALTER COLUMN face_embedding TYPE DOUBLE PRECISION[]
					USING face_embedding::real[]::double precision[];
			END IF;
		END $$;
		CREATE TABLE IF NOT EXISTS messages (
			id BIGSERIAL PRIMARY KEY,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			is_face_verified BOOLEAN NOT NULL DEFAULT FALSE,
			is_digitally_verified BOOLEAN NOT NULL DEFAULT FALSE,
			sent_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			sender_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			receiver_id INT NOT NULL REFERENCES users(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS messages_receiver_idx ON messages (receiver_id, sent_at DESC);
		CREATE INDEX IF NOT EXISTS messages_sender_idx ON messages (sender_id, sent_at DESC);
	`
	_, err := pool.Exec(ctx, query)
	return err
}

// Close terminates all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

const userColumns = `id, username, password_hash, name, type, COALESCE(signature, ''), face_embedding IS NOT NULL, created_at`

func scanUser(row pgx.Row) (types.User, error) {
	var u types.User
	var userType string
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Name, &userType, &u.Signature, &u.HasFace, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return types.User{}, ErrNotFound
	}
	u.Type = types.UserType(userType)
	return u, err
}

// CreateUser inserts a new account, optionally with its face embedding, and returns it.
func (s *Store) CreateUser(ctx context.Context, nu types.NewUser) (types.User, error) {
	var embedding, vector any
	if len(nu.Embedding) > 0 {
		embedding = []float64(nu.Embedding)
		vector = pgvector.NewVector(nu.Embedding.Float32())
	}
	var signature any
	if nu.Signature != "" {
		signature = nu.Signature
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO users (username, password_hash, name, type, signature, face_embedding, face_vector)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+userColumns,
		nu.Username, nu.PasswordHash, nu.Name, string(nu.Type), signature, embedding, vector)

	u, err := scanUser(row)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return types.User{}, ErrUsernameTaken
	}
	return u, err
}

// GetUserByUsername looks up an account by its login name.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (types.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username))
}

// GetUserByID looks up an account by id.
func (s *Store) GetUserByID(ctx context.Context, id int) (types.User, error) {
	return scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// ListUsers returns every account ordered by display name.
func (s *Store) ListUsers(ctx context.Context) ([]types.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY name ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []types.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// SetFaceEmbedding enrolls (or replaces) the face embedding of a user.
func (s *Store) SetFaceEmbedding(ctx context.Context, userID int, e types.Embedding) error {
	if len(e) == 0 {
		return errors.New("embedding is empty")
	}
	tag, err := s.pool.Exec(ctx, `UPDATE users SET face_embedding = $1, face_vector = $2 WHERE id = $3`,
		[]float64(e), pgvector.NewVector(e.Float32()), userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// GetFaceEmbedding returns the enrolled embedding exactly as it was stored, or nil if the
// user has none.
func (s *Store) GetFaceEmbedding(ctx context.Context, userID int) (types.Embedding, error) {
	var v []float64
	err := s.pool.QueryRow(ctx, `SELECT face_embedding FROM users WHERE id = $1`, userID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if len(v) == 0 {
		return nil, nil
	}
	return types.Embedding(v), nil
}

// FindClosestUsers ranks enrolled users by cosine distance to e, closest first.
// Users enrolled with a different dimension are ignored.
func (s *Store) FindClosestUsers(ctx context.Context, e types.Embedding, limit int) ([]types.SimilarUser, error) {
	if len(e) == 0 {
		return nil, errors.New("embedding is empty")
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, username, name, face_vector <=> $1 AS distance
		FROM users
		WHERE face_vector IS NOT NULL AND vector_dims(face_vector) = $2
		ORDER BY distance ASC, id ASC
		LIMIT $3
	`, pgvector.NewVector(e.Float32()), len(e), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []types.SimilarUser
	for rows.Next() {
		var u types.SimilarUser
		if err := rows.Scan(&u.ID, &u.Username, &u.Name, &u.Distance); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

// CreateMessage stores a message and returns it joined with both participants.
func (s *Store) CreateMessage(ctx context.Context, nm types.NewMessage) (types.Message, error) {
	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO messages (subject, body, is_face_verified, is_digitally_verified, sender_id, receiver_id)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`, nm.Subject, nm.Body, nm.IsFaceVerified, nm.IsDigitallyVerified, nm.SenderID, nm.ReceiverID).Scan(&id)
	if err != nil {
		return types.Message{}, err
	}

	msgs, err := s.queryMessages(ctx, `WHERE m.id = $1`, id)
	if err != nil {
		return types.Message{}, err
	}
	if len(msgs) == 0 {
		return types.Message{}, ErrNotFound
	}
	return msgs[0], nil
}

// ListInbox returns messages received by userID, newest first.
func (s *Store) ListInbox(ctx context.Context, userID int) ([]types.Message, error) {
	return s.queryMessages(ctx, `WHERE m.receiver_id = $1`, userID)
}

// ListSent returns messages sent by userID, newest first.
func (s *Store) ListSent(ctx context.Context, userID int) ([]types.Message, error) {
	return s.queryMessages(ctx, `WHERE m.sender_id = $1`, userID)
}

// ListAllMessages returns every message, newest first.
func (s *Store) ListAllMessages(ctx context.Context) ([]types.Message, error) {
	return s.queryMessages(ctx, ``)
}

func (s *Store) queryMessages(ctx context.Context, where string, args ...any) ([]types.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.subject, m.body, m.is_face_verified, m.is_digitally_verified, m.sent_at,
			snd.id, snd.name, snd.type, COALESCE(snd.signature, ''),
			rcv.id, rcv.name, rcv.type
		FROM messages m
		JOIN users snd ON snd.id = m.sender_id
		JOIN users rcv ON rcv.id = m.receiver_id
		`+where+`
		ORDER BY m.sent_at DESC, m.id DESC
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []types.Message
	for rows.Next() {
		var m types.Message
		var fromType, toType string
		if err := rows.Scan(&m.ID, &m.Subject, &m.Body, &m.IsFaceVerified, &m.IsDigitallyVerified, &m.Timestamp,
			&m.From.ID, &m.From.Name, &fromType, &m.From.Signature,
			&m.To.ID, &m.To.Name, &toType); err != nil {
			return nil, err
		}
		m.From.Type = types.UserType(fromType)
		m.To.Type = types.UserType(toType)
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		DROP TABLE IF EXISTS messages CASCADE;
		DROP TABLE IF EXISTS users CASCADE;
	`)
	return err
}
