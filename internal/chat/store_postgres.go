package chat

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore is a Store backed by PostgreSQL.
//
// Ownership model:
// - PostgresStore does NOT own the pgx pool. The caller must close the pool.
// - Close() is therefore a no-op.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "parley").
// The schema name is validated and safely quoted in queries.
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return errors.New("chat: empty schema")
		}
		if !isValidPGIdent(schema) {
			return errors.New("chat: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a Postgres-backed Store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{
		pool:   pool,
		schema: "parley",
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("chat: nil pool")
	}
	return st, nil
}

// Close is a no-op because the pool is owned by the caller.
func (s *PostgresStore) Close() error { return nil }

// CreateRoom inserts a room with a fresh id.
func (s *PostgresStore) CreateRoom(ctx context.Context, name string, now time.Time) (Room, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Room{}, errors.New("chat: empty room name")
	}

	id, err := newID(now)
	if err != nil {
		return Room{}, err
	}

	rooms := pgIdent(s.schema, "rooms")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+rooms+` (id, name, created_at) VALUES ($1, $2, $3)`,
		id, name, now,
	); err != nil {
		return Room{}, fmt.Errorf("insert room: %w", err)
	}

	return Room{ID: id, Name: name, CreatedAt: now}, nil
}

// ListRooms returns all rooms ordered by creation time.
func (s *PostgresStore) ListRooms(ctx context.Context) ([]Room, error) {
	rooms := pgIdent(s.schema, "rooms")

	rows, err := s.pool.Query(ctx,
		`SELECT id, name, created_at FROM `+rooms+` ORDER BY created_at ASC, id ASC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Room
	for rows.Next() {
		var r Room
		if err := rows.Scan(&r.ID, &r.Name, &r.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// RoomExists reports whether roomID is present.
func (s *PostgresStore) RoomExists(ctx context.Context, roomID string) (bool, error) {
	if strings.TrimSpace(roomID) == "" {
		return false, nil
	}

	rooms := pgIdent(s.schema, "rooms")

	var one int
	err := s.pool.QueryRow(ctx,
		`SELECT 1 FROM `+rooms+` WHERE id = $1`, roomID,
	).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// CreateUser inserts a user with a fresh id.
func (s *PostgresStore) CreateUser(ctx context.Context, username string, now time.Time) (User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return User{}, errors.New("chat: empty username")
	}

	id, err := newID(now)
	if err != nil {
		return User{}, err
	}

	users := pgIdent(s.schema, "users")
	if _, err := s.pool.Exec(ctx,
		`INSERT INTO `+users+` (id, username, created_at) VALUES ($1, $2, $3)`,
		id, username, now,
	); err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	return User{ID: id, Username: username, CreatedAt: now}, nil
}

// UserExists reports presence and the display name.
func (s *PostgresStore) UserExists(ctx context.Context, userID string) (bool, string, error) {
	if strings.TrimSpace(userID) == "" {
		return false, "", nil
	}

	users := pgIdent(s.schema, "users")

	var username string
	err := s.pool.QueryRow(ctx,
		`SELECT username FROM `+users+` WHERE id = $1`, userID,
	).Scan(&username)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, "", nil
	}
	if err != nil {
		return false, "", err
	}
	return true, username, nil
}

// AddRoomMember upserts membership.
func (s *PostgresStore) AddRoomMember(ctx context.Context, roomID, userID string) error {
	members := pgIdent(s.schema, "room_members")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+members+` (room_id, user_id) VALUES ($1, $2)
		 ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userID,
	)
	return err
}

// AppendMessage inserts one message row.
func (s *PostgresStore) AppendMessage(ctx context.Context, msg Message) error {
	if msg.RoomID == "" || msg.UserID == "" || msg.ID == "" {
		return errors.New("chat: invalid message")
	}

	messages := pgIdent(s.schema, "messages")

	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+messages+` (id, room_id, user_id, username, content, sent_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		msg.ID, msg.RoomID, msg.UserID, msg.Username, msg.Content, msg.SentAt,
	)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}
	return nil
}

// RecentMessages returns up to limit of the newest messages, oldest first.
func (s *PostgresStore) RecentMessages(ctx context.Context, roomID string, limit int) ([]Message, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 200 {
		limit = 200
	}

	messages := pgIdent(s.schema, "messages")

	rows, err := s.pool.Query(ctx,
		`SELECT id, room_id, user_id, username, content, sent_at
		   FROM (
		     SELECT id, room_id, user_id, username, content, sent_at
		       FROM `+messages+`
		      WHERE room_id = $1
		      ORDER BY sent_at DESC, id DESC
		      LIMIT $2
		   ) newest
		  ORDER BY sent_at ASC, id ASC`,
		roomID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]Message, 0, limit)
	for rows.Next() {
		var m Message
		if err := rows.Scan(&m.ID, &m.RoomID, &m.UserID, &m.Username, &m.Content, &m.SentAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

var pgIdentRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

func isValidPGIdent(s string) bool {
	return pgIdentRE.MatchString(s)
}

func pgIdent(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}
