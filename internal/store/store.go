// Package store is the message/room/participant persistence gateway (C2).
// It owns a pgx connection pool and exposes a fixed operation set over
// rooms, participants and messages — every statement is parameterized and batch
// operations compose a single round trip, following the teacher's
// db.Connect/pgxpool wiring (kartnagrale-orange-city-mart/backend/db).
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/kartnagrale/relaychat/internal/chaterr"
	"github.com/kartnagrale/relaychat/internal/chattypes"
)

// Store wraps a pgx pool. Unlike the teacher's package-level db.Pool
// variable, it is held as a value so its users (session, pipeline, REST
// collaborator) can take it as an explicit dependency —
// the same shape rexlx-squall's Database interface expects from its
// PostgresDB implementation.
type Store struct {
	pool *pgxpool.Pool
}

// Open parses dsn (the DATABASE_URL env var, §6) and connects a pool,
// using the simple query protocol the teacher adopts for pooler
// compatibility.
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("store: parse DATABASE_URL: %w", err)
	}
	cfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("store: create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("store: ping: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases the pool.
func (s *Store) Close() { s.pool.Close() }

// CreateTables ensures the chat_room, chat_users and message tables exist.
func (s *Store) CreateTables(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS chat_room (
			id         SERIAL PRIMARY KEY,
			title      TEXT NOT NULL,
			owner_id   INTEGER NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS chat_users (
			room_id   INTEGER NOT NULL REFERENCES chat_room(id),
			user_id   INTEGER NOT NULL,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (room_id, user_id)
		);

		CREATE TABLE IF NOT EXISTS message (
			id             SERIAL PRIMARY KEY,
			from_id        INTEGER NOT NULL,
			to_id          INTEGER NOT NULL REFERENCES chat_room(id),
			content        JSONB NOT NULL,
			time_sent      TIMESTAMPTZ NOT NULL,
			time_delivered JSONB NOT NULL DEFAULT '[]',
			time_seen      JSONB NOT NULL DEFAULT '[]'
		);
	`)
	if err != nil {
		return chaterr.NewStoreError("create_tables", err)
	}
	return nil
}

// InsertChatRoom creates a room owned by ownerID.
func (s *Store) InsertChatRoom(ctx context.Context, title string, ownerID chattypes.UserID) (chattypes.ChatRoom, error) {
	var room chattypes.ChatRoom
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_room (title, owner_id)
		VALUES ($1, $2)
		RETURNING id, title, owner_id, created_at, updated_at`,
		title, ownerID,
	).Scan(&room.ID, &room.Title, &room.OwnerID, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return chattypes.ChatRoom{}, chaterr.NewStoreError("insert_chat_room", err)
	}
	return room, nil
}

// GetChatRoom fetches a room by id.
func (s *Store) GetChatRoom(ctx context.Context, id chattypes.RoomID) (chattypes.ChatRoom, error) {
	var room chattypes.ChatRoom
	err := s.pool.QueryRow(ctx, `
		SELECT id, title, owner_id, created_at, updated_at
		FROM chat_room WHERE id = $1`,
		id,
	).Scan(&room.ID, &room.Title, &room.OwnerID, &room.CreatedAt, &room.UpdatedAt)
	if err != nil {
		return chattypes.ChatRoom{}, chaterr.NewStoreError("get_chat_room", err)
	}
	return room, nil
}

// UpdateChatRoom updates a room's title and bumps updated_at.
func (s *Store) UpdateChatRoom(ctx context.Context, room chattypes.ChatRoom) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_room SET title = $1, updated_at = now() WHERE id = $2`,
		room.Title, room.ID,
	)
	if err != nil {
		return chaterr.NewStoreError("update_chat_room", err)
	}
	return nil
}

// FetchAllUserChatRooms returns every room userID participates in.
func (s *Store) FetchAllUserChatRooms(ctx context.Context, userID chattypes.UserID) ([]chattypes.ChatRoom, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.title, r.owner_id, r.created_at, r.updated_at
		FROM chat_room r
		JOIN chat_users cu ON cu.room_id = r.id
		WHERE cu.user_id = $1`,
		userID,
	)
	if err != nil {
		return nil, chaterr.NewStoreError("fetch_all_user_chat_rooms", err)
	}
	defer rows.Close()

	var rooms []chattypes.ChatRoom
	for rows.Next() {
		var r chattypes.ChatRoom
		if err := rows.Scan(&r.ID, &r.Title, &r.OwnerID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, chaterr.NewStoreError("fetch_all_user_chat_rooms_scan", err)
		}
		rooms = append(rooms, r)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.NewStoreError("fetch_all_user_chat_rooms_rows", err)
	}
	return rooms, nil
}

// InsertChatRoomParticipants batch-inserts userIDs into roomID's
// membership with the current timestamp, composing a single statement via
// unnest instead of N round trips.
func (s *Store) InsertChatRoomParticipants(ctx context.Context, roomID chattypes.RoomID, userIDs []chattypes.UserID) error {
	if len(userIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO chat_users (room_id, user_id, joined_at)
		SELECT $1, uid, now() FROM unnest($2::int[]) AS uid
		ON CONFLICT (room_id, user_id) DO NOTHING`,
		roomID, userIDs,
	)
	if err != nil {
		return chaterr.NewStoreError("insert_chat_room_participants", err)
	}
	return nil
}

// GetChatRoomParticipants returns roomID's durable membership list.
func (s *Store) GetChatRoomParticipants(ctx context.Context, roomID chattypes.RoomID) ([]chattypes.Participant, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT room_id, user_id, joined_at FROM chat_users WHERE room_id = $1`,
		roomID,
	)
	if err != nil {
		return nil, chaterr.NewStoreError("get_chat_room_participants", err)
	}
	defer rows.Close()

	var out []chattypes.Participant
	for rows.Next() {
		var p chattypes.Participant
		if err := rows.Scan(&p.RoomID, &p.UserID, &p.JoinedAt); err != nil {
			return nil, chaterr.NewStoreError("get_chat_room_participants_scan", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.NewStoreError("get_chat_room_participants_rows", err)
	}
	return out, nil
}

// DeleteChatRoomParticipant removes one durable membership row.
func (s *Store) DeleteChatRoomParticipant(ctx context.Context, roomID chattypes.RoomID, userID chattypes.UserID) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM chat_users WHERE room_id = $1 AND user_id = $2`,
		roomID, userID,
	)
	if err != nil {
		return chaterr.NewStoreError("delete_chat_room_participant", err)
	}
	return nil
}

func scanMessage(row pgx.Row) (chattypes.ChatMessage, error) {
	var m chattypes.ChatMessage
	var contentRaw, deliveredRaw, seenRaw []byte
	if err := row.Scan(&m.ID, &m.FromID, &m.ToID, &contentRaw, &m.TimeSent, &deliveredRaw, &seenRaw); err != nil {
		return chattypes.ChatMessage{}, err
	}
	if err := json.Unmarshal(contentRaw, &m.Content); err != nil {
		return chattypes.ChatMessage{}, fmt.Errorf("decode content column: %w", err)
	}
	if len(deliveredRaw) > 0 {
		if err := json.Unmarshal(deliveredRaw, &m.TimeDelivered); err != nil {
			return chattypes.ChatMessage{}, fmt.Errorf("decode time_delivered column: %w", err)
		}
	}
	if len(seenRaw) > 0 {
		if err := json.Unmarshal(seenRaw, &m.TimeSeen); err != nil {
			return chattypes.ChatMessage{}, fmt.Errorf("decode time_seen column: %w", err)
		}
	}
	return m, nil
}

const messageColumns = `id, from_id, to_id, content, time_sent, time_delivered, time_seen`

// GetMessage fetches a single message by id.
func (s *Store) GetMessage(ctx context.Context, id chattypes.MessageID) (chattypes.ChatMessage, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+messageColumns+` FROM message WHERE id = $1`, id)
	m, err := scanMessage(row)
	if err != nil {
		return chattypes.ChatMessage{}, chaterr.NewStoreError("get_message", err)
	}
	return m, nil
}

// InsertMessage persists msg and returns the id the store assigned.
// msg.ID, msg.TimeDelivered and msg.TimeSeen are ignored on input — a
// freshly sent message always starts with empty update lists.
func (s *Store) InsertMessage(ctx context.Context, msg chattypes.ChatMessage) (chattypes.MessageID, error) {
	contentRaw, err := json.Marshal(msg.Content)
	if err != nil {
		return 0, chaterr.NewStoreError("insert_message_encode", err)
	}
	timeSent := msg.TimeSent
	if timeSent.IsZero() {
		timeSent = time.Now().UTC()
	}

	var id chattypes.MessageID
	err = s.pool.QueryRow(ctx, `
		INSERT INTO message (from_id, to_id, content, time_sent, time_delivered, time_seen)
		VALUES ($1, $2, $3, $4, '[]', '[]')
		RETURNING id`,
		msg.FromID, msg.ToID, contentRaw, timeSent,
	).Scan(&id)
	if err != nil {
		return 0, chaterr.NewStoreError("insert_message", err)
	}
	return id, nil
}

// UpdateMessage persists msg.TimeDelivered and msg.TimeSeen only — every
// other column of a message is immutable once inserted.
func (s *Store) UpdateMessage(ctx context.Context, msg chattypes.ChatMessage) error {
	deliveredRaw, err := json.Marshal(msg.TimeDelivered)
	if err != nil {
		return chaterr.NewStoreError("update_message_encode_delivered", err)
	}
	seenRaw, err := json.Marshal(msg.TimeSeen)
	if err != nil {
		return chaterr.NewStoreError("update_message_encode_seen", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE message SET time_delivered = $1, time_seen = $2 WHERE id = $3`,
		deliveredRaw, seenRaw, msg.ID,
	)
	if err != nil {
		return chaterr.NewStoreError("update_message", err)
	}
	return nil
}

// FetchMessagesWithIds fetches every message whose id is in ids.
func (s *Store) FetchMessagesWithIds(ctx context.Context, ids []chattypes.MessageID) ([]chattypes.ChatMessage, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+` FROM message WHERE id = ANY($1::int[])`,
		ids,
	)
	if err != nil {
		return nil, chaterr.NewStoreError("fetch_messages_with_ids", err)
	}
	defer rows.Close()

	var out []chattypes.ChatMessage
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, chaterr.NewStoreError("fetch_messages_with_ids_scan", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, chaterr.NewStoreError("fetch_messages_with_ids_rows", err)
	}
	return out, nil
}
