package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GetUser loads a user by id.
func (g *Gateway) GetUser(ctx context.Context, id int64) (*User, error) {
	query := `SELECT id, username, sex FROM users WHERE id = $1`

	var user User
	err := g.withRetry(ctx, "get_user", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username, &user.Sex)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &user, nil
}

// RoomsWithUsers returns (user, room) member rows for every active room the
// given user belongs to, using the configured join query.
func (g *Gateway) RoomsWithUsers(ctx context.Context, userID int64) ([]RoomUserRow, error) {
	var result []RoomUserRow
	err := g.withRetry(ctx, "rooms_with_users", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, g.userRoomsQuery, userID)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var r RoomUserRow
			if err := rows.Scan(&r.UserID, &r.Username, &r.Sex, &r.RoomID, &r.RoomName); err != nil {
				return err
			}
			result = append(result, r)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RoomUsers returns the members of one room.
func (g *Gateway) RoomUsers(ctx context.Context, roomID int64) ([]User, error) {
	query := `
		SELECT u.id, u.username, u.sex
		FROM users u
		JOIN room_users ru ON ru.user_id = u.id
		WHERE ru.room_id = $1
		ORDER BY u.id`

	var result []User
	err := g.withRetry(ctx, "room_users", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, query, roomID)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var u User
			if err := rows.Scan(&u.ID, &u.Username, &u.Sex); err != nil {
				return err
			}
			result = append(result, u)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateRoom inserts a room. A nil name creates a direct (private) room.
func (g *Gateway) CreateRoom(ctx context.Context, name *string) (int64, error) {
	query := `INSERT INTO rooms (name, is_private) VALUES ($1, $1 IS NULL) RETURNING id`

	var id int64
	err := g.withRetry(ctx, "create_room", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, name).Scan(&id)
	})
	return id, err
}

// GetRoom loads a room by id.
func (g *Gateway) GetRoom(ctx context.Context, id int64) (*Room, error) {
	query := `SELECT id, name, disabled, is_private FROM rooms WHERE id = $1`

	var room Room
	err := g.withRetry(ctx, "get_room", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, id).Scan(&room.ID, &room.Name, &room.Disabled, &room.IsPrivate)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

// CreateMembership adds a user to a room. An existing pair maps to
// ErrAlreadyMember via the unique constraint.
func (g *Gateway) CreateMembership(ctx context.Context, roomID, userID int64) error {
	query := `INSERT INTO room_users (room_id, user_id) VALUES ($1, $2)`

	err := g.withRetry(ctx, "create_membership", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, query, roomID, userID)
		return err
	})
	if isUniqueViolation(err) {
		return ErrAlreadyMember
	}
	return err
}

// DeleteRoomMember removes a membership row.
func (g *Gateway) DeleteRoomMember(ctx context.Context, roomID, userID int64) error {
	query := `DELETE FROM room_users WHERE room_id = $1 AND user_id = $2`

	return g.withRetry(ctx, "delete_room_member", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, query, roomID, userID)
		return err
	})
}

// DisableRoom tombstones a direct room.
func (g *Gateway) DisableRoom(ctx context.Context, roomID int64) error {
	query := `UPDATE rooms SET disabled = TRUE WHERE id = $1`

	return g.withRetry(ctx, "disable_room", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, query, roomID)
		return err
	})
}

// ClearRoomDisabled un-tombstones a room, keeping its original id.
func (g *Gateway) ClearRoomDisabled(ctx context.Context, roomID int64) error {
	query := `UPDATE rooms SET disabled = NULL WHERE id = $1`

	return g.withRetry(ctx, "clear_room_disabled", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, query, roomID)
		return err
	})
}

// DirectRoom finds the direct room between two users, tombstoned or not,
// using the configured join query. ErrNotFound when no such room exists.
func (g *Gateway) DirectRoom(ctx context.Context, userA, userB int64) (*DirectRoom, error) {
	var room DirectRoom
	err := g.withRetry(ctx, "direct_room", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, g.directRoomQuery, userA, userB).Scan(&room.ID, &room.Disabled)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &room, nil
}

// InsertMessage appends a message, filling its id and millisecond timestamp.
func (g *Gateway) InsertMessage(ctx context.Context, m *Message) error {
	query := `
		INSERT INTO messages (sender_id, receiver_id, room_id, content, image, time)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	m.Time = time.Now().UnixMilli()
	return g.withRetry(ctx, "insert_message", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query,
			m.SenderID, m.ReceiverID, m.RoomID, m.Content, m.Image, m.Time,
		).Scan(&m.ID)
	})
}

// MessagesBefore returns up to limit messages visible to the viewer, newest
// first. Visible means public, sent by the viewer, or addressed to the
// viewer. A non-nil headerID restricts to ids strictly below it.
func (g *Gateway) MessagesBefore(ctx context.Context, viewerID int64, headerID *int64, limit int) ([]Message, error) {
	query := `
		SELECT m.id, m.sender_id, m.receiver_id, m.room_id, m.content, m.image, m.time, ru.username
		FROM messages m
		LEFT JOIN users ru ON ru.id = m.receiver_id
		WHERE (m.receiver_id IS NULL OR m.sender_id = $1 OR m.receiver_id = $1)`
	args := []any{viewerID}
	if headerID != nil {
		query += ` AND m.id < $2 ORDER BY m.id DESC LIMIT $3`
		args = append(args, *headerID, limit)
	} else {
		query += ` ORDER BY m.id DESC LIMIT $2`
		args = append(args, limit)
	}

	var result []Message
	err := g.withRetry(ctx, "messages_before", func(pool *pgxpool.Pool) error {
		rows, err := pool.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		result = result[:0]
		for rows.Next() {
			var m Message
			if err := rows.Scan(&m.ID, &m.SenderID, &m.ReceiverID, &m.RoomID, &m.Content, &m.Image, &m.Time, &m.ReceiverName); err != nil {
				return err
			}
			result = append(result, m)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// UserJoinedExists reports whether a (user, ip) connection event is already
// recorded.
func (g *Gateway) UserJoinedExists(ctx context.Context, userID int64, ip string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM user_joined_info j
			JOIN ip_address i ON i.id = j.ip_id
			WHERE j.user_id = $1 AND i.ip = $2
		)`

	var exists bool
	err := g.withRetry(ctx, "user_joined_exists", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, userID, ip).Scan(&exists)
	})
	return exists, err
}

// GetIP loads an ip record by literal.
func (g *Gateway) GetIP(ctx context.Context, ip string) (*IPAddress, error) {
	query := `SELECT id, ip, isp, country, country_code, region, city FROM ip_address WHERE ip = $1`

	var rec IPAddress
	err := g.withRetry(ctx, "get_ip", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query, ip).Scan(
			&rec.ID, &rec.IP, &rec.ISP, &rec.Country, &rec.CountryCode, &rec.Region, &rec.City,
		)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// InsertIP creates an ip record, filling its id.
func (g *Gateway) InsertIP(ctx context.Context, rec *IPAddress) error {
	query := `
		INSERT INTO ip_address (ip, isp, country, country_code, region, city)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`

	return g.withRetry(ctx, "insert_ip", func(pool *pgxpool.Pool) error {
		return pool.QueryRow(ctx, query,
			rec.IP, rec.ISP, rec.Country, rec.CountryCode, rec.Region, rec.City,
		).Scan(&rec.ID)
	})
}

// InsertUserJoined records a (user, ip) connection event.
func (g *Gateway) InsertUserJoined(ctx context.Context, userID, ipID int64) error {
	query := `INSERT INTO user_joined_info (user_id, ip_id) VALUES ($1, $2)`

	err := g.withRetry(ctx, "insert_user_joined", func(pool *pgxpool.Pool) error {
		_, err := pool.Exec(ctx, query, userID, ipID)
		return err
	})
	if isUniqueViolation(err) {
		// Concurrent first sighting of the same pair; the row is there
		return nil
	}
	return err
}
