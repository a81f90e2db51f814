package postgres

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/gamestation/internal/station"
)

// SessionRepository resolves session rosters. It implements
// station.SessionDirectory.
type SessionRepository struct {
	db *pgxpool.Pool
}

var _ station.SessionDirectory = (*SessionRepository)(nil)

// NewSessionRepository creates a SessionRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

func toUserIDs(ids []int64) []station.UserID {
	out := make([]station.UserID, len(ids))
	for i, id := range ids {
		out[i] = station.UserID(id)
	}
	return out
}

// GetSession returns the active session with its participants in roster
// order.
//
// Postcondition: Returns an error wrapping station.ErrSessionNotFound when no
// such session exists or it has been deactivated.
func (r *SessionRepository) GetSession(ctx context.Context, id station.SessionID) (*station.SessionInfo, error) {
	var (
		info         station.SessionInfo
		sid          int64
		gameType     string
		creator      int64
		participants []int64
	)
	err := r.db.QueryRow(ctx,
		`SELECT s.id, g.game_type, s.creator_id,
		        COALESCE(array_agg(p.user_id ORDER BY p.position) FILTER (WHERE p.user_id IS NOT NULL), '{}')
		 FROM game_sessions s
		 JOIN games g ON g.id = s.game_id
		 LEFT JOIN game_session_participants p ON p.session_id = s.id
		 WHERE s.id = $1 AND s.active
		 GROUP BY s.id, g.game_type, s.creator_id`,
		int64(id),
	).Scan(&sid, &gameType, &creator, &participants)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("session %d: %w", id, station.ErrSessionNotFound)
		}
		return nil, fmt.Errorf("querying session %d: %w", id, err)
	}
	info.ID = station.SessionID(sid)
	info.GameType = station.GameType(gameType)
	info.CreatorID = station.UserID(creator)
	info.Participants = toUserIDs(participants)
	return &info, nil
}

// GetActiveSessions returns every active session userID participates in,
// ordered by session id.
func (r *SessionRepository) GetActiveSessions(ctx context.Context, userID station.UserID) ([]station.SessionInfo, error) {
	rows, err := r.db.Query(ctx,
		`SELECT s.id, g.game_type, s.creator_id,
		        array_agg(p.user_id ORDER BY p.position)
		 FROM game_sessions s
		 JOIN games g ON g.id = s.game_id
		 JOIN game_session_participants me ON me.session_id = s.id AND me.user_id = $1
		 JOIN game_session_participants p ON p.session_id = s.id
		 WHERE s.active
		 GROUP BY s.id, g.game_type, s.creator_id
		 ORDER BY s.id`,
		int64(userID),
	)
	if err != nil {
		return nil, fmt.Errorf("querying active sessions for user %d: %w", userID, err)
	}
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (station.SessionInfo, error) {
		var (
			info         station.SessionInfo
			sid          int64
			gameType     string
			creator      int64
			participants []int64
		)
		if err := row.Scan(&sid, &gameType, &creator, &participants); err != nil {
			return station.SessionInfo{}, err
		}
		info.ID = station.SessionID(sid)
		info.GameType = station.GameType(gameType)
		info.CreatorID = station.UserID(creator)
		info.Participants = toUserIDs(participants)
		return info, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning active sessions for user %d: %w", userID, err)
	}
	return out, nil
}

// Create inserts an active session with participants in the given order.
//
// Precondition: creator must be one of participants.
// Postcondition: Returns the new session id, an error wrapping
// station.ErrUnknownGameType when game is not registered, or one wrapping
// station.ErrNotParticipant when the creator is missing from the roster.
func (r *SessionRepository) Create(ctx context.Context, game station.GameType, creator station.UserID, participants []station.UserID) (station.SessionID, error) {
	if !slices.Contains(participants, creator) {
		return 0, fmt.Errorf("creator %d: %w", creator, station.ErrNotParticipant)
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var gameID int64
	err = tx.QueryRow(ctx, `SELECT id FROM games WHERE game_type = $1`, string(game)).Scan(&gameID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, fmt.Errorf("game %q: %w", game, station.ErrUnknownGameType)
		}
		return 0, fmt.Errorf("querying game %q: %w", game, err)
	}

	var id int64
	err = tx.QueryRow(ctx,
		`INSERT INTO game_sessions (game_id, creator_id) VALUES ($1, $2) RETURNING id`,
		gameID, int64(creator),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting session: %w", err)
	}

	_, err = tx.CopyFrom(ctx,
		pgx.Identifier{"game_session_participants"},
		[]string{"session_id", "user_id", "position"},
		pgx.CopyFromSlice(len(participants), func(i int) ([]any, error) {
			return []any{id, int64(participants[i]), i}, nil
		}),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting participants: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("committing session: %w", err)
	}
	return station.SessionID(id), nil
}

// Deactivate marks a session inactive so it no longer resolves through
// GetSession or GetActiveSessions.
//
// Postcondition: Returns an error wrapping station.ErrSessionNotFound when no
// such session exists.
func (r *SessionRepository) Deactivate(ctx context.Context, id station.SessionID) error {
	tag, err := r.db.Exec(ctx, `UPDATE game_sessions SET active = FALSE WHERE id = $1`, int64(id))
	if err != nil {
		return fmt.Errorf("deactivating session %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("session %d: %w", id, station.ErrSessionNotFound)
	}
	return nil
}

// UserRepository resolves display names. It implements station.UserDirectory.
type UserRepository struct {
	db *pgxpool.Pool
}

var _ station.UserDirectory = (*UserRepository)(nil)

// NewUserRepository creates a UserRepository backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a user.
//
// Precondition: displayName must be non-empty.
func (r *UserRepository) Create(ctx context.Context, displayName string) (station.User, error) {
	var id int64
	err := r.db.QueryRow(ctx,
		`INSERT INTO users (display_name) VALUES ($1) RETURNING id`,
		displayName,
	).Scan(&id)
	if err != nil {
		return station.User{}, fmt.Errorf("inserting user: %w", err)
	}
	return station.User{ID: station.UserID(id), DisplayName: displayName}, nil
}

// GetUser returns the user with id.
//
// Postcondition: Returns an error wrapping station.ErrUserNotFound when no
// such user exists.
func (r *UserRepository) GetUser(ctx context.Context, id station.UserID) (*station.User, error) {
	u := station.User{ID: id}
	err := r.db.QueryRow(ctx,
		`SELECT display_name FROM users WHERE id = $1`,
		int64(id),
	).Scan(&u.DisplayName)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, station.ErrUserNotFound)
		}
		return nil, fmt.Errorf("querying user %d: %w", id, err)
	}
	return &u, nil
}
