package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
)

// MaxUsernameLength is the longest username the access list stores.
const MaxUsernameLength = 64

// Ban is one entry on the access list.
type Ban struct {
	Username  string
	Reason    string
	CreatedAt time.Time
}

// ErrNotBanned is returned when unbanning a username that is not on the list.
var ErrNotBanned = errors.New("user is not banned")

// ErrInvalidUsername is returned for empty or over-long usernames.
var ErrInvalidUsername = errors.New("invalid username")

// AccessListRepository stores banned usernames. Usernames compare
// case-insensitively.
type AccessListRepository struct {
	pool *Pool
}

// NewAccessListRepository creates an AccessListRepository backed by pool.
//
// Precondition: pool must be open.
func NewAccessListRepository(pool *Pool) *AccessListRepository {
	return &AccessListRepository{pool: pool}
}

// NormalizeUsername returns the key a username is stored under.
//
// Postcondition: Returns the lower-cased name, or ErrInvalidUsername.
func NormalizeUsername(username string) (string, error) {
	name := strings.ToLower(strings.TrimSpace(username))
	if name == "" || len(name) > MaxUsernameLength {
		return "", fmt.Errorf("%w: %q", ErrInvalidUsername, username)
	}
	return name, nil
}

// Ban adds username to the access list, replacing the reason if it is
// already there.
//
// Postcondition: Returns the stored Ban.
func (r *AccessListRepository) Ban(ctx context.Context, username, reason string) (Ban, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return Ban{}, err
	}

	var b Ban
	err = r.pool.db.QueryRow(ctx,
		`INSERT INTO access_list (username, reason)
		 VALUES ($1, $2)
		 ON CONFLICT (username) DO UPDATE SET reason = EXCLUDED.reason
		 RETURNING username, reason, created_at`,
		name, reason,
	).Scan(&b.Username, &b.Reason, &b.CreatedAt)
	if err != nil {
		return Ban{}, fmt.Errorf("banning %s: %w", name, err)
	}
	return b, nil
}

// Unban removes username from the access list.
//
// Postcondition: Returns ErrNotBanned if username was not on the list.
func (r *AccessListRepository) Unban(ctx context.Context, username string) error {
	name, err := NormalizeUsername(username)
	if err != nil {
		return err
	}
	tag, err := r.pool.db.Exec(ctx, `DELETE FROM access_list WHERE username = $1`, name)
	if err != nil {
		return fmt.Errorf("unbanning %s: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s: %w", name, ErrNotBanned)
	}
	return nil
}

// Lookup reports whether username is banned and why.
//
// Postcondition: Returns (reason, true, nil) for a banned user and
// ("", false, nil) otherwise.
func (r *AccessListRepository) Lookup(ctx context.Context, username string) (string, bool, error) {
	name, err := NormalizeUsername(username)
	if err != nil {
		return "", false, err
	}
	var reason string
	err = r.pool.db.QueryRow(ctx,
		`SELECT reason FROM access_list WHERE username = $1`, name,
	).Scan(&reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("looking up %s: %w", name, err)
	}
	return reason, true, nil
}

// List returns every ban, oldest first.
func (r *AccessListRepository) List(ctx context.Context) ([]Ban, error) {
	rows, err := r.pool.db.Query(ctx,
		`SELECT username, reason, created_at FROM access_list ORDER BY created_at, username`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing bans: %w", err)
	}
	bans, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Ban, error) {
		var b Ban
		err := row.Scan(&b.Username, &b.Reason, &b.CreatedAt)
		return b, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning bans: %w", err)
	}
	return bans, nil
}
