package pagination

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"gorm.io/gorm"
)

const (
	DefaultLimit = 20
	MaxLimit     = 100
)

var (
	ErrInvalidLimit  = errors.New("limit must be between 1 and 100")
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Cursor is the (primaryKey, id) tuple of the last row on a page.
type Cursor struct {
	PrimaryKey time.Time `json:"primaryKey"`
	ID         string    `json:"id"`
}

type Page[T any] struct {
	Items      []T     `json:"items"`
	NextCursor *string `json:"nextCursor"`
}

func (c Cursor) Encode() string {
	data, _ := json.Marshal(c)
	return base64.RawURLEncoding.EncodeToString(data)
}

func Decode(token string) (*Cursor, error) {
	if token == "" {
		return nil, nil
	}
	data, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	var c Cursor
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if c.ID == "" || c.PrimaryKey.IsZero() {
		return nil, ErrInvalidCursor
	}
	return &c, nil
}

func ValidateLimit(limit int) error {
	if limit < 1 || limit > MaxLimit {
		return ErrInvalidLimit
	}
	return nil
}

// ParseLimit turns a query-string limit into a validated value, defaulting when empty.
func ParseLimit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		return 0, ErrInvalidLimit
	}
	if err := ValidateLimit(limit); err != nil {
		return 0, err
	}
	return limit, nil
}

// Finalize trims a limit+1 result set to limit and derives the next cursor from
// the last returned row.
func Finalize[T any](rows []T, limit int, key func(T) Cursor) Page[T] {
	if rows == nil {
		rows = []T{}
	}
	if len(rows) <= limit {
		return Page[T]{Items: rows}
	}
	rows = rows[:limit]
	next := key(rows[len(rows)-1]).Encode()
	return Page[T]{Items: rows, NextCursor: &next}
}

// Before reports whether a row keyed (pk, id) sorts strictly after the cursor
// in (pk desc, id desc) order.
func Before(pk time.Time, id string, c *Cursor) bool {
	if c == nil {
		return true
	}
	if pk.Before(c.PrimaryKey) {
		return true
	}
	return pk.Equal(c.PrimaryKey) && id < c.ID
}

// Scope applies the keyset predicate, ordering and limit+1 fetch to a query.
func Scope(column, idColumn string, cursor *Cursor, limit int) func(*gorm.DB) *gorm.DB {
	return func(db *gorm.DB) *gorm.DB {
		if cursor != nil {
			db = db.Where(
				fmt.Sprintf("(%s < ? OR (%s = ? AND %s < ?))", column, column, idColumn),
				cursor.PrimaryKey, cursor.PrimaryKey, cursor.ID,
			)
		}
		return db.
			Order(fmt.Sprintf("%s DESC", column)).
			Order(fmt.Sprintf("%s DESC", idColumn)).
			Limit(limit + 1)
	}
}
