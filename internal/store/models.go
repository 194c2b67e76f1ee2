// Package store persists timeline snapshots in an embedded SQLite
// database. Every inbound playlist or montage is kept as an immutable
// revision, so the engine can restore the last known timeline on startup
// and a misbehaving control channel can be rolled back.
package store

import (
	"crypto/rand"
	"database/sql/driver"
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
)

// ULID is a wrapper around ulid.ULID stored as its string form. Revision
// identifiers sort lexicographically in creation order, which the pruning
// queries rely on.
type ULID ulid.ULID

// Monotonic entropy keeps revisions created within the same millisecond
// in strict order. The source is not concurrency-safe on its own.
var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// NewULID generates a new ULID, strictly ordered with respect to every
// other ULID from this process.
func NewULID() ULID {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ULID(ulid.MustNew(ulid.Timestamp(time.Now()), entropy))
}

// ParseULID parses a ULID string.
func ParseULID(s string) (ULID, error) {
	id, err := ulid.Parse(s)
	if err != nil {
		return ULID{}, fmt.Errorf("invalid ULID: %w", err)
	}
	return ULID(id), nil
}

// String returns the string representation of the ULID.
func (u ULID) String() string {
	return ulid.ULID(u).String()
}

// IsZero reports whether the ULID is the zero value.
func (u ULID) IsZero() bool {
	return ulid.ULID(u).Compare(ulid.ULID{}) == 0
}

// Value implements driver.Valuer for database storage.
func (u ULID) Value() (driver.Value, error) {
	if u.IsZero() {
		return nil, nil
	}
	return ulid.ULID(u).String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (u *ULID) Scan(value any) error {
	if value == nil {
		*u = ULID{}
		return nil
	}

	var s string
	switch v := value.(type) {
	case string:
		s = v
	case []byte:
		s = string(v)
	default:
		return fmt.Errorf("unsupported type for ULID: %T", value)
	}
	if s == "" {
		*u = ULID{}
		return nil
	}

	id, err := ulid.Parse(s)
	if err != nil {
		return fmt.Errorf("scanning ULID: %w", err)
	}
	*u = ULID(id)
	return nil
}

// PlaylistSnapshot is one immutable revision of an inbound playlist,
// stored with its raw payload so it can be re-ingested verbatim.
type PlaylistSnapshot struct {
	Revision   ULID      `gorm:"primaryKey;type:text"`
	PlaylistID int64     `gorm:"index;not null"`
	Name       string    `gorm:"not null"`
	Active     bool      `gorm:"index"`
	Payload    []byte    `gorm:"not null"`
	CreatedAt  time.Time `gorm:"index"`
}

// BeforeCreate assigns the revision when the caller did not.
func (s *PlaylistSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.Revision.IsZero() {
		s.Revision = NewULID()
	}
	return nil
}

// MontageSnapshot is one immutable revision of an inbound montage body.
type MontageSnapshot struct {
	Revision  ULID      `gorm:"primaryKey;type:text"`
	MontageID int64     `gorm:"index;not null"`
	Name      string    `gorm:"not null"`
	Payload   []byte    `gorm:"not null"`
	CreatedAt time.Time `gorm:"index"`
}

// BeforeCreate assigns the revision when the caller did not.
func (s *MontageSnapshot) BeforeCreate(tx *gorm.DB) error {
	if s.Revision.IsZero() {
		s.Revision = NewULID()
	}
	return nil
}
