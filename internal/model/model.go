// Package model defines domain entities used by services and repositories.
package model

import (
	"io"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/appstore/internal/appkg"
)

// PackageMetadata is the validated, immutable result of parsing a package.
type PackageMetadata = appkg.Metadata

// App is a catalog entry. (AppID, Architecture) is unique across the catalog.
type App struct {
	ID           uuid.UUID // catalog PK
	AppID        string    // reverse-DNS application id from the manifest
	Architecture string
	Version      string
	Name         string
	Vendor       string
	CategoryID   int64 // 0 when uncategorized
	IsTopApp     bool
	Description  string
	Tags         []string
	Digest       []byte // BLAKE3 content digest of the payload
	PackageFile  string // name within the package store
	IconFile     string // name within the icon store
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// AppFilter narrows catalog listings. Zero values match everything.
type AppFilter struct {
	CategoryID int64
	TopOnly    bool
	Name       string // case-insensitive substring of Name
}

// Submission is a package upload plus the store-side attributes of the entry.
type Submission struct {
	Package     io.Reader
	UpdateOf    *uuid.UUID // nil for a new entry
	Vendor      string
	CategoryID  int64
	IsTopApp    bool
	Description string
}

// Download is an issued, device-bound copy awaiting retrieval.
type Download struct {
	FileName  string // deterministic public name
	FilePath  string // current generation file within the downloads store
	AppID     uuid.UUID
	UserID    uuid.UUID
	DeviceID  string
	CreatedAt time.Time
	ExpiresAt time.Time
}

// Ticket is what a purchase returns to the client.
type Ticket struct {
	URL       string
	FileName  string
	ExpiresIn int64 // seconds
	ExpiresAt time.Time
}

// Category is a user-visible grouping with a dense display rank.
type Category struct {
	ID   int64
	Name string
	Rank int64
}

// Direction selects the neighbour a category is swapped with.
type Direction int

const (
	// Up moves towards rank 0.
	Up Direction = iota
	// Down moves towards the last rank.
	Down
)

func (d Direction) String() string {
	if d == Up {
		return "up"
	}
	return "down"
}
