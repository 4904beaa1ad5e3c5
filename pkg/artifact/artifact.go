// Package artifact stores the generated label images per tote and assigns the
// version tokens devices poll against.
package artifact

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// PreviewProfile is the profile name under which the colour preview is stored.
const PreviewProfile = "preview"

// ErrNotFound is returned when no artifact exists yet for a (tote, profile) key.
var ErrNotFound = errors.New("artifact not found")

// PixelFormat describes how Data is encoded.
type PixelFormat string

const (
	FormatRGB24 PixelFormat = "rgb24"
	FormatMono1 PixelFormat = "mono1"
)

// Version is a write-time token in Unix seconds. It only ever grows for a key.
type Version int64

func (v Version) String() string { return strconv.FormatInt(int64(v), 10) }

// ParseVersion parses the decimal form produced by Version.String.
func ParseVersion(s string) (Version, error) {
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	return Version(n), nil
}

// Artifact is one ready-to-serve image for a tote and profile.
type Artifact struct {
	ToteID      string      `json:"tote_id"`
	Profile     string      `json:"profile"`
	Format      PixelFormat `json:"pixel_format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	ContentType string      `json:"content_type"`
	Data        []byte      `json:"-"`
	Version     Version     `json:"version"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Store keeps exactly one current artifact per (tote, profile).
//
// Commit replaces the tote's whole artifact set in one step: concurrent readers
// observe either the previous set or the new one, never a mix. Each committed
// artifact receives a version strictly greater than the previous version of
// its key.
type Store interface {
	Commit(ctx context.Context, toteID string, arts []Artifact) ([]Artifact, error)
	Get(ctx context.Context, toteID, profile string) (Artifact, error)
	// VersionOf answers without touching the encoded bytes.
	VersionOf(ctx context.Context, toteID, profile string) (Version, error)
	Close() error
}

// Exists reports whether an artifact is stored for the key.
func Exists(ctx context.Context, s Store, toteID, profile string) (bool, error) {
	_, err := s.VersionOf(ctx, toteID, profile)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// nextVersion returns the wall-clock second unless that would not advance
// past prev, in which case prev+1 is used.
func nextVersion(prev Version, now time.Time) Version {
	v := Version(now.Unix())
	if v <= prev {
		v = prev + 1
	}
	return v
}

func validateSet(toteID string, arts []Artifact) error {
	if toteID == "" {
		return errors.New("empty tote id")
	}
	if isDotSegment(toteID) {
		return errors.New("tote id " + toteID + " is a relative path element")
	}
	if len(arts) == 0 {
		return errors.New("empty artifact set")
	}
	seen := make(map[string]struct{}, len(arts))
	for _, a := range arts {
		if a.Profile == "" {
			return errors.New("artifact without profile")
		}
		if isDotSegment(a.Profile) {
			return errors.New("profile " + a.Profile + " is a relative path element")
		}
		if _, dup := seen[a.Profile]; dup {
			return errors.New("duplicate profile " + a.Profile)
		}
		seen[a.Profile] = struct{}{}
	}
	return nil
}

// isDotSegment reports names that path.Join would resolve instead of keeping
// as a key segment.
func isDotSegment(name string) bool { return name == "." || name == ".." }

func cloneBytes(b []byte) []byte {
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
