// Package devicesync answers the cheap "is there a newer label for my panel"
// poll from tote displays.
//
// A device polls Check with the tote id and optionally its panel profile,
// compares the returned version with the one it last rendered, and only then
// downloads the bitmap from Location. The version is embedded in Location as
// v=<version> so intermediate caches key different versions apart.
package devicesync

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"totelabel/pkg/artifact"
	"totelabel/pkg/label"
)

// Update is the poll response.
type Update struct {
	UpdateAvailable bool   `json:"update_available"`
	Location        string `json:"image_url"`
	Version         string `json:"version"`
}

// Checker resolves polls against an artifact store.
type Checker struct {
	store    artifact.Store
	registry *label.Registry
}

func NewChecker(store artifact.Store, registry *label.Registry) *Checker {
	return &Checker{store: store, registry: registry}
}

// ResolveProfile picks the tote's first panel when profile is empty. It
// reports false for a profile the tote does not have.
func (c *Checker) ResolveProfile(toteID, profile string) (string, bool) {
	if profile == "" {
		return c.registry.ProfilesFor(toteID)[0].Name, true
	}
	if _, ok := c.registry.Lookup(toteID, profile); ok {
		return profile, true
	}
	return "", false
}

// Check returns the current version and an absolute fetch location under
// baseURL. A key with no artifact yields the zero Update and a nil error.
func (c *Checker) Check(ctx context.Context, baseURL, toteID, profile string) (Update, error) {
	resolved, ok := c.ResolveProfile(toteID, profile)
	if !ok {
		return Update{}, nil
	}
	v, err := c.store.VersionOf(ctx, toteID, resolved)
	if errors.Is(err, artifact.ErrNotFound) {
		return Update{}, nil
	}
	if err != nil {
		return Update{}, err
	}
	first := resolved == c.registry.ProfilesFor(toteID)[0].Name
	return Update{
		UpdateAvailable: true,
		Location:        RawURL(baseURL, toteID, resolved, first, v),
		Version:         v.String(),
	}, nil
}

// RawURL builds /label_raw/<tote>.bmp for a tote's first panel and
// /label_raw/<tote>@<profile>.bmp for the others, with v=<version> appended.
func RawURL(baseURL, toteID, profile string, first bool, v artifact.Version) string {
	name := url.PathEscape(toteID)
	if !first {
		name += "@" + url.PathEscape(profile)
	}
	q := url.Values{"v": {v.String()}}
	return strings.TrimRight(baseURL, "/") + "/label_raw/" + name + ".bmp?" + q.Encode()
}

// ParseRawName splits a raw fetch file name ("T.bmp" or "T@panel.bmp") into
// tote id and profile. The profile is empty when the name carries none.
func ParseRawName(file string) (toteID, profile string, ok bool) {
	base, found := strings.CutSuffix(file, ".bmp")
	if !found || base == "" {
		return "", "", false
	}
	toteID, profile, _ = strings.Cut(base, "@")
	if toteID == "" {
		return "", "", false
	}
	return toteID, profile, true
}
