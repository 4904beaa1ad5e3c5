package devicesync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"totelabel/pkg/artifact"
	"totelabel/pkg/label"
)

func registry(t *testing.T) *label.Registry {
	t.Helper()
	path := filepath.Join(t.TempDir(), "profiles.yaml")
	if err := os.WriteFile(path, []byte("totes:\n  TOTE001: [epd-4in2, epd-7in5]\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	r, err := label.LoadRegistry(path)
	if err != nil {
		t.Fatal(err)
	}
	return r
}

func commit(t *testing.T, s artifact.Store, tote string, profiles ...string) {
	t.Helper()
	var arts []artifact.Artifact
	for _, p := range profiles {
		arts = append(arts, artifact.Artifact{Profile: p, Format: artifact.FormatMono1, ContentType: "image/bmp", Data: []byte{1}})
	}
	if _, err := s.Commit(context.Background(), tote, arts); err != nil {
		t.Fatal(err)
	}
}

func TestCheckWithoutArtifact(t *testing.T) {
	c := NewChecker(artifact.NewMemoryStore(nil), registry(t))
	u, err := c.Check(context.Background(), "http://srv", "TOTE999", "")
	if err != nil {
		t.Fatal(err)
	}
	if u.UpdateAvailable || u.Location != "" || u.Version != "" {
		t.Fatalf("expected empty update, got %+v", u)
	}
}

func TestCheckReturnsVersionedLocation(t *testing.T) {
	store := artifact.NewMemoryStore(func() time.Time { return time.Unix(1_760_000_000, 0) })
	c := NewChecker(store, registry(t))
	commit(t, store, "TOTE001", artifact.PreviewProfile, "epd-4in2", "epd-7in5")
	ctx := context.Background()

	u, err := c.Check(ctx, "http://srv:8081/", "TOTE001", "")
	if err != nil {
		t.Fatal(err)
	}
	want := Update{UpdateAvailable: true, Location: "http://srv:8081/label_raw/TOTE001.bmp?v=1760000000", Version: "1760000000"}
	if u != want {
		t.Fatalf("got %+v want %+v", u, want)
	}

	u, err = c.Check(ctx, "http://srv:8081", "TOTE001", "epd-7in5")
	if err != nil {
		t.Fatal(err)
	}
	if u.Location != "http://srv:8081/label_raw/TOTE001@epd-7in5.bmp?v=1760000000" {
		t.Fatalf("unexpected location %q", u.Location)
	}

	// unknown profile for the tote behaves like "nothing yet"
	u, err = c.Check(ctx, "http://srv", "TOTE001", "epd-2in9")
	if err != nil || u.UpdateAvailable {
		t.Fatalf("expected no update for foreign profile, got %+v %v", u, err)
	}
}

func TestCheckIsIdempotent(t *testing.T) {
	store := artifact.NewMemoryStore(nil)
	c := NewChecker(store, registry(t))
	commit(t, store, "T", artifact.PreviewProfile, "epd-4in2")
	ctx := context.Background()
	a, _ := c.Check(ctx, "http://x", "T", "")
	for i := 0; i < 5; i++ {
		b, _ := c.Check(ctx, "http://x", "T", "")
		if a != b {
			t.Fatalf("poll %d changed without upload: %+v vs %+v", i, a, b)
		}
	}
}

type brokenStore struct{ artifact.Store }

func (brokenStore) VersionOf(context.Context, string, string) (artifact.Version, error) {
	return 0, errors.New("connection refused")
}

func TestCheckPropagatesStoreFailure(t *testing.T) {
	c := NewChecker(brokenStore{}, registry(t))
	if _, err := c.Check(context.Background(), "http://x", "T", ""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestParseRawName(t *testing.T) {
	cases := []struct {
		in, tote, profile string
		ok                bool
	}{
		{"TOTE001.bmp", "TOTE001", "", true},
		{"TOTE001@epd-7in5.bmp", "TOTE001", "epd-7in5", true},
		{"TOTE001.png", "", "", false},
		{".bmp", "", "", false},
		{"@x.bmp", "", "", false},
	}
	for _, c := range cases {
		tote, profile, ok := ParseRawName(c.in)
		if tote != c.tote || profile != c.profile || ok != c.ok {
			t.Fatalf("ParseRawName(%q) = %q %q %v", c.in, tote, profile, ok)
		}
	}
	if !strings.Contains(RawURL("http://a", "T 1", "p", true, 5), "T%201.bmp?v=5") {
		t.Fatalf("tote id not escaped: %s", RawURL("http://a", "T 1", "p", true, 5))
	}
}
