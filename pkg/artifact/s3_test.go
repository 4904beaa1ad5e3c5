package artifact

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// fakeObjects is an in-memory stand-in for the S3 object API.
type fakeObjects struct {
	mu      sync.Mutex
	objs    map[string][]byte
	gets    []string
	failPut string
	onGet   func(key string)
}

func newFakeObjects() *fakeObjects { return &fakeObjects{objs: make(map[string][]byte)} }

func (f *fakeObjects) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failPut != "" && strings.Contains(*in.Key, f.failPut) {
		return nil, errors.New("injected put failure")
	}
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objs[*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjects) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.onGet != nil {
		f.onGet(*in.Key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets = append(f.gets, *in.Key)
	b, ok := f.objs[*in.Key]
	if !ok {
		return nil, &s3types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeObjects) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objs, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeObjects) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for k := range f.objs {
		out = append(out, k)
	}
	return out
}

func TestS3StoreCommitAndRead(t *testing.T) {
	api := newFakeObjects()
	s := newS3Store(api, "bucket", "", fixedClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()

	if _, err := s.VersionOf(ctx, "TOTE001", "epd-4in2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound before first commit, got %v", err)
	}
	arts := []Artifact{
		{Profile: PreviewProfile, Format: FormatRGB24, Width: 4, Height: 3, ContentType: "image/png", Data: []byte("png")},
		{Profile: "epd-4in2", Format: FormatMono1, Width: 4, Height: 3, ContentType: "image/bmp", Data: []byte("bmp-1")},
	}
	if _, err := s.Commit(ctx, "TOTE001", arts); err != nil {
		t.Fatalf("commit: %v", err)
	}
	got, err := s.Get(ctx, "TOTE001", "epd-4in2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(got.Data) != "bmp-1" || got.Version != 1_700_000_000 || got.Width != 4 {
		t.Fatalf("unexpected artifact %+v", got)
	}

	arts[1].Data = []byte("bmp-2")
	if _, err := s.Commit(ctx, "TOTE001", arts); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	v, err := s.VersionOf(ctx, "TOTE001", "epd-4in2")
	if err != nil || v != 1_700_000_001 {
		t.Fatalf("expected bumped version, got %d %v", v, err)
	}
	// previous version objects are removed; only manifest + two current objects remain
	if n := len(api.keys()); n != 3 {
		t.Fatalf("expected 3 objects after supersede, got %d: %v", n, api.keys())
	}
}

func TestS3StoreVersionOfReadsOnlyManifest(t *testing.T) {
	api := newFakeObjects()
	s := newS3Store(api, "bucket", "labels", nil)
	ctx := context.Background()
	arts := []Artifact{{Profile: "p", Format: FormatMono1, Width: 1, Height: 1, ContentType: "image/bmp", Data: []byte("x")}}
	if _, err := s.Commit(ctx, "T", arts); err != nil {
		t.Fatal(err)
	}
	api.gets = nil
	if _, err := s.VersionOf(ctx, "T", "p"); err != nil {
		t.Fatal(err)
	}
	if len(api.gets) != 1 || !strings.HasSuffix(api.gets[0], "manifest.json") {
		t.Fatalf("VersionOf fetched %v", api.gets)
	}
}

func TestS3StoreFailedCommitKeepsPreviousSet(t *testing.T) {
	api := newFakeObjects()
	s := newS3Store(api, "bucket", "", nil)
	ctx := context.Background()
	arts := []Artifact{{Profile: "p", Format: FormatMono1, Width: 1, Height: 1, ContentType: "image/bmp", Data: []byte("old")}}
	if _, err := s.Commit(ctx, "T", arts); err != nil {
		t.Fatal(err)
	}
	before, _ := s.VersionOf(ctx, "T", "p")

	api.failPut = "manifest.json"
	arts[0].Data = []byte("new")
	if _, err := s.Commit(ctx, "T", arts); err == nil {
		t.Fatalf("expected commit error")
	}
	api.failPut = ""
	got, err := s.Get(ctx, "T", "p")
	if err != nil {
		t.Fatal(err)
	}
	if string(got.Data) != "old" || got.Version != before {
		t.Fatalf("failed commit leaked: %+v", got)
	}
}

func TestS3StoreGetFollowsConcurrentCommit(t *testing.T) {
	api := newFakeObjects()
	clock := time.Unix(1_700_000_000, 0)
	s := newS3Store(api, "bucket", "", fixedClock(clock))
	ctx := context.Background()
	set := func(data string) []Artifact {
		return []Artifact{{Profile: "epd-4in2", Format: FormatMono1, ContentType: "image/bmp", Data: []byte(data)}}
	}
	if _, err := s.Commit(ctx, "T", set("old")); err != nil {
		t.Fatal(err)
	}

	// the first object fetch races with a commit that deletes it
	fired := false
	api.onGet = func(key string) {
		if fired || !strings.HasSuffix(key, ".bmp") {
			return
		}
		fired = true
		if _, err := s.Commit(ctx, "T", set("new")); err != nil {
			t.Errorf("racing commit: %v", err)
		}
	}
	a, err := s.Get(ctx, "T", "epd-4in2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if string(a.Data) != "new" || a.Version != 1_700_000_001 {
		t.Fatalf("expected the newer set, got %q v%d", a.Data, a.Version)
	}
}

func TestS3StoreKeysStayUnderPrefix(t *testing.T) {
	api := newFakeObjects()
	s := newS3Store(api, "bucket", "tenant-a/labels", fixedClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()
	mono := Artifact{Profile: "epd-4in2", Format: FormatMono1, Width: 1, Height: 1, ContentType: "image/bmp", Data: []byte("x")}

	for _, tote := range []string{".", ".."} {
		if _, err := s.Commit(ctx, tote, []Artifact{mono}); err == nil {
			t.Fatalf("commit for tote %q accepted", tote)
		}
		if _, err := s.VersionOf(ctx, tote, "epd-4in2"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("VersionOf(%q) = %v, want ErrNotFound", tote, err)
		}
	}
	dotProfile := mono
	dotProfile.Profile = ".."
	if _, err := s.Commit(ctx, "T", []Artifact{dotProfile}); err == nil {
		t.Fatalf("commit with profile .. accepted")
	}
	if _, err := s.Commit(ctx, "..x", []Artifact{mono}); err != nil {
		t.Fatalf("commit for dotted tote: %v", err)
	}
	for _, k := range api.keys() {
		if !strings.HasPrefix(k, "tenant-a/labels/") {
			t.Fatalf("object %q written outside the prefix", k)
		}
	}
}

func TestS3StoreRemovedProfileKeepsCountingUp(t *testing.T) {
	api := newFakeObjects()
	s := newS3Store(api, "bucket", "", fixedClock(time.Unix(1_700_000_000, 0)))
	ctx := context.Background()
	preview := Artifact{Profile: PreviewProfile, Format: FormatRGB24, Width: 1, Height: 1, ContentType: "image/png", Data: []byte("png")}
	mono := Artifact{Profile: "epd-4in2", Format: FormatMono1, Width: 1, Height: 1, ContentType: "image/bmp", Data: []byte("bmp")}

	for i := 0; i < 2; i++ {
		if _, err := s.Commit(ctx, "T", []Artifact{preview, mono}); err != nil {
			t.Fatal(err)
		}
	}
	before, _ := s.VersionOf(ctx, "T", PreviewProfile)
	if _, err := s.Commit(ctx, "T", []Artifact{mono}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.VersionOf(ctx, "T", PreviewProfile); !errors.Is(err, ErrNotFound) {
		t.Fatalf("removed profile still served: %v", err)
	}
	if _, err := s.Commit(ctx, "T", []Artifact{preview, mono}); err != nil {
		t.Fatal(err)
	}
	after, err := s.VersionOf(ctx, "T", PreviewProfile)
	if err != nil || after <= before {
		t.Fatalf("re-added profile went from %d to %d (%v)", before, after, err)
	}
}
