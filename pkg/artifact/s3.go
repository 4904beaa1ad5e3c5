package artifact

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog/log"
)

// objectAPI is the subset of *s3.Client the store needs.
type objectAPI interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds the parameters for an S3 compatible backend (AWS, MinIO,
// SeaweedFS).
type S3Config struct {
	Bucket         string
	Region         string
	Endpoint       string
	Prefix         string
	ForcePathStyle bool
	AccessKey      string
	SecretKey      string
}

// S3Store keeps each tote's artifacts as immutable, version-named objects plus
// one manifest object per tote. Writing the manifest is the commit point: a
// reader resolves the manifest first and then fetches the objects it names, so
// it always sees one complete set.
//
// Layout:
//
//	<prefix>/<tote>/manifest.json
//	<prefix>/<tote>/<profile>/<version>.<ext>
type S3Store struct {
	api    objectAPI
	bucket string
	prefix string
	now    func() time.Time

	mu    sync.Mutex
	totes map[string]*sync.Mutex
}

type manifest struct {
	ToteID    string          `json:"tote_id"`
	Entries   []manifestEntry `json:"entries"`
	Committed time.Time       `json:"committed_at"`
	// last versions of profiles dropped from the set, so a re-added profile
	// keeps counting up
	Retired map[string]Version `json:"retired,omitempty"`
}

type manifestEntry struct {
	Profile     string      `json:"profile"`
	Format      PixelFormat `json:"pixel_format"`
	Width       int         `json:"width"`
	Height      int         `json:"height"`
	ContentType string      `json:"content_type"`
	Version     Version     `json:"version"`
	Key         string      `json:"key"`
	Size        int         `json:"size"`
}

// NewS3Store builds an S3 client from cfg, falling back to the default AWS
// credential chain when no static keys are given.
func NewS3Store(ctx context.Context, cfg S3Config) (*S3Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("s3 bucket required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if cfg.AccessKey != "" && cfg.SecretKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint != "" {
		if _, err := url.Parse(endpoint); err != nil {
			return nil, fmt.Errorf("invalid s3 endpoint %q: %w", endpoint, err)
		}
	}
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = cfg.ForcePathStyle
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	})
	return newS3Store(client, cfg.Bucket, cfg.Prefix, nil), nil
}

func newS3Store(api objectAPI, bucket, prefix string, now func() time.Time) *S3Store {
	if now == nil {
		now = time.Now
	}
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = "labels"
	}
	return &S3Store{api: api, bucket: bucket, prefix: prefix, now: now, totes: make(map[string]*sync.Mutex)}
}

func (s *S3Store) toteLock(toteID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.totes[toteID]
	if !ok {
		m = &sync.Mutex{}
		s.totes[toteID] = m
	}
	return m
}

func (s *S3Store) manifestKey(toteID string) string {
	return path.Join(s.prefix, url.PathEscape(toteID), "manifest.json")
}

func (s *S3Store) objectKey(toteID, profile string, v Version, contentType string) string {
	ext := "bin"
	switch contentType {
	case "image/png":
		ext = "png"
	case "image/bmp":
		ext = "bmp"
	}
	return path.Join(s.prefix, url.PathEscape(toteID), url.PathEscape(profile), v.String()+"."+ext)
}

// Commit uploads the new objects, then replaces the manifest. Objects of the
// previous set are deleted best effort afterwards.
func (s *S3Store) Commit(ctx context.Context, toteID string, arts []Artifact) ([]Artifact, error) {
	if err := validateSet(toteID, arts); err != nil {
		return nil, fmt.Errorf("commit %s: %w", toteID, err)
	}
	lock := s.toteLock(toteID)
	lock.Lock()
	defer lock.Unlock()

	prev, err := s.readManifest(ctx, toteID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	prevVersions := make(map[string]Version, len(prev.Entries)+len(prev.Retired))
	for p, v := range prev.Retired {
		prevVersions[p] = v
	}
	for _, e := range prev.Entries {
		prevVersions[e.Profile] = e.Version
	}

	now := s.now().UTC()
	next := manifest{ToteID: toteID, Committed: now}
	inSet := make(map[string]struct{}, len(arts))
	for _, a := range arts {
		inSet[a.Profile] = struct{}{}
	}
	for p, v := range prevVersions {
		if _, ok := inSet[p]; ok {
			continue
		}
		if next.Retired == nil {
			next.Retired = make(map[string]Version)
		}
		next.Retired[p] = v
	}
	out := make([]Artifact, len(arts))
	for i, a := range arts {
		a.ToteID = toteID
		a.Version = nextVersion(prevVersions[a.Profile], now)
		a.UpdatedAt = now
		k := s.objectKey(toteID, a.Profile, a.Version, a.ContentType)
		_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
			Bucket:      aws.String(s.bucket),
			Key:         aws.String(k),
			Body:        bytes.NewReader(a.Data),
			ContentType: aws.String(a.ContentType),
		})
		if err != nil {
			return nil, fmt.Errorf("put %s: %w", k, err)
		}
		next.Entries = append(next.Entries, manifestEntry{
			Profile:     a.Profile,
			Format:      a.Format,
			Width:       a.Width,
			Height:      a.Height,
			ContentType: a.ContentType,
			Version:     a.Version,
			Key:         k,
			Size:        len(a.Data),
		})
		out[i] = a
	}

	body, err := json.Marshal(next)
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	mk := s.manifestKey(toteID)
	_, err = s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(mk),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return nil, fmt.Errorf("put manifest %s: %w", mk, err)
	}

	for _, e := range prev.Entries {
		if _, err := s.api.DeleteObject(ctx, &s3.DeleteObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(e.Key)}); err != nil {
			log.Warn().Err(err).Str("key", e.Key).Msg("delete superseded label object")
		}
	}
	return out, nil
}

// Get resolves the manifest and fetches the object it names. When a
// concurrent commit removed that object in between, the manifest is resolved
// once more.
func (s *S3Store) Get(ctx context.Context, toteID, profile string) (Artifact, error) {
	var (
		m    manifest
		e    manifestEntry
		data []byte
		err  error
	)
	for attempt := 0; attempt < 2; attempt++ {
		if m, err = s.readManifest(ctx, toteID); err != nil {
			return Artifact{}, err
		}
		var ok bool
		if e, ok = m.entry(profile); !ok {
			return Artifact{}, ErrNotFound
		}
		data, err = s.readObject(ctx, e.Key)
		if !errors.Is(err, ErrNotFound) {
			break
		}
	}
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{
		ToteID:      toteID,
		Profile:     e.Profile,
		Format:      e.Format,
		Width:       e.Width,
		Height:      e.Height,
		ContentType: e.ContentType,
		Data:        data,
		Version:     e.Version,
		UpdatedAt:   m.Committed,
	}, nil
}

// VersionOf reads only the manifest.
func (s *S3Store) VersionOf(ctx context.Context, toteID, profile string) (Version, error) {
	m, err := s.readManifest(ctx, toteID)
	if err != nil {
		return 0, err
	}
	e, ok := m.entry(profile)
	if !ok {
		return 0, ErrNotFound
	}
	return e.Version, nil
}

func (s *S3Store) Close() error { return nil }

func (m manifest) entry(profile string) (manifestEntry, bool) {
	for _, e := range m.Entries {
		if e.Profile == profile {
			return e, true
		}
	}
	return manifestEntry{}, false
}

func (s *S3Store) readManifest(ctx context.Context, toteID string) (manifest, error) {
	if isDotSegment(toteID) {
		return manifest{}, ErrNotFound
	}
	raw, err := s.readObject(ctx, s.manifestKey(toteID))
	if err != nil {
		return manifest{}, err
	}
	var m manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return manifest{}, fmt.Errorf("decode manifest for %s: %w", toteID, err)
	}
	return m, nil
}

func (s *S3Store) readObject(ctx context.Context, k string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{Bucket: aws.String(s.bucket), Key: aws.String(k)})
	if err != nil {
		var nsk *s3types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get %s: %w", k, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}
