// Package label turns uploaded source images into the colour preview and the
// per-panel monochrome bitmaps served to tote displays.
package label

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"totelabel/pkg/artifact"
)

// DefaultMaxPixels bounds the decoded source size.
const DefaultMaxPixels = 40_000_000

// CommitListener is told about every successful commit.
type CommitListener interface {
	LabelCommitted(ctx context.Context, toteID string, arts []artifact.Artifact)
}

// Observer receives the outcome and duration of every Build call.
type Observer interface {
	ObserveBuild(d time.Duration, err error)
}

// Result is the committed artifact set of one build.
type Result struct {
	ToteID     string
	Preview    artifact.Artifact
	Monochrome []artifact.Artifact
}

// Artifacts returns the preview followed by the monochrome artifacts.
func (r Result) Artifacts() []artifact.Artifact {
	return append([]artifact.Artifact{r.Preview}, r.Monochrome...)
}

// Builder runs the fit/tone-map pipeline for every panel of a tote and
// commits the results.
type Builder struct {
	registry  *Registry
	store     artifact.Store
	listeners []CommitListener
	observer  Observer
	maxPixels int
}

type Option func(*Builder)

func WithListener(l CommitListener) Option {
	return func(b *Builder) { b.listeners = append(b.listeners, l) }
}

func WithObserver(o Observer) Option {
	return func(b *Builder) { b.observer = o }
}

func WithMaxPixels(n int) Option {
	return func(b *Builder) { b.maxPixels = n }
}

func NewBuilder(registry *Registry, store artifact.Store, opts ...Option) *Builder {
	b := &Builder{registry: registry, store: store, maxPixels: DefaultMaxPixels}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Registry exposes the profile registry the builder renders for.
func (b *Builder) Registry() *Registry { return b.registry }

// Build decodes src and commits a preview plus one bitmap per panel of the
// tote. Nothing is committed unless every artifact rendered.
func (b *Builder) Build(ctx context.Context, toteID string, src []byte) (res Result, err error) {
	start := time.Now()
	if b.observer != nil {
		defer func() { b.observer.ObserveBuild(time.Since(start), err) }()
	}

	toteID, err = ValidateToteID(toteID)
	if err != nil {
		return Result{}, err
	}
	if len(src) == 0 {
		return Result{}, fmt.Errorf("%w: empty image", ErrValidation)
	}
	img, err := b.decode(src)
	if err != nil {
		return Result{}, err
	}

	arts, err := Render(img, b.registry.ProfilesFor(toteID))
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInternal, err)
	}

	committed, err := b.store.Commit(ctx, toteID, arts)
	if err != nil {
		log.Error().Err(err).Str("tote_id", toteID).Msg("label commit failed")
		return Result{}, fmt.Errorf("%w: store: %v", ErrInternal, err)
	}
	for _, l := range b.listeners {
		l.LabelCommitted(ctx, toteID, committed)
	}

	res = Result{ToteID: toteID, Preview: committed[0], Monochrome: committed[1:]}
	log.Info().
		Str("tote_id", toteID).
		Int("profiles", len(res.Monochrome)).
		Stringer("version", res.Preview.Version).
		Dur("elapsed", time.Since(start)).
		Msg("label committed")
	return res, nil
}

func (b *Builder) decode(src []byte) (image.Image, error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: empty %s image", ErrDecode, format)
	}
	if b.maxPixels > 0 && cfg.Width*cfg.Height > b.maxPixels {
		return nil, fmt.Errorf("%w: %dx%d exceeds %d pixels", ErrDecode, cfg.Width, cfg.Height, b.maxPixels)
	}
	img, err := imaging.Decode(bytes.NewReader(src), imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return img, nil
}

// Render produces the uncommitted artifact set for img: the PNG preview
// letterboxed to the first profile, followed by one BMP per profile.
func Render(img image.Image, profiles []DisplayProfile) ([]artifact.Artifact, error) {
	if len(profiles) == 0 {
		return nil, fmt.Errorf("%w: no display profiles", ErrInternal)
	}
	first := profiles[0]
	preview := Letterbox(img, first.Width, first.Height)
	var png bytes.Buffer
	if err := imaging.Encode(&png, preview, imaging.PNG); err != nil {
		return nil, fmt.Errorf("%w: encode preview: %v", ErrInternal, err)
	}
	arts := []artifact.Artifact{{
		Profile:     artifact.PreviewProfile,
		Format:      artifact.FormatRGB24,
		Width:       first.Width,
		Height:      first.Height,
		ContentType: "image/png",
		Data:        png.Bytes(),
	}}

	for _, p := range profiles {
		canvas := preview
		if p.Width != first.Width || p.Height != first.Height {
			canvas = Letterbox(img, p.Width, p.Height)
		}
		bm := ToneMap(canvas, p.Threshold)
		arts = append(arts, artifact.Artifact{
			Profile:     p.Name,
			Format:      artifact.FormatMono1,
			Width:       bm.Width,
			Height:      bm.Height,
			ContentType: "image/bmp",
			Data:        EncodeBMP(bm),
		})
	}
	return arts, nil
}
