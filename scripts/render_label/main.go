// render_label renders a local image the way the server would for one tote
// and writes the preview PNG and per-panel BMPs next to each other, without
// touching any store.
package main

import (
	"flag"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"totelabel/pkg/artifact"
	"totelabel/pkg/label"
)

func main() {
	in := flag.String("in", "", "source image")
	outDir := flag.String("out", ".", "output directory")
	tote := flag.String("tote", "", "tote id whose panels to render (default panel when unmapped)")
	profiles := flag.String("profiles", os.Getenv("LABEL_PROFILES_FILE"), "display profile registry (YAML)")
	panel := flag.String("panel", "", "render only this panel, ignoring the tote mapping")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if *in == "" {
		log.Fatal().Msg("--in is required")
	}

	registry := label.NewRegistry()
	if *profiles != "" {
		var err error
		if registry, err = label.LoadRegistry(*profiles); err != nil {
			log.Fatal().Err(err).Msg("load profiles")
		}
	}
	panels := []label.DisplayProfile{registry.Default()}
	if *tote != "" {
		panels = registry.ProfilesFor(*tote)
	}
	if *panel != "" {
		p, ok := registry.Panel(*panel)
		if !ok {
			log.Fatal().Str("panel", *panel).Msg("unknown panel")
		}
		panels = []label.DisplayProfile{p}
	}

	img, err := imaging.Open(*in, imaging.AutoOrientation(true))
	if err != nil {
		log.Fatal().Err(err).Str("file", *in).Msg("decode source")
	}
	arts, err := label.Render(img, panels)
	if err != nil {
		log.Fatal().Err(err).Msg("render")
	}

	if err := os.MkdirAll(*outDir, 0o755); err != nil {
		log.Fatal().Err(err).Msg("create output dir")
	}
	base := *tote
	if base == "" {
		base = "label"
	}
	for _, a := range arts {
		name := base + "@" + a.Profile + ".bmp"
		if a.Profile == artifact.PreviewProfile {
			name = base + ".png"
		}
		path := filepath.Join(*outDir, name)
		if err := os.WriteFile(path, a.Data, 0o644); err != nil {
			log.Fatal().Err(err).Str("file", path).Msg("write artifact")
		}
		log.Info().Str("file", path).Str("profile", a.Profile).Int("width", a.Width).Int("height", a.Height).Msg("wrote")
	}
}
