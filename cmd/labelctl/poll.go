package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"totelabel/pkg/artifact"
	"totelabel/pkg/devicesync"
	"totelabel/pkg/label"
	"totelabel/pkg/notify"
)

// maxBitmapBytes bounds a fetched bitmap; a 1bpp 800x480 panel is ~48 KiB.
const maxBitmapBytes = 4 << 20

// poller behaves like a tote display: it remembers the version it last
// rendered and downloads only when the server reports a different one.
// A zero maxBytes means maxBitmapBytes.
type poller struct {
	client   *http.Client
	server   string
	toteID   string
	profile  string
	last     artifact.Version
	maxBytes int64
}

func (p *poller) checkURL() string {
	u := strings.TrimRight(p.server, "/") + "/api/tote/" + url.PathEscape(p.toteID) + "/image"
	if p.profile != "" {
		u += "?" + url.Values{"profile": {p.profile}}.Encode()
	}
	return u
}

func (p *poller) get(ctx context.Context, u string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: %s", u, resp.Status)
	}
	limit := p.maxBytes
	if limit <= 0 {
		limit = maxBitmapBytes
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > limit {
		return nil, fmt.Errorf("GET %s: response larger than %d bytes", u, limit)
	}
	return body, nil
}

// pollOnce returns the new bitmap, or nil when nothing changed.
func (p *poller) pollOnce(ctx context.Context) (*label.Bitmap, []byte, error) {
	body, err := p.get(ctx, p.checkURL())
	if err != nil {
		return nil, nil, err
	}
	var u devicesync.Update
	if err := json.Unmarshal(body, &u); err != nil {
		return nil, nil, fmt.Errorf("decode update: %w", err)
	}
	if !u.UpdateAvailable {
		return nil, nil, nil
	}
	v, err := artifact.ParseVersion(u.Version)
	if err != nil {
		return nil, nil, fmt.Errorf("bad version %q: %w", u.Version, err)
	}
	if v == p.last {
		return nil, nil, nil
	}
	raw, err := p.get(ctx, u.Location)
	if err != nil {
		return nil, nil, err
	}
	bm, err := label.DecodeBMP(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("decode bitmap: %w", err)
	}
	p.last = v
	return bm, raw, nil
}

func newPollCommand() *cobra.Command {
	var (
		p           poller
		interval    time.Duration
		once        bool
		out         string
		natsURL     string
		natsSubject string
	)

	cmd := &cobra.Command{
		Use:   "poll",
		Short: "Act as a tote display polling for new label bitmaps",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			p.client = &http.Client{Timeout: 15 * time.Second}

			wake := make(chan struct{}, 1)
			if natsURL != "" {
				nc, err := nats.Connect(natsURL, nats.Name("labelctl-poll"))
				if err != nil {
					return fmt.Errorf("connect nats: %w", err)
				}
				defer nc.Close()
				sub, err := notify.Subscribe(ctx, nc, natsSubject, func(ev notify.Event) {
					if ev.ToteID != p.toteID {
						return
					}
					select {
					case wake <- struct{}{}:
					default:
					}
				})
				if err != nil {
					return err
				}
				defer sub.Close()
			}

			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				bm, raw, err := p.pollOnce(ctx)
				switch {
				case err != nil:
					log.Warn().Err(err).Str("tote_id", p.toteID).Msg("poll failed")
				case bm == nil:
					log.Debug().Str("tote_id", p.toteID).Str("version", p.last.String()).Msg("no change")
				default:
					log.Info().Str("tote_id", p.toteID).Str("version", p.last.String()).
						Int("width", bm.Width).Int("height", bm.Height).Int("black", bm.BlackCount()).
						Msg("rendered new label")
					if out != "" {
						if err := os.WriteFile(out, raw, 0o644); err != nil {
							log.Error().Err(err).Str("file", out).Msg("write bitmap")
						}
					}
				}
				if once {
					return err
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				case <-wake:
				}
			}
		},
	}

	cmd.Flags().StringVar(&p.server, "server", "http://127.0.0.1:8081", "Label server base URL")
	cmd.Flags().StringVar(&p.toteID, "tote", "", "Tote id this display belongs to")
	cmd.Flags().StringVar(&p.profile, "profile", "", "Panel profile (default: the tote's first)")
	cmd.Flags().DurationVar(&interval, "interval", 30*time.Second, "Time between polls")
	cmd.Flags().BoolVar(&once, "once", false, "Poll a single time and exit")
	cmd.Flags().StringVar(&out, "out", "", "Write each new bitmap to this file")
	cmd.Flags().StringVar(&natsURL, "nats", "", "NATS URL to wake on commit events")
	cmd.Flags().StringVar(&natsSubject, "nats-subject", notify.DefaultSubject, "Commit event subject")
	_ = cmd.MarkFlagRequired("tote")
	return cmd
}
