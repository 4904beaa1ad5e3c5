package main

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

type simLocation struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

type simPayload struct {
	ToteID      string      `json:"tote_id"`
	Temperature float64     `json:"temperature"`
	Lux         float64     `json:"lux"`
	Battery     float64     `json:"battery"`
	Location    simLocation `json:"location"`
	Timestamp   int64       `json:"timestamp"`
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// randomPayload mimics a tote sensor drifting around a warehouse in lower
// Manhattan.
func randomPayload(rng *rand.Rand, toteID string, now time.Time) simPayload {
	return simPayload{
		ToteID:      toteID,
		Temperature: round(-10+rng.Float64()*90, 1),
		Lux:         float64(rng.IntN(251)),
		Battery:     float64(20 + rng.IntN(81)),
		Location: simLocation{
			Lat: round(40.70+(rng.Float64()*0.04-0.02), 6),
			Lon: round(-74.00+(rng.Float64()*0.04-0.02), 6),
		},
		Timestamp: now.Unix(),
	}
}

func postReading(ctx context.Context, client *http.Client, endpoint string, p simPayload) (int, error) {
	body, err := json.Marshal(p)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	return resp.StatusCode, nil
}

func newSimulateCommand() *cobra.Command {
	var (
		server   string
		toteID   string
		interval time.Duration
		count    int
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Post random sensor readings for a tote",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			endpoint := strings.TrimRight(server, "/") + "/api/iot/update"
			client := &http.Client{Timeout: 10 * time.Second}
			rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x5eed))
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for sent := 0; count <= 0 || sent < count; sent++ {
				p := randomPayload(rng, toteID, time.Now())
				status, err := postReading(ctx, client, endpoint, p)
				if err != nil {
					log.Error().Err(err).Str("endpoint", endpoint).Msg("send failed")
				} else {
					log.Info().Int("status", status).Float64("temperature", p.Temperature).Float64("lux", p.Lux).Msg("sent")
				}
				if count > 0 && sent+1 >= count {
					break
				}
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://127.0.0.1:8081", "Label server base URL")
	cmd.Flags().StringVar(&toteID, "tote", "TOTE001", "Tote id to report as")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Time between readings")
	cmd.Flags().IntVar(&count, "count", 0, "Stop after this many readings (0 = forever)")
	return cmd
}
