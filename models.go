package main

import (
	"time"

	"totelabel/pkg/artifact"
	"totelabel/pkg/sensor"
)

// artifactView describes one committed artifact in the upload response.
type artifactView struct {
	Profile     string    `json:"profile"`
	PixelFormat string    `json:"pixel_format"`
	Width       int       `json:"width"`
	Height      int       `json:"height"`
	ContentType string    `json:"content_type"`
	Version     string    `json:"version"`
	Bytes       int       `json:"bytes"`
	URL         string    `json:"url"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type uploadResponse struct {
	OK        bool           `json:"ok"`
	ToteID    string         `json:"tote_id"`
	Artifacts []artifactView `json:"artifacts"`
}

func newArtifactView(a artifact.Artifact, url string) artifactView {
	return artifactView{
		Profile:     a.Profile,
		PixelFormat: string(a.Format),
		Width:       a.Width,
		Height:      a.Height,
		ContentType: a.ContentType,
		Version:     a.Version.String(),
		Bytes:       len(a.Data),
		URL:         url,
		UpdatedAt:   a.UpdatedAt,
	}
}

type sensorLocation struct {
	Lat *float64 `json:"lat"`
	Lon *float64 `json:"lon"`
}

// sensorUpdateRequest is what tote environment sensors POST. Either tote_id
// or id names the tote.
type sensorUpdateRequest struct {
	ToteID        string          `json:"tote_id"`
	ID            string          `json:"id"`
	Temperature   *float64        `json:"temperature"`
	Humidity      *float64        `json:"humidity"`
	Lux           *float64        `json:"lux"`
	Battery       *float64        `json:"battery" binding:"omitempty,gte=0,lte=100"`
	Location      *sensorLocation `json:"location"`
	LocationLabel string          `json:"location_label"`
}

func (r sensorUpdateRequest) tote() string {
	if r.ToteID != "" {
		return r.ToteID
	}
	return r.ID
}

func (r sensorUpdateRequest) reading(toteID string) sensor.Reading {
	out := sensor.Reading{
		ToteID:      toteID,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Lux:         r.Lux,
		Battery:     r.Battery,
		Location:    r.LocationLabel,
	}
	if r.Location != nil {
		out.Coords = sensor.FormatCoords(r.Location.Lat, r.Location.Lon)
	}
	return out
}
