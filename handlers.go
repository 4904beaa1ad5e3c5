package main

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"totelabel/pkg/artifact"
	"totelabel/pkg/devicesync"
	"totelabel/pkg/label"
	"totelabel/pkg/metrics"
	"totelabel/pkg/sensor"
)

// multipart framing allowance on top of the file cap
const multipartSlack = 1 << 20

type server struct {
	cfg      Config
	store    artifact.Store
	builder  *label.Builder
	checker  *devicesync.Checker
	sensors  *sensor.Store
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
}

func newServer(cfg Config, store artifact.Store, builder *label.Builder, m *metrics.Metrics, g prometheus.Gatherer) *server {
	return &server{
		cfg:      cfg,
		store:    store,
		builder:  builder,
		checker:  devicesync.NewChecker(store, builder.Registry()),
		sensors:  sensor.NewStore(nil),
		metrics:  m,
		gatherer: g,
	}
}

func (s *server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())
	r.MaxMultipartMemory = s.cfg.MaxUploadBytes + multipartSlack
	s.setupRoutes(r)
	return r
}

func (s *server) setupRoutes(r *gin.Engine) {
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))
	}

	r.POST("/upload_label/:tote_id", operatorAuthMiddleware([]byte(s.cfg.JWTSecret)), s.uploadLabelHandler)
	r.GET("/label/:file", s.previewHandler)
	r.GET("/label_raw/:file", s.rawHandler)
	r.GET("/api/tote/:tote_id/image", s.checkUpdateHandler)

	r.POST("/api/iot/update", s.sensorUpdateHandler)
	r.GET("/iot/live", s.liveHandler)
}

// baseURL is the absolute prefix for links handed to devices.
func (s *server) baseURL(c *gin.Context) string {
	if s.cfg.PublicBaseURL != "" {
		return s.cfg.PublicBaseURL
	}
	scheme := "http"
	if c.Request.TLS != nil {
		scheme = "https"
	}
	if p := c.GetHeader("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + c.Request.Host
}

func (s *server) artifactURL(base string, a artifact.Artifact, first string) string {
	if a.Profile == artifact.PreviewProfile {
		return base + "/label/" + url.PathEscape(a.ToteID) + ".png?v=" + a.Version.String()
	}
	return devicesync.RawURL(base, a.ToteID, a.Profile, a.Profile == first, a.Version)
}

// uploadLabelHandler builds and commits every artifact for a tote from a
// multipart "file" part.
func (s *server) uploadLabelHandler(c *gin.Context) {
	toteID, err := label.ValidateToteID(c.Param("tote_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+multipartSlack)
	fh, err := c.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "file missing"})
		return
	}
	if strings.TrimSpace(fh.Filename) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty filename"})
		return
	}
	if fh.Size > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}
	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	defer f.Close()
	src, err := io.ReadAll(io.LimitReader(f, s.cfg.MaxUploadBytes+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read file"})
		return
	}
	if len(src) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty file"})
		return
	}
	if int64(len(src)) > s.cfg.MaxUploadBytes {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file too large"})
		return
	}

	res, err := s.builder.Build(c.Request.Context(), toteID, src)
	switch {
	case err == nil:
	case errors.Is(err, label.ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, label.ErrDecode):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error(), "kind": "decode_error"})
		return
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label build failed"})
		return
	}

	base := s.baseURL(c)
	first := ""
	if len(res.Monochrome) > 0 {
		first = res.Monochrome[0].Profile
	}
	out := uploadResponse{OK: true, ToteID: res.ToteID}
	for _, a := range res.Artifacts() {
		out.Artifacts = append(out.Artifacts, newArtifactView(a, s.artifactURL(base, a, first)))
	}
	c.JSON(http.StatusOK, out)
}

// previewHandler serves GET /label/<tote>.png.
func (s *server) previewHandler(c *gin.Context) {
	toteID, ok := strings.CutSuffix(c.Param("file"), ".png")
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}
	toteID, err := label.ValidateToteID(toteID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return
	}
	s.serveArtifact(c, toteID, artifact.PreviewProfile)
}

// rawHandler serves GET /label_raw/<tote>.bmp and /label_raw/<tote>@<profile>.bmp.
// Any v= query is ignored; it only separates cache entries.
func (s *server) rawHandler(c *gin.Context) {
	status := s.serveRaw(c)
	s.metrics.RawFetch(status)
}

func (s *server) serveRaw(c *gin.Context) int {
	toteID, profile, ok := devicesync.ParseRawName(c.Param("file"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return http.StatusNotFound
	}
	toteID, err := label.ValidateToteID(toteID)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return http.StatusNotFound
	}
	if profile == "" {
		profile = c.Query("profile")
	}
	resolved, ok := s.checker.ResolveProfile(toteID, profile)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown profile for tote"})
		return http.StatusNotFound
	}
	return s.serveArtifact(c, toteID, resolved)
}

func (s *server) serveArtifact(c *gin.Context, toteID, profile string) int {
	a, err := s.store.Get(c.Request.Context(), toteID, profile)
	if errors.Is(err, artifact.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "label not found"})
		return http.StatusNotFound
	}
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label store unavailable"})
		return http.StatusInternalServerError
	}
	etag := `"` + a.Version.String() + `"`
	c.Header("ETag", etag)
	c.Header("Cache-Control", "no-cache")
	if match := c.GetHeader("If-None-Match"); match != "" && (match == etag || match == "*") {
		c.Status(http.StatusNotModified)
		return http.StatusNotModified
	}
	c.Data(http.StatusOK, a.ContentType, a.Data)
	return http.StatusOK
}

// checkUpdateHandler answers the device poll with the current version and
// where to fetch it.
func (s *server) checkUpdateHandler(c *gin.Context) {
	toteID, err := label.ValidateToteID(c.Param("tote_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	u, err := s.checker.Check(c.Request.Context(), s.baseURL(c), toteID, c.Query("profile"))
	if err != nil {
		_ = c.Error(err)
		log.Ctx(c.Request.Context()).Error().Err(err).Str("tote_id", toteID).Msg("update check failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "label store unavailable"})
		return
	}
	s.metrics.SyncCheck(u.UpdateAvailable)
	c.JSON(http.StatusOK, u)
}

func (s *server) sensorUpdateHandler(c *gin.Context) {
	var req sensorUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON"})
		return
	}
	toteID := strings.TrimSpace(req.tote())
	if toteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tote_id is required"})
		return
	}
	r := s.sensors.Upsert(req.reading(toteID))
	s.metrics.SensorUpdate(string(r.Status))
	c.JSON(http.StatusOK, gin.H{"ok": true, "status": r.Status})
}

func (s *server) liveHandler(c *gin.Context) {
	c.JSON(http.StatusOK, s.sensors.Snapshot())
}
