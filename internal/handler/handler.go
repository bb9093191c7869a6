package handler

import (
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"checkin/internal/capture"
	"checkin/internal/checkin"
	"checkin/internal/record"
	"checkin/internal/suggest"
)

var (
	checkinOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_attempts_total",
			Help: "Check-in attempts by terminal outcome.",
		},
		[]string{"outcome"},
	)
	photoPersists = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkin_photo_persists_total",
			Help: "Photo upload-and-persist results.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(checkinOutcomes, photoPersists)
}

// Deps are the wired components the handlers drive.
type Deps struct {
	Suggest    *suggest.Index
	Camera     *capture.Camera // nil when no kiosk camera is configured
	NewSession func() *checkin.Session
	Log        *slog.Logger
}

// Handler binds the check-in workflow to the HTTP API. Sessions are
// held in memory, one per client, and discarded on delete or by the
// idle sweep.
type Handler struct {
	suggest    *suggest.Index
	camera     *capture.Camera
	newSession func() *checkin.Session
	log        *slog.Logger

	mu       sync.Mutex
	sessions map[string]*sessionEntry
}

type sessionEntry struct {
	sess *checkin.Session
	seen time.Time
}

// New creates a Handler.
func New(d Deps) *Handler {
	log := d.Log
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		suggest:    d.Suggest,
		camera:     d.Camera,
		newSession: d.NewSession,
		log:        log,
		sessions:   make(map[string]*sessionEntry),
	}
}

// SweepIdle closes and removes sessions idle longer than ttl,
// returning how many were dropped. Kiosk clients rarely delete their
// sessions, so without the sweep abandoned ones accumulate for the
// life of the process.
func (h *Handler) SweepIdle(ttl time.Duration) int {
	now := time.Now()
	h.mu.Lock()
	var stale []*checkin.Session
	for id, e := range h.sessions {
		if now.Sub(e.seen) > ttl {
			stale = append(stale, e.sess)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, sess := range stale {
		sess.Close()
	}
	return len(stale)
}

// Register mounts the API routes.
func (h *Handler) Register(api gin.IRouter) {
	api.GET("/years", h.Years)
	api.GET("/suggest", h.Suggest)

	api.POST("/sessions", h.CreateSession)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.DeleteSession)
	api.POST("/sessions/:id/submit", h.Submit)
	api.POST("/sessions/:id/select", h.Select)
	api.POST("/sessions/:id/photo", h.Photo)
	api.POST("/sessions/:id/capture", h.SessionCapture)
	api.POST("/sessions/:id/back", h.BackAction)

	api.POST("/camera/start", h.CameraStart)
	api.POST("/camera/stop", h.CameraStop)
	api.POST("/camera/flip", h.CameraFlip)
	api.POST("/camera/capture", h.CameraCapture)
}

// ---------- Suggestions ----------

// Years returns the cohort years the form offers.
func (h *Handler) Years(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"years": record.Years})
}

// Suggest filters the cached candidate list. Loading state is
// surfaced; the filter itself never blocks on the fetch.
func (h *Handler) Suggest(c *gin.Context) {
	matches := h.suggest.Filter(c.Query("q"))
	if matches == nil {
		matches = []suggest.Candidate{}
	}
	c.JSON(http.StatusOK, gin.H{
		"suggestions": matches,
		"loading":     !h.suggest.Loaded(),
	})
}

// ---------- Sessions ----------

func (h *Handler) CreateSession(c *gin.Context) {
	id := uuid.NewString()
	sess := h.newSession()

	h.mu.Lock()
	h.sessions[id] = &sessionEntry{sess: sess, seen: time.Now()}
	h.mu.Unlock()

	c.JSON(http.StatusCreated, gin.H{"session_id": id, "session": sess.Snapshot()})
}

func (h *Handler) GetSession(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Snapshot()})
}

func (h *Handler) DeleteSession(c *gin.Context) {
	h.mu.Lock()
	e, ok := h.sessions[c.Param("id")]
	delete(h.sessions, c.Param("id"))
	h.mu.Unlock()
	if ok {
		e.sess.Close()
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Submit(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Name  string `json:"name"`
		Year  string `json:"year"`
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := sess.Submit(c.Request.Context(), req.Name, req.Year, req.Email)
	h.writeSnapshot(c, snap, err)
}

func (h *Handler) Select(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	var req struct {
		Name string `json:"name" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	snap, err := sess.SelectSuggestion(c.Request.Context(), req.Name)
	h.writeSnapshot(c, snap, err)
}

// Photo accepts the captured still as a multipart file or a base64
// data URL and runs upload-and-persist.
func (h *Handler) Photo(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	still, err := stillFromRequest(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	h.confirmPhoto(c, sess, still)
}

// SessionCapture grabs a still from the kiosk camera and confirms it
// in one step.
func (h *Handler) SessionCapture(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	if h.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not configured"})
		return
	}
	still, err := h.camera.CaptureStill(c.Request.Context())
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	h.confirmPhoto(c, sess, still)
}

func (h *Handler) confirmPhoto(c *gin.Context, sess *checkin.Session, still []byte) {
	snap, err := sess.ConfirmPhoto(c.Request.Context(), still)
	switch {
	case err == nil:
		photoPersists.WithLabelValues("ok").Inc()
	case errors.As(err, new(*checkin.UploadError)):
		photoPersists.WithLabelValues("upload_failed").Inc()
	case errors.As(err, new(*checkin.WriteError)):
		photoPersists.WithLabelValues("write_failed").Inc()
	}
	h.writeSnapshot(c, snap, err)
}

func (h *Handler) BackAction(c *gin.Context) {
	sess, ok := h.session(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"session": sess.Back()})
}

// ---------- Camera ----------

func (h *Handler) CameraStart(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not configured"})
		return
	}
	var req struct {
		Facing  string `json:"facing"`
		Compact bool   `json:"compact"`
	}
	_ = c.ShouldBindJSON(&req)
	if err := h.camera.Start(c.Request.Context(), capture.ParseFacing(req.Facing), req.Compact); err != nil {
		h.log.Warn("camera start failed", "err", err)
		h.writeCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.cameraState())
}

func (h *Handler) CameraStop(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not configured"})
		return
	}
	h.camera.Stop()
	c.JSON(http.StatusOK, h.cameraState())
}

func (h *Handler) CameraFlip(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not configured"})
		return
	}
	if err := h.camera.Flip(c.Request.Context()); err != nil {
		h.writeCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.cameraState())
}

// CameraCapture returns the current frame as a PNG data URL without
// touching any session.
func (h *Handler) CameraCapture(c *gin.Context) {
	if h.camera == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "camera not configured"})
		return
	}
	still, err := h.camera.CaptureStill(c.Request.Context())
	if err != nil {
		h.writeCameraError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data": "data:image/png;base64," + base64.StdEncoding.EncodeToString(still),
	})
}

func (h *Handler) cameraState() gin.H {
	state := gin.H{
		"state":  h.camera.State().String(),
		"facing": h.camera.Facing().String(),
	}
	if err := h.camera.Err(); err != nil {
		state["error"] = err.Error()
	}
	return state
}

func (h *Handler) writeCameraError(c *gin.Context, err error) {
	status := http.StatusBadGateway
	if errors.Is(err, capture.ErrNoStream) || errors.Is(err, capture.ErrSingleCamera) {
		status = http.StatusBadRequest
	}
	if errors.Is(err, capture.ErrStarting) {
		status = http.StatusConflict
	}
	c.JSON(status, gin.H{"error": err.Error()})
}

// ---------- Helpers ----------

func (h *Handler) session(c *gin.Context) (*checkin.Session, bool) {
	h.mu.Lock()
	e, ok := h.sessions[c.Param("id")]
	if ok {
		e.seen = time.Now()
	}
	h.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
		return nil, false
	}
	return e.sess, true
}

func (h *Handler) writeSnapshot(c *gin.Context, snap checkin.Snapshot, err error) {
	if err != nil {
		if !errors.Is(err, checkin.ErrBusy) {
			var validation *checkin.ValidationError
			if !errors.As(err, &validation) {
				checkinOutcomes.WithLabelValues("failed").Inc()
			}
		}
		c.JSON(httpStatus(err), gin.H{"error": err.Error(), "session": snap})
		return
	}
	switch snap.State {
	case checkin.StateSucceeded:
		checkinOutcomes.WithLabelValues("succeeded").Inc()
	case checkin.StateIneligible:
		checkinOutcomes.WithLabelValues("ineligible").Inc()
	}
	c.JSON(http.StatusOK, gin.H{"session": snap})
}

func httpStatus(err error) int {
	var (
		validation *checkin.ValidationError
		media      *checkin.MediaError
		lookupErr  *checkin.LookupError
		uploadErr  *checkin.UploadError
		writeErr   *checkin.WriteError
	)
	switch {
	case errors.Is(err, checkin.ErrBusy):
		return http.StatusConflict
	case errors.As(err, &validation), errors.As(err, &media):
		return http.StatusBadRequest
	case errors.As(err, &lookupErr), errors.As(err, &uploadErr), errors.As(err, &writeErr):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func stillFromRequest(c *gin.Context) ([]byte, error) {
	if strings.Contains(c.ContentType(), "multipart/form-data") {
		file, _, err := c.Request.FormFile("photo")
		if err != nil {
			file, _, err = c.Request.FormFile("file")
		}
		if err != nil {
			return nil, errors.New("photo file required")
		}
		defer file.Close()
		return io.ReadAll(file)
	}

	var body struct {
		Data string `json:"data" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		return nil, errors.New(`provide {"data": "<base64 data URL>"}`)
	}
	return decodeDataURL(body.Data)
}

func decodeDataURL(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ","); i >= 0 {
			s = s[i+1:]
		}
	}
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, errors.New("invalid base64 image data")
	}
	return data, nil
}
