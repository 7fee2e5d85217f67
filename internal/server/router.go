package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/deaddrop/internal/drops"
	"github.com/MarcoPoloResearchLab/deaddrop/internal/stats"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultMaxPayloadBytes = 1 << 20
	formFieldData          = "data"
	jsonContentType        = "application/json"
	seriesLabelDrops       = "# of Drops"
	seriesLabelUniqueUsers = "Unique Users"
)

var (
	errMissingDropService  = errors.New("drop service dependency required")
	errMissingStatsService = errors.New("stats service dependency required")
	errMissingHasher       = errors.New("pseudonym hasher dependency required")
)

type DropService interface {
	Create(ctx context.Context, data, userHash string) (string, error)
	Pickup(ctx context.Context, key string) (drops.PickupResult, error)
	IssueFormKey(ctx context.Context) (string, error)
}

type StatsService interface {
	DailySeries(ctx context.Context) (stats.DailySeries, error)
}

type Pseudonymizer interface {
	Pseudonym(rawAddress string) string
}

type Dependencies struct {
	DropService     DropService
	StatsService    StatsService
	Hasher          Pseudonymizer
	HealthCheck     func(ctx context.Context) error
	TrustedProxies  []string
	MaxPayloadBytes int64
	Logger          *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.DropService == nil {
		return nil, errMissingDropService
	}
	if deps.StatsService == nil {
		return nil, errMissingStatsService
	}
	if deps.Hasher == nil {
		return nil, errMissingHasher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxPayloadBytes := deps.MaxPayloadBytes
	if maxPayloadBytes <= 0 {
		maxPayloadBytes = defaultMaxPayloadBytes
	}

	router := gin.New()
	var trustedProxies []string
	if len(deps.TrustedProxies) > 0 {
		trustedProxies = deps.TrustedProxies
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(corsMiddleware())

	handler := &httpHandler{
		drops:           deps.DropService,
		stats:           deps.StatsService,
		hasher:          deps.Hasher,
		healthCheck:     deps.HealthCheck,
		maxPayloadBytes: maxPayloadBytes,
		logger:          logger,
	}

	router.GET("/formkey", handler.handleFormKey)
	router.POST("/drop", handler.handleDrop)
	router.GET("/drop/:id", handler.handlePickup)
	router.GET("/getdrop.php", handler.handlePickup)
	router.GET("/stats/json", handler.handleStats)
	router.GET("/healthz", handler.handleHealth)

	return router, nil
}

// corsMiddleware lets the static drop page post from any origin. Nothing is
// authenticated, so credentials stay disabled.
func corsMiddleware() gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Content-Type"},
		MaxAge:       12 * time.Hour,
	})
}

type httpHandler struct {
	drops           DropService
	stats           StatsService
	hasher          Pseudonymizer
	healthCheck     func(ctx context.Context) error
	maxPayloadBytes int64
	logger          *zap.Logger
}

type formKeyResponsePayload struct {
	Key string `json:"key"`
}

type dropResponsePayload struct {
	ID string `json:"id"`
}

type seriesPayload struct {
	Label string        `json:"label"`
	Data  []stats.Point `json:"data"`
}

func (h *httpHandler) handleFormKey(c *gin.Context) {
	key, err := h.drops.IssueFormKey(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to issue form key", err)
		return
	}
	c.JSON(http.StatusOK, formKeyResponsePayload{Key: key})
}

func (h *httpHandler) handleDrop(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxPayloadBytes)
	if err := h.parseDropForm(c); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload_too_large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	data, ok := c.GetPostForm(formFieldData)
	if !ok || data == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	userHash := h.hasher.Pseudonym(c.ClientIP())
	key, err := h.drops.Create(c.Request.Context(), data, userHash)
	if err != nil {
		h.respondServiceError(c, "failed to create drop", err)
		return
	}
	c.JSON(http.StatusOK, dropResponsePayload{ID: key})
}

// parseDropForm parses the body up front so a body cut off by the size cap is
// reported instead of leaving the form silently empty. ParseForm leaves
// multipart bodies alone, so those are parsed explicitly.
func (h *httpHandler) parseDropForm(c *gin.Context) error {
	if c.ContentType() == gin.MIMEMultipartPOSTForm {
		return c.Request.ParseMultipartForm(h.maxPayloadBytes)
	}
	return c.Request.ParseForm()
}

// handlePickup answers every non-delivered outcome with the same empty body,
// so absent, expired and undated drops are indistinguishable to the caller.
func (h *httpHandler) handlePickup(c *gin.Context) {
	key := c.Param("id")
	if key == "" {
		key = c.Query("id")
	}

	result, err := h.drops.Pickup(c.Request.Context(), strings.TrimSpace(key))
	if err != nil {
		h.respondServiceError(c, "failed to pick up drop", err)
		return
	}

	c.Header("Cache-Control", "no-store")
	c.Data(http.StatusOK, jsonContentType, []byte(result.Payload))
}

func (h *httpHandler) handleStats(c *gin.Context) {
	series, err := h.stats.DailySeries(c.Request.Context())
	if err != nil {
		h.respondServiceError(c, "failed to compute stats", err)
		return
	}
	c.JSON(http.StatusOK, []seriesPayload{
		{Label: seriesLabelDrops, Data: series.Counts},
		{Label: seriesLabelUniqueUsers, Data: series.Uniques},
	})
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	if h.healthCheck != nil {
		if err := h.healthCheck(c.Request.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type codedError interface {
	Code() string
}

func (h *httpHandler) respondServiceError(c *gin.Context, message string, err error) {
	h.logger.Error(message, zap.Error(err))
	body := gin.H{"error": "storage_unavailable"}
	var coded codedError
	if errors.As(err, &coded) {
		body["code"] = coded.Code()
	}
	c.JSON(http.StatusInternalServerError, body)
}

// requestLogger logs the route template rather than the raw path so drop keys
// never reach the logs. Client addresses are not logged.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		logger.Debug("http request",
			zap.String("method", c.Request.Method),
			zap.String("route", route),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}
