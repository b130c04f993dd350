package reports

import (
	"errors"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/internal/metrics"
	"github.com/aitorroca/wn-securityheaders-plugin/internal/reports/violation"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// EndpointPath receives reports; the trailing segment names the action
	EndpointPath = "/_/reports/csp-endpoint/:action"
	// ListPath serves stored reports when listing is enabled
	ListPath = "/_/reports/csp"

	// MaxBodyBytes caps a single report request
	MaxBodyBytes = 64 << 10

	defaultListLimit = 50
	maxListLimit     = 500
)

var actionPattern = regexp.MustCompile(`^[a-z0-9_-]{1,64}$`)

// Outcome labels for securityheaders_csp_reports_received_total
const (
	outcomeStored   = "stored"
	outcomeInvalid  = "invalid"
	outcomeRejected = "rejected"
	outcomeError    = "error"
)

// Handler serves the report endpoint and the optional listing routes
type Handler struct {
	store      Store
	exposeList bool
	logger     *zap.Logger
	now        func() time.Time
}

// NewHandler creates a report handler backed by store
func NewHandler(store Store, exposeList bool, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		store:      store,
		exposeList: exposeList,
		logger:     logger,
		now:        time.Now,
	}
}

// Register adds the report routes to r
func (h *Handler) Register(r gin.IRoutes) {
	r.POST(EndpointPath, h.Receive)
	if h.exposeList {
		r.GET(ListPath, h.List)
		r.DELETE(ListPath, h.Clear)
	}
}

// Receive accepts a report-uri or Reporting API submission. Browsers ignore
// the response, so errors only carry a short reason.
func (h *Handler) Receive(c *gin.Context) {
	action := c.Param("action")
	if !actionPattern.MatchString(action) {
		metrics.CSPReportsReceivedTotal.WithLabelValues("invalid_action", outcomeRejected).Inc()
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid report action"})
		return
	}

	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxBodyBytes)
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		metrics.CSPReportsReceivedTotal.WithLabelValues(action, outcomeRejected).Inc()
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "report too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read report"})
		return
	}

	parsed, err := Parse(c.GetHeader("Content-Type"), body)
	if err != nil {
		metrics.CSPReportsReceivedTotal.WithLabelValues(action, outcomeRejected).Inc()
		if errors.Is(err, ErrUnsupportedContentType) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": "unsupported content type"})
			return
		}
		h.logger.Debug("Malformed CSP report", zap.String("action", action), zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed report"})
		return
	}

	stored := 0
	for _, r := range parsed {
		h.prepare(c, action, r)

		if err := violation.Validate(r); err != nil {
			metrics.CSPReportsReceivedTotal.WithLabelValues(action, outcomeInvalid).Inc()
			h.logger.Debug("Discarding invalid CSP report", zap.String("action", action), zap.Error(err))
			continue
		}

		if err := h.store.Add(c.Request.Context(), r); err != nil {
			metrics.CSPReportsReceivedTotal.WithLabelValues(action, outcomeError).Inc()
			h.logger.Error("Failed to store CSP report", zap.String("action", action), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store report"})
			return
		}

		metrics.CSPReportsReceivedTotal.WithLabelValues(action, outcomeStored).Inc()
		stored++

		h.logger.Info("CSP violation reported",
			zap.String("action", action),
			zap.String("document_uri", r.DocumentURI),
			zap.String("directive", r.Directive()),
			zap.String("blocked_uri", r.BlockedURI),
			zap.String("disposition", r.Disposition),
		)
	}

	if len(parsed) > 0 && stored == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "no valid reports"})
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *Handler) prepare(c *gin.Context, action string, r *Report) {
	r.ID = uuid.New().String()
	r.Action = action
	r.ReceivedAt = h.now().UTC()
	if r.UserAgent == "" {
		r.UserAgent = c.Request.UserAgent()
	}
	violation.Sanitize(r)
}

// List returns the most recent reports, newest first
func (h *Handler) List(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxListLimit)
	}

	list, err := h.store.List(c.Request.Context(), limit)
	if err != nil {
		h.logger.Error("Failed to list CSP reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list reports"})
		return
	}

	stats, err := h.store.Stats(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to read CSP report stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read report stats"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"reports": list,
		"stats":   stats,
	})
}

// Clear removes every stored report
func (h *Handler) Clear(c *gin.Context) {
	if err := h.store.Clear(c.Request.Context()); err != nil {
		h.logger.Error("Failed to clear CSP reports", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear reports"})
		return
	}
	c.Status(http.StatusNoContent)
}
