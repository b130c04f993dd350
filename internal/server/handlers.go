package server

import (
	"context"
	"net/http"
	"time"

	"github.com/aitorroca/wn-securityheaders-plugin/pkg/version"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthCheckTimeout = 2 * time.Second

// HealthResponse represents health check response
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  int64             `json:"uptime"`
	Checks  map[string]string `json:"checks,omitempty"`
}

// VersionResponse represents version information response
type VersionResponse struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

var startTime = time.Now()

// handleHealth runs every registered check. Any failure turns the response
// into a 503 so load balancers stop routing here.
func (s *Server) handleHealth(c *gin.Context) {
	names, checks := s.healthChecks()

	response := HealthResponse{
		Status:  "healthy",
		Version: version.Version,
		Uptime:  int64(time.Since(startTime).Seconds()),
	}
	status := http.StatusOK

	if len(names) > 0 {
		response.Checks = make(map[string]string, len(names))

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
		defer cancel()

		for _, name := range names {
			if err := checks[name].Health(ctx); err != nil {
				response.Checks[name] = err.Error()
				response.Status = "unhealthy"
				status = http.StatusServiceUnavailable
				s.logger.Warn("Health check failed", zap.String("check", name), zap.Error(err))
				continue
			}
			response.Checks[name] = "ok"
		}
	}

	c.JSON(status, response)
}

// handleVersion handles version information requests
func (s *Server) handleVersion(c *gin.Context) {
	buildInfo := version.GetBuildInfo()

	response := VersionResponse{
		Version:   buildInfo.Version,
		GitCommit: buildInfo.GitCommit,
		BuildDate: buildInfo.BuildDate,
		GoVersion: buildInfo.GoVersion,
		Platform:  buildInfo.Platform,
	}

	c.JSON(http.StatusOK, response)
}
