package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	headerNamePhysicalWebDistance = "X-PhysicalWeb-Distance"
	googlRedirectBase             = "https://goo.gl/"
	distanceGateMeters            = 2.0

	logEventGooglRedirect = "googl_redirect"
	logFieldDistance      = "distance"
)

// ExperimentalHandlers hold endpoints only registered on dev deployments.
type ExperimentalHandlers struct {
	logger *zap.Logger
}

// NewExperimentalHandlers creates the experimental handler set.
func NewExperimentalHandlers(logger *zap.Logger) *ExperimentalHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExperimentalHandlers{logger: logger}
}

// GooglRedirect handles /experimental/googl/*path: beacons reporting a
// distance above the gate get a 204 instead of the redirect, so only
// nearby scanners are sent through.
func (handlers *ExperimentalHandlers) GooglRedirect(context *gin.Context) {
	distance, distanceErr := strconv.ParseFloat(context.GetHeader(headerNamePhysicalWebDistance), 64)
	distanceKnown := distanceErr == nil

	handlers.logger.Info(logEventGooglRedirect, zap.Float64(logFieldDistance, distance))

	if distanceKnown && distance > distanceGateMeters {
		context.Status(http.StatusNoContent)
		return
	}

	shortPath := strings.TrimPrefix(context.Param("path"), "/")
	context.Redirect(http.StatusFound, googlRedirectBase+shortPath)
}
