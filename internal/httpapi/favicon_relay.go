package httpapi

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/google/physical-web/internal/storage"
)

const (
	defaultRelayTimeout      = 5 * time.Second
	defaultMaxRelayIconBytes = 1024 * 1024
	headerNameContentType    = "Content-Type"
	fallbackIconContentType  = "application/octet-stream"

	logEventRelayRejected = "favicon_relay_rejected"
	logEventRelayFailed   = "favicon_relay_failed"
	logFieldIconURL       = "icon_url"
)

// FaviconRelayHandlers serve icon bytes on behalf of clients so scanners
// never contact third-party origins directly. Only icon URLs referenced by
// a stored record are relayed.
type FaviconRelayHandlers struct {
	store        *storage.SiteRecordStore
	httpClient   *http.Client
	logger       *zap.Logger
	maxIconBytes int64
}

// NewFaviconRelayHandlers builds the relay. A nil client yields a default
// client with a short timeout.
func NewFaviconRelayHandlers(store *storage.SiteRecordStore, httpClient *http.Client, logger *zap.Logger) *FaviconRelayHandlers {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultRelayTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FaviconRelayHandlers{
		store:        store,
		httpClient:   httpClient,
		logger:       logger,
		maxIconBytes: defaultMaxRelayIconBytes,
	}
}

// RelayFavicon handles GET /favicon?url=: it streams the icon bytes with
// the origin's Content-Type, or 404s when the URL is unknown to the store
// or the fetch fails.
func (handlers *FaviconRelayHandlers) RelayFavicon(ginContext *gin.Context) {
	iconURL := ginContext.Query(queryParameterURL)
	if iconURL == "" {
		ginContext.Status(http.StatusNotFound)
		return
	}

	known, lookupErr := handlers.store.HasFaviconURL(iconURL)
	if lookupErr != nil {
		handlers.logger.Warn(logEventRelayFailed, zap.String(logFieldIconURL, iconURL), zap.Error(lookupErr))
		ginContext.Status(http.StatusNotFound)
		return
	}
	if !known {
		handlers.logger.Debug(logEventRelayRejected, zap.String(logFieldIconURL, iconURL))
		ginContext.Status(http.StatusNotFound)
		return
	}

	request, requestErr := http.NewRequestWithContext(ginContext.Request.Context(), http.MethodGet, iconURL, nil)
	if requestErr != nil {
		ginContext.Status(http.StatusNotFound)
		return
	}

	response, fetchErr := handlers.httpClient.Do(request)
	if fetchErr != nil {
		handlers.logger.Debug(logEventRelayFailed, zap.String(logFieldIconURL, iconURL), zap.Error(fetchErr))
		ginContext.Status(http.StatusNotFound)
		return
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		ginContext.Status(http.StatusNotFound)
		return
	}

	iconBytes, readErr := io.ReadAll(io.LimitReader(response.Body, handlers.maxIconBytes))
	if readErr != nil {
		handlers.logger.Debug(logEventRelayFailed, zap.String(logFieldIconURL, iconURL), zap.Error(readErr))
		ginContext.Status(http.StatusNotFound)
		return
	}

	contentType := response.Header.Get(headerNameContentType)
	if contentType == "" {
		contentType = fallbackIconContentType
	}
	ginContext.Data(http.StatusOK, contentType, iconBytes)
}
