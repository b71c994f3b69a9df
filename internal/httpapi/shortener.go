package httpapi

import (
	"bytes"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	defaultShortenerEndpoint = "https://www.googleapis.com/urlshortener/v1/url"
	defaultShortenerReferer  = "url-cast.physical-web.org"
	defaultShortenerTimeout  = 10 * time.Second
	headerNameReferer        = "Referer"
	contentTypeJSON          = "application/json"

	logEventShortenFailed = "shorten_url_failed"
)

// ShortenerHandlers proxy shorten requests to the external shortener API,
// attaching the configured API key.
type ShortenerHandlers struct {
	httpClient *http.Client
	logger     *zap.Logger
	endpoint   string
	apiKey     string
}

// NewShortenerHandlers builds the proxy for the given API key.
func NewShortenerHandlers(httpClient *http.Client, logger *zap.Logger, apiKey string) *ShortenerHandlers {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: defaultShortenerTimeout}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShortenerHandlers{
		httpClient: httpClient,
		logger:     logger,
		endpoint:   defaultShortenerEndpoint,
		apiKey:     apiKey,
	}
}

// WithEndpoint overrides the shortener API endpoint.
func (handlers *ShortenerHandlers) WithEndpoint(endpoint string) *ShortenerHandlers {
	handlers.endpoint = endpoint
	return handlers
}

// ShortenURL handles POST /shorten-url by forwarding the JSON body to the
// shortener API and relaying its response verbatim.
func (handlers *ShortenerHandlers) ShortenURL(ginContext *gin.Context) {
	requestBody, readErr := io.ReadAll(ginContext.Request.Body)
	if readErr != nil {
		ginContext.Status(http.StatusBadRequest)
		return
	}

	request, requestErr := http.NewRequestWithContext(
		ginContext.Request.Context(),
		http.MethodPost,
		handlers.endpoint+"?key="+handlers.apiKey,
		bytes.NewReader(requestBody),
	)
	if requestErr != nil {
		ginContext.Status(http.StatusBadGateway)
		return
	}
	request.Header.Set(headerNameContentType, contentTypeJSON)
	request.Header.Set(headerNameReferer, defaultShortenerReferer)

	response, doErr := handlers.httpClient.Do(request)
	if doErr != nil {
		handlers.logger.Warn(logEventShortenFailed, zap.Error(doErr))
		ginContext.Status(http.StatusBadGateway)
		return
	}
	defer response.Body.Close()

	responseBody, responseErr := io.ReadAll(response.Body)
	if responseErr != nil {
		handlers.logger.Warn(logEventShortenFailed, zap.Error(responseErr))
		ginContext.Status(http.StatusBadGateway)
		return
	}

	ginContext.Data(response.StatusCode, contentTypeJSON, responseBody)
}
