package httpapi_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/google/physical-web/internal/httpapi"
)

const (
	routeShortenURL = "/shorten-url"
	testAPIKeyValue = "test-api-key"
)

func newShortenerRouter(endpoint string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handlers := httpapi.NewShortenerHandlers(nil, nil, testAPIKeyValue).WithEndpoint(endpoint)
	router := gin.New()
	router.POST(routeShortenURL, handlers.ShortenURL)
	return router
}

func TestShortenURLProxiesRequestWithKeyAndReferer(t *testing.T) {
	var observedQueryKey string
	var observedReferer string
	var observedBody string

	upstream := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		observedQueryKey = request.URL.Query().Get("key")
		observedReferer = request.Header.Get("Referer")
		bodyBytes, _ := io.ReadAll(request.Body)
		observedBody = string(bodyBytes)
		writer.Write([]byte(`{"id":"https://goo.gl/abc123"}`))
	}))
	defer upstream.Close()

	router := newShortenerRouter(upstream.URL)
	recorder := httptest.NewRecorder()
	request := httptest.NewRequest(http.MethodPost, routeShortenURL, strings.NewReader(`{"longUrl":"http://example.com"}`))
	router.ServeHTTP(recorder, request)

	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, testAPIKeyValue, observedQueryKey)
	require.Equal(t, "url-cast.physical-web.org", observedReferer)
	require.Equal(t, `{"longUrl":"http://example.com"}`, observedBody)
	require.JSONEq(t, `{"id":"https://goo.gl/abc123"}`, recorder.Body.String())
}

func TestShortenURLRelaysUpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusForbidden)
		writer.Write([]byte(`{"error":"keyInvalid"}`))
	}))
	defer upstream.Close()

	router := newShortenerRouter(upstream.URL)
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, routeShortenURL, strings.NewReader(`{}`)))

	require.Equal(t, http.StatusForbidden, recorder.Code)
	require.JSONEq(t, `{"error":"keyInvalid"}`, recorder.Body.String())
}

func TestShortenURLMapsUnreachableUpstreamToBadGateway(t *testing.T) {
	router := newShortenerRouter("http://127.0.0.1:1")
	recorder := httptest.NewRecorder()
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodPost, routeShortenURL, strings.NewReader(`{}`)))

	require.Equal(t, http.StatusBadGateway, recorder.Code)
}
