package httpapi_test

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/google/physical-web/internal/httpapi"
	"github.com/google/physical-web/internal/storage"
	"github.com/google/physical-web/internal/testutil"
)

const routeFavicon = "/favicon"

func newFaviconRouter(t *testing.T) (*gin.Engine, *storage.SiteRecordStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	store := storage.NewSiteRecordStore(testutil.OpenMigrated(t))
	handlers := httpapi.NewFaviconRelayHandlers(store, nil, nil)
	router := gin.New()
	router.GET(routeFavicon, handlers.RelayFavicon)
	return router, store
}

func relayRequest(router *gin.Engine, iconURL string) *httptest.ResponseRecorder {
	recorder := httptest.NewRecorder()
	target := routeFavicon
	if iconURL != "" {
		target += "?url=" + url.QueryEscape(iconURL)
	}
	router.ServeHTTP(recorder, httptest.NewRequest(http.MethodGet, target, nil))
	return recorder
}

func TestRelayFaviconServesKnownIcon(t *testing.T) {
	iconServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.Header().Set("Content-Type", "image/png")
		writer.Write([]byte("png-bytes"))
	}))
	defer iconServer.Close()

	router, store := newFaviconRouter(t)
	iconURL := iconServer.URL + "/favicon.ico"
	_, upsertErr := store.Upsert("http://example.com", storage.SiteRecordFields{
		ResolvedURL: "http://example.com",
		FaviconURL:  iconURL,
	})
	require.NoError(t, upsertErr)

	recorder := relayRequest(router, iconURL)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Equal(t, "image/png", recorder.Header().Get("Content-Type"))
	require.Equal(t, "png-bytes", recorder.Body.String())
}

func TestRelayFaviconRejectsUnknownIconURL(t *testing.T) {
	router, _ := newFaviconRouter(t)
	recorder := relayRequest(router, "http://example.com/not-in-store.ico")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRelayFaviconRejectsMissingURLParameter(t *testing.T) {
	router, _ := newFaviconRouter(t)
	recorder := relayRequest(router, "")
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRelayFaviconMapsOriginErrorsToNotFound(t *testing.T) {
	iconServer := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		writer.WriteHeader(http.StatusInternalServerError)
	}))
	defer iconServer.Close()

	router, store := newFaviconRouter(t)
	iconURL := iconServer.URL + "/favicon.ico"
	_, upsertErr := store.Upsert("http://example.com", storage.SiteRecordFields{
		ResolvedURL: "http://example.com",
		FaviconURL:  iconURL,
	})
	require.NoError(t, upsertErr)

	recorder := relayRequest(router, iconURL)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}

func TestRelayFaviconMapsUnreachableOriginToNotFound(t *testing.T) {
	router, store := newFaviconRouter(t)
	iconURL := "http://127.0.0.1:1/favicon.ico"
	_, upsertErr := store.Upsert("http://example.com", storage.SiteRecordFields{
		ResolvedURL: "http://example.com",
		FaviconURL:  iconURL,
	})
	require.NoError(t, upsertErr)

	recorder := relayRequest(router, iconURL)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}
