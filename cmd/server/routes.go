package main

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/google/physical-web/internal/httpapi"
)

const (
	publicRouteIndex        = "/"
	publicRouteResolveScan  = "/resolve-scan"
	publicRouteRefreshURL   = "/refresh-url"
	publicRouteFavicon      = "/favicon"
	publicRouteGo           = "/go"
	publicRouteDemo         = "/demo"
	publicRouteShortenURL   = "/shorten-url"
	experimentalRouteGoogl  = "/experimental/googl/*path"
	corsOriginWildcard      = "*"
	corsHeaderContentType   = "Content-Type"
	httpMethodGet           = "GET"
	httpMethodHead          = "HEAD"
	httpMethodOptions       = "OPTIONS"
	httpMethodPost          = "POST"
	corsPreflightCacheHours = 12
)

var (
	corsAllowedMethods = []string{httpMethodPost, httpMethodGet, httpMethodHead, httpMethodOptions}
	corsAllowedHeaders = []string{corsHeaderContentType}
	corsExposedHeaders = []string{corsHeaderContentType}
)

func registerRoutes(
	router *gin.Engine,
	scanHandlers *httpapi.ScanHandlers,
	faviconHandlers *httpapi.FaviconRelayHandlers,
	redirectHandlers *httpapi.RedirectHandlers,
	shortenerHandlers *httpapi.ShortenerHandlers,
	experimentalHandlers *httpapi.ExperimentalHandlers,
	experimentalEnabled bool,
) {
	publicCORS := cors.New(cors.Config{
		AllowOrigins:     []string{corsOriginWildcard},
		AllowMethods:     corsAllowedMethods,
		AllowHeaders:     corsAllowedHeaders,
		ExposeHeaders:    corsExposedHeaders,
		AllowCredentials: false,
		MaxAge:           corsPreflightCacheHours * time.Hour,
	})

	publicGroup := router.Group(publicRouteIndex)
	publicGroup.Use(publicCORS)

	publicGroup.GET(publicRouteIndex, redirectHandlers.Index)
	publicGroup.HEAD(publicRouteIndex, redirectHandlers.Index)
	publicGroup.POST(publicRouteResolveScan, scanHandlers.ResolveScan)
	publicGroup.POST(publicRouteRefreshURL, scanHandlers.RefreshURL)
	publicGroup.GET(publicRouteDemo, scanHandlers.DemoMetadata)
	publicGroup.HEAD(publicRouteDemo, scanHandlers.DemoMetadata)
	publicGroup.GET(publicRouteFavicon, faviconHandlers.RelayFavicon)
	publicGroup.GET(publicRouteGo, redirectHandlers.GoURL)
	publicGroup.HEAD(publicRouteGo, redirectHandlers.GoURL)
	publicGroup.POST(publicRouteShortenURL, shortenerHandlers.ShortenURL)

	if experimentalEnabled {
		publicGroup.GET(experimentalRouteGoogl, experimentalHandlers.GooglRedirect)
		publicGroup.HEAD(experimentalRouteGoogl, experimentalHandlers.GooglRedirect)
	}
}
