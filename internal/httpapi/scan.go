package httpapi

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/google/physical-web/internal/model"
	"github.com/google/physical-web/internal/resolution"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"

	groupIDHexLength  = 16
	groupIDSeparator  = "\x00"
	faviconRelayPath  = "/favicon"
	queryParameterURL = "url"
	formParameterURL  = "url"

	logEventScanRejected  = "scan_rejected"
	logEventEntryDropped  = "scan_entry_dropped"
	logEventGroupIDFailed = "groupid_failed"
	logEventJSONLDDiscard = "jsonld_discarded"
	logFieldScanURL       = "url"
)

// URLResolver resolves one scanned URL into a cached metadata record.
type URLResolver interface {
	Resolve(ctx context.Context, requestURL string, distance resolution.Distance, force bool) (*model.SiteRecord, error)
}

// RefreshScheduler enqueues a background refresh for a URL.
type RefreshScheduler interface {
	Enqueue(targetURL string) bool
}

// ScanHandlers exposes the resolution pipeline over HTTP.
type ScanHandlers struct {
	resolver          URLResolver
	refreshScheduler  RefreshScheduler
	logger            *zap.Logger
	defaultSecureOnly bool
}

// NewScanHandlers wires the scan, refresh and demo endpoints.
func NewScanHandlers(resolver URLResolver, refreshScheduler RefreshScheduler, logger *zap.Logger, defaultSecureOnly bool) *ScanHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScanHandlers{
		resolver:          resolver,
		refreshScheduler:  refreshScheduler,
		logger:            logger,
		defaultSecureOnly: defaultSecureOnly,
	}
}

type scanObject struct {
	URL     string `json:"url"`
	Force   bool   `json:"force"`
	RSSI    any    `json:"rssi"`
	TxPower any    `json:"txpower"`
}

type scanRequest struct {
	Objects    []scanObject `json:"objects"`
	SecureOnly *bool        `json:"secureOnly"`
}

type deviceData struct {
	ID          string  `json:"id"`
	URL         string  `json:"url"`
	DisplayURL  string  `json:"displayUrl"`
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Icon        string  `json:"icon,omitempty"`
	JSONLD      []any   `json:"json-ld,omitempty"`
	GroupID     string  `json:"groupid,omitempty"`
	Rank        float64 `json:"rank"`
}

type scanResponse struct {
	Metadata   []deviceData `json:"metadata"`
	Unresolved []string     `json:"unresolved,omitempty"`
}

type scanResult struct {
	device     deviceData
	distance   resolution.Distance
	emitted    bool
	unresolved string
}

// ResolveScan handles POST /resolve-scan: it resolves every object of the
// batch in parallel, filters per policy and returns the ranked metadata.
func (handlers *ScanHandlers) ResolveScan(ginContext *gin.Context) {
	var payload scanRequest
	if bindErr := ginContext.ShouldBindJSON(&payload); bindErr != nil {
		handlers.logger.Debug(logEventScanRejected, zap.Error(bindErr))
		ginContext.JSON(http.StatusOK, scanResponse{Metadata: []deviceData{}})
		return
	}

	secureOnly := handlers.defaultSecureOnly
	if payload.SecureOnly != nil {
		secureOnly = *payload.SecureOnly
	}

	// Fetches outlive the client connection: an abandoned scan still
	// populates the cache for the next caller.
	batchContext := context.WithoutCancel(ginContext.Request.Context())
	ginContext.JSON(http.StatusOK, handlers.buildResponse(batchContext, payload.Objects, secureOnly))
}

// RefreshURL handles POST /refresh-url by scheduling a background refresh
// for the supplied URL. The response is always an empty 200.
func (handlers *ScanHandlers) RefreshURL(ginContext *gin.Context) {
	targetURL := ginContext.PostForm(formParameterURL)
	if targetURL == "" {
		targetURL = ginContext.Query(queryParameterURL)
	}
	if targetURL != "" && handlers.refreshScheduler != nil {
		handlers.refreshScheduler.Enqueue(targetURL)
	}
	ginContext.Status(http.StatusOK)
}

var demoScanObjects = []scanObject{
	{URL: "http://www.caltrain.com/schedules/realtime/stations/mountainviewstation-mobile.html"},
	{URL: "http://benfry.com/distellamap/"},
	{URL: "http://en.wikipedia.org/wiki/Le_D%C3%A9jeuner_sur_l%E2%80%99herbe"},
	{URL: "http://sfmoma.org"},
}

// DemoMetadata handles GET /demo with a canned batch through the same
// pipeline as a live scan. HEAD requests answer without resolving.
func (handlers *ScanHandlers) DemoMetadata(ginContext *gin.Context) {
	if ginContext.Request.Method == http.MethodHead {
		ginContext.Status(http.StatusOK)
		return
	}
	batchContext := context.WithoutCancel(ginContext.Request.Context())
	ginContext.JSON(http.StatusOK, handlers.buildResponse(batchContext, demoScanObjects, handlers.defaultSecureOnly))
}

// buildResponse resolves the batch in parallel, so that latency is bounded
// by the slowest URL rather than the sum, then ranks by distance.
func (handlers *ScanHandlers) buildResponse(ctx context.Context, objects []scanObject, secureOnly bool) scanResponse {
	results := make([]scanResult, len(objects))

	var pending sync.WaitGroup
	for objectIndex := range objects {
		pending.Add(1)
		go func(slot *scanResult, object scanObject) {
			defer pending.Done()
			*slot = handlers.resolveObject(ctx, object, secureOnly)
		}(&results[objectIndex], objects[objectIndex])
	}
	pending.Wait()

	emitted := make([]scanResult, 0, len(results))
	var unresolved []string
	for _, result := range results {
		if result.emitted {
			emitted = append(emitted, result)
		}
		if result.unresolved != "" {
			unresolved = append(unresolved, result.unresolved)
		}
	}

	sort.SliceStable(emitted, func(left int, right int) bool {
		return emitted[left].distance.Less(emitted[right].distance)
	})

	metadata := make([]deviceData, 0, len(emitted))
	for _, result := range emitted {
		result.device.Rank = result.distance.Rank()
		metadata = append(metadata, result.device)
	}

	return scanResponse{Metadata: metadata, Unresolved: unresolved}
}

func (handlers *ScanHandlers) resolveObject(ctx context.Context, object scanObject, secureOnly bool) scanResult {
	if object.URL == "" {
		return scanResult{}
	}

	parsedInput, parseErr := url.Parse(object.URL)
	if parseErr != nil || (parsedInput.Scheme != schemeHTTP && parsedInput.Scheme != schemeHTTPS) {
		return scanResult{unresolved: object.URL}
	}

	distance := resolution.ComputeDistance(object.RSSI, object.TxPower)

	record, resolveErr := handlers.resolver.Resolve(ctx, object.URL, distance, object.Force)
	if resolveErr != nil {
		handlers.logger.Debug(logEventEntryDropped, zap.String(logFieldScanURL, object.URL), zap.Error(resolveErr))
		return scanResult{unresolved: object.URL}
	}
	if record == nil {
		return scanResult{unresolved: object.URL}
	}

	finalURL, finalErr := finalURLWithFragment(record.ResolvedURL, parsedInput.Fragment)
	if finalErr != nil {
		handlers.logger.Debug(logEventEntryDropped, zap.String(logFieldScanURL, object.URL), zap.Error(finalErr))
		return scanResult{unresolved: object.URL}
	}
	if secureOnly && finalURL.Scheme != schemeHTTPS {
		return scanResult{}
	}

	device := deviceData{
		ID:          object.URL,
		URL:         finalURL.String(),
		DisplayURL:  finalURL.String(),
		Title:       record.Title,
		Description: record.Description,
	}
	if record.FaviconURL != "" {
		device.Icon = faviconRelayPath + "?" + queryParameterURL + "=" + url.QueryEscape(record.FaviconURL)
	}
	if record.JSONLDs != "" {
		var jsonldObjects []any
		if unmarshalErr := json.Unmarshal([]byte(record.JSONLDs), &jsonldObjects); unmarshalErr != nil {
			handlers.logger.Warn(logEventJSONLDDiscard, zap.String(logFieldScanURL, object.URL), zap.Error(unmarshalErr))
		} else {
			device.JSONLD = jsonldObjects
		}
	}
	device.GroupID = handlers.computeGroupID(finalURL, record)

	return scanResult{device: device, distance: distance, emitted: true}
}

// finalURLWithFragment adopts the input URL's fragment when redirect
// resolution dropped it.
func finalURLWithFragment(resolvedURL string, inputFragment string) (*url.URL, error) {
	parsedFinal, parseErr := url.Parse(resolvedURL)
	if parseErr != nil {
		return nil, parseErr
	}
	if parsedFinal.Fragment == "" && inputFragment != "" {
		parsedFinal.Fragment = inputFragment
	}
	return parsedFinal, nil
}

// computeGroupID derives a stable grouping key from the final host and the
// most specific identifier available.
func (handlers *ScanHandlers) computeGroupID(finalURL *url.URL, record *model.SiteRecord) string {
	if finalURL.Host == "" {
		handlers.logger.Debug(logEventGroupIDFailed, zap.String(logFieldScanURL, finalURL.String()))
		return ""
	}

	identifier := record.Title
	if identifier == "" {
		identifier = record.Description
	}
	if identifier == "" {
		identifier = finalURL.Path
	}

	digest := sha1.Sum([]byte(finalURL.Host + groupIDSeparator + identifier))
	return hex.EncodeToString(digest[:])[:groupIDHexLength]
}
