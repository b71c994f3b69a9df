package resolution

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"
)

const (
	defaultFetchTimeout   = 10 * time.Second
	defaultMaxFetchBytes  = 1024 * 1024
	headerNameUserAgent   = "User-Agent"
	headerNameDistance    = "X-PhysicalWeb-Distance"
	errorMessageFetchFail = "resolution: fetch failed"
)

// ErrFetchFailed indicates a transport, DNS, TLS or timeout failure while
// fetching a URL.
var ErrFetchFailed = errors.New(errorMessageFetchFail)

// FetchResult carries the raw outcome of a single HTTP GET. Status codes
// are never interpreted by the Fetcher itself.
type FetchResult struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// Fetcher performs one HTTP GET per call with client-side redirect
// following disabled and TLS verification left on.
type Fetcher struct {
	httpClient           *http.Client
	userAgent            string
	attachDistanceHeader bool
	maxFetchBytes        int64
}

// NewFetcher builds a Fetcher around the provided client. A nil client
// yields a default client with a 10 second timeout. The client is copied
// so that disabling redirects does not leak into the caller's client.
func NewFetcher(httpClient *http.Client, userAgent string, attachDistanceHeader bool) *Fetcher {
	baseClient := httpClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: defaultFetchTimeout}
	}

	clientCopy := *baseClient
	clientCopy.CheckRedirect = func(request *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	}
	if clientCopy.Timeout == 0 {
		clientCopy.Timeout = defaultFetchTimeout
	}

	return &Fetcher{
		httpClient:           &clientCopy,
		userAgent:            userAgent,
		attachDistanceHeader: attachDistanceHeader,
		maxFetchBytes:        defaultMaxFetchBytes,
	}
}

// Fetch issues a single GET for the target URL. When the experimental
// distance header is enabled and a distance is known, it is forwarded to
// the origin.
func (fetcher *Fetcher) Fetch(ctx context.Context, targetURL string, distance float64, distanceKnown bool) (*FetchResult, error) {
	request, requestErr := http.NewRequestWithContext(fetcher.requestContext(ctx), http.MethodGet, targetURL, nil)
	if requestErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, requestErr)
	}

	if fetcher.userAgent != "" {
		request.Header.Set(headerNameUserAgent, fetcher.userAgent)
	}
	if fetcher.attachDistanceHeader && distanceKnown {
		request.Header.Set(headerNameDistance, strconv.FormatFloat(distance, 'f', -1, 64))
	}

	response, doErr := fetcher.httpClient.Do(request)
	if doErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, doErr)
	}
	defer response.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(response.Body, fetcher.maxFetchBytes))
	if readErr != nil {
		return nil, fmt.Errorf("%w: %v", ErrFetchFailed, readErr)
	}

	return &FetchResult{
		StatusCode: response.StatusCode,
		Header:     response.Header,
		Body:       body,
	}, nil
}

func (fetcher *Fetcher) requestContext(ctx context.Context) context.Context {
	if ctx != nil {
		return ctx
	}
	return context.Background()
}
