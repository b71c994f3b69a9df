package resolution

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/google/physical-web/internal/model"
	"github.com/google/physical-web/internal/storage"
)

const (
	defaultCacheStaleness     = 5 * time.Minute
	defaultRefreshDebounce    = 5 * time.Second
	defaultMaxRedirectHops    = 10
	headerNameLocation        = "Location"
	errorMessageStatus        = "resolution: unexpected status"
	errorMessageRedirectDepth = "resolution: too many redirects"

	logEventRefreshEnqueued  = "refresh_enqueued"
	logEventRefreshDebounced = "refresh_debounced"
	logEventRefreshFailed    = "refresh_failed"
	logEventRedirectFollowed = "redirect_followed"
	logFieldURL              = "url"
	logFieldTarget           = "target"
)

var (
	// ErrUnexpectedStatus indicates a response status outside the set the
	// resolution pipeline understands.
	ErrUnexpectedStatus = errors.New(errorMessageStatus)
	// ErrTooManyRedirects indicates the redirect chain exceeded the hop cap.
	ErrTooManyRedirects = errors.New(errorMessageRedirectDepth)
)

var redirectStatusCodes = map[int]struct{}{
	http.StatusMovedPermanently:  {},
	http.StatusFound:             {},
	http.StatusSeeOther:          {},
	http.StatusTemporaryRedirect: {},
	http.StatusPermanentRedirect: {},
}

// RefreshEnqueuer schedules a background refresh for a URL.
type RefreshEnqueuer interface {
	Enqueue(targetURL string) bool
}

// Resolver orchestrates the store, the fetcher and the extractor: cache
// policy, redirect recursion and write-through semantics. A nil record
// with a nil error means the URL produced no resolvable content.
type Resolver struct {
	store           *storage.SiteRecordStore
	fetcher         *Fetcher
	refreshEnqueuer RefreshEnqueuer
	logger          *zap.Logger
	cacheStaleness  time.Duration
	refreshDebounce time.Duration
	maxRedirectHops int
	now             func() time.Time
}

// NewResolver creates a resolver with the default staleness and redirect
// policy.
func NewResolver(store *storage.SiteRecordStore, fetcher *Fetcher, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		store:           store,
		fetcher:         fetcher,
		logger:          logger,
		cacheStaleness:  defaultCacheStaleness,
		refreshDebounce: defaultRefreshDebounce,
		maxRedirectHops: defaultMaxRedirectHops,
		now:             time.Now,
	}
}

// WithRefreshEnqueuer attaches the background refresh queue. Without one,
// stale hits are served without scheduling a revalidation.
func (resolver *Resolver) WithRefreshEnqueuer(refreshEnqueuer RefreshEnqueuer) *Resolver {
	resolver.refreshEnqueuer = refreshEnqueuer
	return resolver
}

// WithCacheStaleness overrides the staleness threshold for cached hits.
func (resolver *Resolver) WithCacheStaleness(staleness time.Duration) *Resolver {
	resolver.cacheStaleness = staleness
	return resolver
}

// WithRefreshDebounce overrides the refresh debounce window.
func (resolver *Resolver) WithRefreshDebounce(debounce time.Duration) *Resolver {
	resolver.refreshDebounce = debounce
	return resolver
}

// Resolve returns the metadata record for a URL, fetching and storing it
// when the cache misses or force is set. Cached hits older than the
// staleness threshold are returned immediately and revalidated in the
// background.
func (resolver *Resolver) Resolve(ctx context.Context, requestURL string, distance Distance, force bool) (*model.SiteRecord, error) {
	currentURL := requestURL

	for hop := 0; hop <= resolver.maxRedirectHops; hop++ {
		if !force {
			record, lookupErr := resolver.store.GetByKey(currentURL)
			if lookupErr != nil && !errors.Is(lookupErr, storage.ErrRecordNotFound) {
				return nil, lookupErr
			}
			if record != nil {
				if resolver.now().Sub(record.UpdatedOn) <= resolver.cacheStaleness {
					return record, nil
				}
				return resolver.serveStale(record)
			}
		}

		result, fetchErr := resolver.fetcher.Fetch(ctx, currentURL, distance.Meters, distance.Known)
		if fetchErr != nil {
			return nil, fetchErr
		}

		if _, isRedirect := redirectStatusCodes[result.StatusCode]; isRedirect {
			nextURL, redirectErr := resolveRedirectTarget(currentURL, result.Header.Get(headerNameLocation))
			if redirectErr != nil {
				return nil, fmt.Errorf("%w: %v", ErrFetchFailed, redirectErr)
			}
			// A record cached under the redirect source would keep serving a
			// stale destination; drop it before following the hop.
			if deleteErr := resolver.store.Delete(currentURL); deleteErr != nil {
				return nil, deleteErr
			}
			resolver.logger.Debug(logEventRedirectFollowed,
				zap.String(logFieldURL, currentURL),
				zap.String(logFieldTarget, nextURL),
			)
			currentURL = nextURL
			continue
		}

		switch {
		case result.StatusCode == http.StatusOK && len(result.Body) > 0:
			return resolver.storePage(currentURL, result.Body)
		case result.StatusCode == http.StatusOK || result.StatusCode == http.StatusNoContent:
			return nil, nil
		case result.StatusCode >= 500 && result.StatusCode <= 599:
			return nil, nil
		default:
			return nil, fmt.Errorf("%w: %d", ErrUnexpectedStatus, result.StatusCode)
		}
	}

	return nil, ErrTooManyRedirects
}

// RefreshOne re-fetches one URL out of band. Repeated refreshes within the
// debounce window are skipped; fetch failures are swallowed.
func (resolver *Resolver) RefreshOne(ctx context.Context, requestURL string) {
	record, lookupErr := resolver.store.GetByKey(requestURL)
	if lookupErr != nil && !errors.Is(lookupErr, storage.ErrRecordNotFound) {
		resolver.logger.Warn(logEventRefreshFailed, zap.String(logFieldURL, requestURL), zap.Error(lookupErr))
		return
	}
	if record != nil {
		if resolver.now().Sub(record.UpdatedOn) < resolver.refreshDebounce {
			resolver.logger.Debug(logEventRefreshDebounced, zap.String(logFieldURL, requestURL))
			return
		}
		// Claim the refresh before fetching so concurrent refreshes debounce.
		if _, touchErr := resolver.store.Touch(requestURL); touchErr != nil {
			resolver.logger.Warn(logEventRefreshFailed, zap.String(logFieldURL, requestURL), zap.Error(touchErr))
			return
		}
	}

	if _, resolveErr := resolver.Resolve(ctx, requestURL, Distance{}, true); resolveErr != nil {
		resolver.logger.Debug(logEventRefreshFailed, zap.String(logFieldURL, requestURL), zap.Error(resolveErr))
	}
}

// serveStale returns the stale record immediately and schedules a
// revalidation. Touching before enqueuing keeps concurrent requests from
// piling additional refreshes onto the queue.
func (resolver *Resolver) serveStale(record *model.SiteRecord) (*model.SiteRecord, error) {
	if resolver.refreshEnqueuer == nil {
		return record, nil
	}

	touched, touchErr := resolver.store.Touch(record.RequestURL)
	if touchErr != nil {
		return record, nil
	}
	if resolver.refreshEnqueuer.Enqueue(record.RequestURL) {
		resolver.logger.Debug(logEventRefreshEnqueued, zap.String(logFieldURL, record.RequestURL))
	}
	return touched, nil
}

func (resolver *Resolver) storePage(pageURL string, body []byte) (*model.SiteRecord, error) {
	charsetName := DetectEncoding(body)
	metadata := ExtractPageMetadata(body, charsetName, pageURL)

	return resolver.store.Upsert(pageURL, storage.SiteRecordFields{
		ResolvedURL: pageURL,
		Title:       metadata.Title,
		Description: metadata.Description,
		FaviconURL:  metadata.IconURL,
		JSONLDs:     metadata.JSONLDs,
	})
}

// resolveRedirectTarget resolves a Location header against the redirecting
// URL and carries the source fragment forward when the redirect drops it.
func resolveRedirectTarget(sourceURL string, location string) (string, error) {
	if location == "" {
		return "", errors.New("redirect without location header")
	}

	parsedSource, sourceErr := url.Parse(sourceURL)
	if sourceErr != nil {
		return "", sourceErr
	}
	parsedLocation, locationErr := url.Parse(location)
	if locationErr != nil {
		return "", locationErr
	}

	target := parsedSource.ResolveReference(parsedLocation)
	if target.Fragment == "" && parsedSource.Fragment != "" {
		target.Fragment = parsedSource.Fragment
	}
	return target.String(), nil
}
