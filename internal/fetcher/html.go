package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
	"github.com/ghostcrawl/ghostcrawl/pkg/retry"
)

/*
Responsibilities

- Perform HTTP requests
- Apply headers and timeouts
- Handle redirects safely
- Classify responses

Fetch Semantics

- A successful response body is returned whatever its content type
- An image/* response is marked Skipped and its body is not read
- Redirect chains are bounded
- All responses are logged with metadata

The fetcher never parses content; it only returns bytes and metadata.
*/

type HtmlFetcher struct {
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string
	proxyPool    ProxyPool
}

func NewHtmlFetcher(
	metadataSink metadata.MetadataSink,
) HtmlFetcher {
	return HtmlFetcher{
		metadataSink: metadataSink,
		httpClient:   &http.Client{},
	}
}

// Init binds the http.Client and User-Agent used for every subsequent Fetch.
func (h *HtmlFetcher) Init(httpClient *http.Client, userAgent string) {
	h.httpClient = httpClient
	h.userAgent = userAgent
}

// SetProxyPool wires pool into every subsequent Fetch attempt. A nil pool
// disables proxy use, leaving requests on h.httpClient as before.
func (h *HtmlFetcher) SetProxyPool(pool ProxyPool) {
	h.proxyPool = pool
}

func (h *HtmlFetcher) Fetch(
	ctx context.Context,
	crawlDepth int,
	fetchUrl url.URL,
	retryParam retry.RetryParam,
) (FetchResult, failure.ClassifiedError) {
	callerMethod := "HtmlFetcher.Fetch"
	startTime := time.Now()

	result, attempts, err := h.fetchWithRetry(ctx, fetchUrl, h.userAgent, retryParam)

	duration := time.Since(startTime)

	// Record the fetch event with actual data
	var statusCode int
	var contentType string

	if err == nil {
		statusCode = result.Code()
		contentType = h.extractContentType(result.Headers())
	}

	h.metadataSink.RecordFetch(
		fetchUrl.String(),
		statusCode,
		duration,
		contentType,
		attempts,
		crawlDepth,
	)

	if err != nil {
		// Use errors.Is to decide between FetchError or RetryError
		if errors.Is(err, &retry.RetryError{}) {
			// It's a RetryError
			h.recordRetryError(callerMethod, fetchUrl, err)
		} else {
			// It's a FetchError
			h.recordFetchError(callerMethod, fetchUrl, err)
		}

		return FetchResult{}, err
	}

	return result, nil
}

func (h *HtmlFetcher) extractContentType(headers map[string]string) string {
	if ct, ok := headers["Content-Type"]; ok {
		return ct
	}
	return ""
}

func (h *HtmlFetcher) recordFetchError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var fetchError *FetchError
	if errors.As(err, &fetchError) {
		// record fetch error event
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			mapFetchErrorToMetadataCause(fetchError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) recordRetryError(callerMethod string, fetchUrl url.URL, err failure.ClassifiedError) {
	var retryError *retry.RetryError
	if errors.As(err, &retryError) {
		// record retry error event
		h.metadataSink.RecordError(
			time.Now(),
			"fetcher",
			callerMethod,
			metadata.CauseRetryFailure,
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrMessage, retryError.Error()),
				metadata.NewAttr(metadata.AttrURL, fetchUrl.String()),
			},
		)
	}
}

func (h *HtmlFetcher) fetchWithRetry(ctx context.Context, fetchUrl url.URL, userAgent string, retryParam retry.RetryParam) (FetchResult, int, failure.ClassifiedError) {
	fetchTask := func() (FetchResult, failure.ClassifiedError) {
		return h.performFetch(ctx, fetchUrl, userAgent)
	}

	result := retry.Retry(retryParam, fetchTask)

	if result.IsFailure() {
		retryErr := result.Err()
		// Handle error - decide what to return based on error type
		// Check if it's a FetchError (returned by the task) or RetryError (from retry.Retry)
		var fetchErr *FetchError
		if errors.As(retryErr, &fetchErr) {
			// The underlying error is a FetchError, return it directly
			return FetchResult{}, result.Attempts(), fetchErr
		}

		// It's a RetryError, return it as-is
		return FetchResult{}, result.Attempts(), retryErr
	}

	return result.Value(), result.Attempts(), nil
}

func (h *HtmlFetcher) performFetch(ctx context.Context, fetchUrl url.URL, userAgent string) (FetchResult, failure.ClassifiedError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fetchUrl.String(), nil)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to create request: %v", err),
			Retryable: false,
			Cause:     ErrCauseNetworkFailure,
		}
	}

	// Apply browser-like headers
	headers := requestHeaders(userAgent)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	client, proxy, hasProxy := h.clientForAttempt()

	resp, err := client.Do(req)
	if err != nil {
		// Network/transport errors are retryable; a proxy dial failure is
		// classified separately so callers can tell the two apart. Per
		// spec.md §4.G step 5, a transport failure through a proxy always
		// counts against that proxy.
		h.reportProxyOutcome(hasProxy, proxy, false)
		cause := ErrCauseNetworkFailure
		if hasProxy {
			cause = ErrCauseProxyFailure
		}
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("request failed: %v", err),
			Retryable: true,
			Cause:     cause,
		}
	}
	defer resp.Body.Close()

	// Handle HTTP status codes
	switch {
	case resp.StatusCode >= 500:
		// The proxy delivered a response; the server is what failed, so the
		// proxy itself still counts as having worked.
		h.reportProxyOutcome(hasProxy, proxy, true)
		// Server errors (5xx) are retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("server error: %d", resp.StatusCode),
			Retryable: true,
			Cause:     ErrCauseRequest5xx,
		}

	case resp.StatusCode == 429:
		h.reportProxyOutcome(hasProxy, proxy, false)
		// Too Many Requests is retryable
		return FetchResult{}, &FetchError{
			Message:   "rate limited (429)",
			Retryable: true,
			Cause:     ErrCauseRequestTooMany,
		}

	case resp.StatusCode == 403:
		h.reportProxyOutcome(hasProxy, proxy, false)
		// Forbidden is not retryable
		return FetchResult{}, &FetchError{
			Message:   "access forbidden (403)",
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		h.reportProxyOutcome(hasProxy, proxy, true)
		// Other client errors are not retryable
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("client error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRequestPageForbidden,
		}

	case resp.StatusCode >= 300 && resp.StatusCode < 400:
		h.reportProxyOutcome(hasProxy, proxy, true)
		// Redirects should be handled by http.Client, but if we get here,
		// it means redirect limit exceeded
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("redirect error: %d", resp.StatusCode),
			Retryable: false,
			Cause:     ErrCauseRedirectLimitExceeded,
		}
	}

	h.reportProxyOutcome(hasProxy, proxy, true)

	// Build response headers map
	responseHeaders := make(map[string]string)
	for key, values := range resp.Header {
		if len(values) > 0 {
			responseHeaders[key] = values[0]
		}
	}

	contentType := resp.Header.Get("Content-Type")
	effectiveURL := fetchUrl
	if resp.Request != nil && resp.Request.URL != nil {
		effectiveURL = *resp.Request.URL
	}

	// An image response is never downloaded as page content: the crawler
	// only needs to know it exists, not its bytes.
	if strings.HasPrefix(strings.ToLower(contentType), "image/") {
		return FetchResult{
			url:       fetchUrl,
			fetchedAt: time.Now(),
			meta: ResponseMeta{
				statusCode:          resp.StatusCode,
				transferredSizeByte: 0,
				responseHeaders:     responseHeaders,
				contentType:         contentType,
				success:             true,
				skipped:             true,
				errorType:           ErrorTypeSkipped,
				effectiveURL:        effectiveURL,
			},
		}, nil
	}

	// Read response body
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return FetchResult{}, &FetchError{
			Message:   fmt.Sprintf("failed to read response body: %v", err),
			Retryable: true,
			Cause:     ErrCauseReadResponseBodyError,
		}
	}

	// Create FetchResult
	result := FetchResult{
		url:       fetchUrl,
		body:      body,
		fetchedAt: time.Now(),
		meta: ResponseMeta{
			statusCode:          resp.StatusCode,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     responseHeaders,
			contentType:         contentType,
			success:             true,
			errorType:           ErrorTypeNone,
			effectiveURL:        effectiveURL,
		},
	}

	return result, nil
}

// clientForAttempt returns the http.Client to use for one fetch attempt: the
// shared h.httpClient when no proxy pool is wired or the pool has nothing to
// offer, otherwise a one-shot client dialing through the selected proxy. A
// fresh client per attempt (rather than mutating h.httpClient's Transport)
// keeps concurrent fetches from racing over different proxy choices.
func (h *HtmlFetcher) clientForAttempt() (*http.Client, proxySelection, bool) {
	if h.proxyPool == nil {
		return h.httpClient, proxySelection{}, false
	}
	proxy, ok := h.proxyPool.GetProxy()
	if !ok {
		return h.httpClient, proxySelection{}, false
	}
	proxyURL, err := proxy.ParsedURL()
	if err != nil {
		return h.httpClient, proxySelection{}, false
	}

	client := &http.Client{
		Transport: transportForProxy(proxyURL),
		Timeout:   h.httpClient.Timeout,
	}
	return client, proxySelection{URL: proxy.URL}, true
}

// reportProxyOutcome applies spec.md §4.G step 5's pool-reporting rule once
// the response status is known: a 403/429 counts against the proxy even
// though the request itself completed.
func (h *HtmlFetcher) reportProxyOutcome(hasProxy bool, proxy proxySelection, success bool) {
	if !hasProxy {
		return
	}
	h.proxyPool.Report(proxy.URL, success)
}

// proxySelection carries just enough identity to report back to the pool
// without importing proxypool.Proxy's full shape into this file's call sites.
type proxySelection struct {
	URL string
}

func requestHeaders(userAgent string) map[string]string {
	return map[string]string{
		"User-Agent":      userAgent,
		"Accept":          "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8",
		"Accept-Language": "en-US,en;q=0.5",
		"Accept-Encoding": "gzip, deflate, br",
		"DNT":             "1",
		"Connection":      "keep-alive",
	}
}
