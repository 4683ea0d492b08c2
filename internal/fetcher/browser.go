package fetcher

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	browserpkg "github.com/ghostcrawl/ghostcrawl/internal/browser"
	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
	"github.com/ghostcrawl/ghostcrawl/pkg/retry"
)

// downloadableContentTypes are the MIME substrings that short-circuit the
// browser render path straight to a direct GET, per spec.md §4.E.
var downloadableContentTypes = []string{
	"application/pdf", "application/msword",
	"application/vnd.openxmlformats-officedocument.wordprocessingml",
	"application/vnd.ms-excel",
	"application/vnd.openxmlformats-officedocument.spreadsheetml",
	"application/vnd.ms-powerpoint",
	"application/vnd.openxmlformats-officedocument.presentationml",
	"text/csv", "application/zip", "application/x-tar", "application/gzip",
	"application/json", "application/xml", "text/xml",
	"image/svg+xml", "image/gif", "image/png", "image/jpeg", "image/webp", "image/x-icon",
}

// BrowserFetcher is the "Browser client" variant of the HTTP client
// abstraction: HEAD via the direct client to classify content type, then
// either a direct GET (downloadable documents) or a headless-browser render
// (everything else).
type BrowserFetcher struct {
	direct       HtmlFetcher
	metadataSink metadata.MetadataSink
	httpClient   *http.Client
	userAgent    string
	cdpHost      string
	cdpPort      int
}

// NewBrowserFetcher constructs a BrowserFetcher that talks to a headless
// browser's DevTools endpoint at cdpHost:cdpPort.
func NewBrowserFetcher(metadataSink metadata.MetadataSink, cdpHost string, cdpPort int) BrowserFetcher {
	return BrowserFetcher{
		direct:       NewHtmlFetcher(metadataSink),
		metadataSink: metadataSink,
		httpClient:   &http.Client{},
		cdpHost:      cdpHost,
		cdpPort:      cdpPort,
	}
}

// Init binds the shared http.Client and user agent used for the HEAD probe
// and the direct-GET short-circuit.
func (b *BrowserFetcher) Init(httpClient *http.Client, userAgent string) {
	b.httpClient = httpClient
	b.userAgent = userAgent
	b.direct.Init(httpClient, userAgent)
}

// SetProxyPool wires pool into the direct-GET short-circuit used for
// downloadable documents; the headless-browser render path itself is routed
// through the gateway (see internal/gateway), not through this pool.
func (b *BrowserFetcher) SetProxyPool(pool ProxyPool) {
	b.direct.SetProxyPool(pool)
}

// Fetch implements the Fetcher interface's render path.
func (b *BrowserFetcher) Fetch(ctx context.Context, crawlDepth int, fetchUrl url.URL, retryParam retry.RetryParam) (FetchResult, failure.ClassifiedError) {
	contentType, err := b.probeContentType(ctx, fetchUrl)
	if err != nil {
		b.recordError("probe", fetchUrl, err)
		return FetchResult{}, err
	}

	if isDownloadableContentType(contentType) {
		return b.direct.Fetch(ctx, crawlDepth, fetchUrl, retryParam)
	}

	result, err := b.render(ctx, fetchUrl, crawlDepth)
	if err != nil {
		b.recordError("render", fetchUrl, err)
		return FetchResult{}, err
	}
	return result, nil
}

func (b *BrowserFetcher) probeContentType(ctx context.Context, fetchUrl url.URL) (string, *BrowserError) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, fetchUrl.String(), nil)
	if err != nil {
		return "", &BrowserError{Message: err.Error(), Cause: BrowserErrCauseNetwork}
	}
	req.Header.Set("User-Agent", b.userAgent)

	resp, err := b.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", &BrowserError{Message: err.Error(), Cause: BrowserErrCauseTimeout}
		}
		return "", &BrowserError{Message: err.Error(), Cause: BrowserErrCauseNetwork}
	}
	defer resp.Body.Close()

	return resp.Header.Get("Content-Type"), nil
}

func isDownloadableContentType(contentType string) bool {
	lower := strings.ToLower(contentType)
	for _, candidate := range downloadableContentTypes {
		if strings.Contains(lower, candidate) {
			return true
		}
	}
	return false
}

func (b *BrowserFetcher) render(ctx context.Context, fetchUrl url.URL, crawlDepth int) (FetchResult, *BrowserError) {
	startedAt := time.Now()

	client, err := browserpkg.NewCDPClient(ctx, b.cdpHost, b.cdpPort)
	if err != nil {
		return FetchResult{}, &BrowserError{Message: err.Error(), Cause: BrowserErrCauseBrowser}
	}
	defer client.Close(ctx)

	html, err := client.Render(fetchUrl.String())
	if err != nil {
		return FetchResult{}, &BrowserError{Message: err.Error(), Cause: BrowserErrCauseRender}
	}

	duration := time.Since(startedAt)
	b.metadataSink.RecordFetch(fetchUrl.String(), 200, duration, "text/html", 0, crawlDepth)

	return newFetchResult(fetchUrl, []byte(html), 200, map[string]string{"Content-Type": "text/html"}, time.Now()), nil
}

func (b *BrowserFetcher) recordError(action string, fetchUrl url.URL, err *BrowserError) {
	b.metadataSink.RecordError(
		time.Now(),
		"fetcher",
		fmt.Sprintf("BrowserFetcher.%s", action),
		mapBrowserErrorToMetadataCause(err),
		err.Error(),
		[]metadata.Attribute{metadata.NewAttr(metadata.AttrURL, fetchUrl.String())},
	)
}

func mapBrowserErrorToMetadataCause(err *BrowserError) metadata.ErrorCause {
	switch err.Cause {
	case BrowserErrCauseTimeout, BrowserErrCauseNetwork:
		return metadata.CauseNetworkFailure
	default:
		return metadata.CauseUnknown
	}
}

var _ Fetcher = (*BrowserFetcher)(nil)
