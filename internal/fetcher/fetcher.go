package fetcher

import (
	"context"
	"net/http"
	"net/url"

	"github.com/ghostcrawl/ghostcrawl/internal/proxypool"
	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
	"github.com/ghostcrawl/ghostcrawl/pkg/retry"
)

// ProxyPool is the subset of *proxypool.Pool the direct client needs: pick a
// proxy before an attempt, report its outcome after. Satisfied by
// *proxypool.Pool.
type ProxyPool interface {
	GetProxy() (proxypool.Proxy, bool)
	Report(proxyURL string, success bool)
}

type Fetcher interface {
	Init(httpClient *http.Client, userAgent string)
	// SetProxyPool wires pool into every subsequent Fetch attempt: a proxy
	// is selected before the request and its outcome reported after, per
	// spec.md §2/§4.G. A nil pool disables proxy use.
	SetProxyPool(pool ProxyPool)
	Fetch(
		ctx context.Context,
		crawlDepth int,
		fetchUrl url.URL,
		retryParam retry.RetryParam,
	) (FetchResult, failure.ClassifiedError)
}
