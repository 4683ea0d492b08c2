package fetcher

import (
	"net/url"
	"time"
)

// HTTP boundary

type FetchResult struct {
	url       url.URL
	body      []byte
	meta      ResponseMeta
	fetchedAt time.Time
}

func (f *FetchResult) URL() url.URL {
	return f.url
}

func (f *FetchResult) Body() []byte {
	return f.body
}

func (f *FetchResult) Code() int {
	return f.meta.statusCode
}

func (f *FetchResult) SizeByte() uint64 {
	return f.meta.transferredSizeByte
}

func (f *FetchResult) Headers() map[string]string {
	return f.meta.responseHeaders
}

func (f *FetchResult) FetchedAt() time.Time {
	return f.fetchedAt
}

// ContentType returns the response's Content-Type, as observed at fetch
// time (lowercased MIME string, possibly with a charset parameter intact).
func (f *FetchResult) ContentType() string {
	return f.meta.contentType
}

// Success reports whether the fetch completed as a 2xx/3xx response with no
// transport failure, per spec.md §3's Response model.
func (f *FetchResult) Success() bool {
	return f.meta.success
}

// Skipped reports whether the body download was aborted because the
// response declared an image/* Content-Type.
func (f *FetchResult) Skipped() bool {
	return f.meta.skipped
}

// ErrorType classifies the fetch outcome per spec.md §7; ErrorTypeNone on a
// normal success.
func (f *FetchResult) ErrorType() ErrorType {
	return f.meta.errorType
}

// EffectiveURL is the URL actually served, after following any redirects.
func (f *FetchResult) EffectiveURL() url.URL {
	return f.meta.effectiveURL
}

type ResponseMeta struct {
	statusCode          int
	transferredSizeByte uint64
	responseHeaders     map[string]string
	contentType         string
	success             bool
	skipped             bool
	errorType           ErrorType
	effectiveURL        url.URL
}

// newFetchResult constructs a successful, non-skipped FetchResult from a
// fully-read body, used by fetch paths that don't stream through
// performFetch's http.Response handling (e.g. the browser render path,
// which already has the full rendered HTML in memory).
func newFetchResult(
	url url.URL,
	body []byte,
	statusCode int,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	return FetchResult{
		url:       url,
		body:      body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:          statusCode,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     responseHeaders,
			contentType:         responseHeaders["Content-Type"],
			success:             true,
			errorType:           ErrorTypeNone,
			effectiveURL:        url,
		},
	}
}

// NewFetchResultForTest creates a FetchResult for testing purposes.
// This allows test packages to construct FetchResult values without
// accessing unexported fields directly.
func NewFetchResultForTest(
	url url.URL,
	body []byte,
	statusCode int,
	contentType string,
	responseHeaders map[string]string,
	fetchedAt time.Time,
) FetchResult {
	return FetchResult{
		url:       url,
		body:      body,
		fetchedAt: fetchedAt,
		meta: ResponseMeta{
			statusCode:          statusCode,
			transferredSizeByte: uint64(len(body)),
			responseHeaders:     responseHeaders,
			contentType:         contentType,
			success:             true,
			errorType:           ErrorTypeNone,
			effectiveURL:        url,
		},
	}
}
