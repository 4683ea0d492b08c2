package fetcher

import (
	"fmt"

	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
)

// BrowserErrorCause is the closed error_type set for the render fetch path
// (spec.md §4.E): Browser (launch/devtools failures), Render (navigate/
// evaluate failures), Network (HEAD/GET probe failures), Timeout.
type BrowserErrorCause string

const (
	BrowserErrCauseBrowser BrowserErrorCause = "browser"
	BrowserErrCauseRender  BrowserErrorCause = "render"
	BrowserErrCauseNetwork BrowserErrorCause = "network"
	BrowserErrCauseTimeout BrowserErrorCause = "timeout"
)

// BrowserError is the render fetch path's ClassifiedError. Every cause is
// treated as recoverable: the engine's retry loop rotates proxies and
// retries rather than aborting the whole crawl on one render failure.
type BrowserError struct {
	Message string
	Cause   BrowserErrorCause
}

func (e *BrowserError) Error() string {
	return fmt.Sprintf("browser fetcher error (%s): %s", e.Cause, e.Message)
}

func (e *BrowserError) Severity() failure.Severity {
	return failure.SeverityRecoverable
}
