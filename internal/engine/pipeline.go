package engine

import (
	"context"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/assets"
	"github.com/ghostcrawl/ghostcrawl/internal/build"
	"github.com/ghostcrawl/ghostcrawl/internal/fetcher"
	"github.com/ghostcrawl/ghostcrawl/internal/frontier"
	"github.com/ghostcrawl/ghostcrawl/internal/normalize"
	"github.com/ghostcrawl/ghostcrawl/internal/sanitizer"
	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
	"github.com/ghostcrawl/ghostcrawl/pkg/hashutil"
	"github.com/ghostcrawl/ghostcrawl/pkg/retry"
	"github.com/ghostcrawl/ghostcrawl/pkg/timeutil"
	"github.com/ghostcrawl/ghostcrawl/pkg/urlutil"
)

// processTask runs one frontier task through the full pipeline: politeness
// delay, fetch, extract, sanitize (discovering and admitting child links
// along the way), convert, resolve assets, normalize, and store.
//
// Each stage's own package already records its error through metadataSink;
// processTask only tracks counts and escalates a fatal severity into an
// engine-wide abort.
func (e *Engine) processTask(ctx context.Context, task frontier.Task) {
	host := task.URL.Hostname()

	// A URL whose own path already names an image is never fetched at all:
	// its existence is recorded, but there is nothing to download or store.
	if urlutil.IsImage(task.URL) {
		e.metadataSink.RecordFetch(task.URL.String(), 200, 0, "image/*", 0, task.Depth)
		return
	}

	if delay := e.rateLimiter.ResolveDelay(host); delay > 0 {
		e.sleeper.Sleep(delay)
	}

	fetchResult, err := e.pageFetcher.Fetch(ctx, task.Depth, task.URL, e.fetchRetryParam())
	e.rateLimiter.MarkLastFetchAsNow(host)
	if err != nil {
		e.handleStageError(err)
		return
	}

	// The server only revealed the image Content-Type once headers arrived;
	// the fetcher already aborted the body download for us.
	if fetchResult.Skipped() {
		return
	}

	if ext, ok := urlutil.ExtensionForContentType(fetchResult.ContentType(), fetchResult.EffectiveURL()); ok {
		atomic.AddInt64(&e.pendingContent, 1)
		e.contentPool.Go(func() {
			defer atomic.AddInt64(&e.pendingContent, -1)
			e.storeBinary(task, fetchResult, ext)
		})
		return
	}

	extraction, err := e.domExtractor.Extract(task.URL, fetchResult.Body())
	if err != nil {
		e.handleStageError(err)
		return
	}

	sanitized, err := e.htmlSanitizer.Sanitize(extraction.ContentNode)
	if err != nil {
		e.handleStageError(err)
		return
	}

	e.admitDiscoveredLinks(task, sanitized.GetDiscoveredURLs())

	// The rest of the pipeline (convert, resolve assets, normalize, store)
	// is CPU/disk-bound: run it on the content pool so this I/O worker can
	// go straight back to the frontier for the next fetch.
	atomic.AddInt64(&e.pendingContent, 1)
	e.contentPool.Go(func() {
		defer atomic.AddInt64(&e.pendingContent, -1)
		e.processContent(ctx, task, sanitized)
	})
}

// processContent runs the CPU/disk-bound back half of processTask: convert,
// resolve assets, normalize, and store.
func (e *Engine) processContent(ctx context.Context, task frontier.Task, sanitized sanitizer.SanitizedHTMLDoc) {
	conversion, err := e.convertRule.Convert(sanitized)
	if err != nil {
		e.handleStageError(err)
		return
	}

	resolveParam := assets.NewResolveParam(e.cfg.OutputDir(), defaultMaxAssetSize)
	assetful, err := e.assetResolver.Resolve(ctx, task.URL, conversion, resolveParam, e.fetchRetryParam())
	if err != nil {
		e.handleStageError(err)
		return
	}

	normalizeParam := normalize.NewNormalizeParam(
		build.FullVersion(),
		time.Now(),
		hashutil.HashAlgoSHA256,
		task.Depth,
		e.cfg.AllowedPathPrefix(),
	)
	normalized, err := e.markdownConstraint.Normalize(task.URL, assetful, normalizeParam)
	if err != nil {
		e.handleStageError(err)
		return
	}

	if e.cfg.DryRun() {
		atomic.AddInt64(&e.pagesWritten, 1)
		return
	}

	if _, err := e.storageSink.Write(e.cfg.OutputDir(), normalized, hashutil.HashAlgoSHA256); err != nil {
		e.handleStageError(err)
		return
	}
	atomic.AddInt64(&e.pagesWritten, 1)
}

// storeBinary persists a non-HTML fetch result as-is: no extraction,
// sanitization, conversion, or normalization applies to a binary document.
func (e *Engine) storeBinary(task frontier.Task, fetchResult fetcher.FetchResult, ext string) {
	if e.cfg.DryRun() {
		atomic.AddInt64(&e.pagesWritten, 1)
		return
	}

	key := binaryStorageKey(task.URL, ext, e.cfg.FlatOutput())
	if err := e.storageSink.Save(e.cfg.OutputDir(), key, fetchResult.Body(), true); err != nil {
		e.handleStageError(err)
		return
	}
	atomic.AddInt64(&e.pagesWritten, 1)
}

// binaryStorageKey mirrors the Markdown tree/flat key for u, but with its
// trailing ".md" swapped for the MIME-mapped binary extension.
func binaryStorageKey(u url.URL, ext string, flatOutput bool) string {
	var key string
	if flatOutput {
		key = urlutil.ToFlatFilename(u)
	} else {
		key = urlutil.ToFilename(u)
	}
	return strings.TrimSuffix(key, ".md") + ext
}

// admitDiscoveredLinks resolves each discovered href against the page it
// came from (extraction leaves hrefs relative where the source HTML did)
// before handing it to submitForAdmission.
func (e *Engine) admitDiscoveredLinks(task frontier.Task, discovered []url.URL) {
	for _, raw := range discovered {
		resolved, ok := urlutil.Resolve(task.URL, raw.String())
		if !ok {
			continue
		}
		e.submitForAdmission(resolved, task.Depth+1)
	}
}

// handleStageError records a failed pipeline stage and escalates a fatal
// ClassifiedError into a whole-crawl abort.
func (e *Engine) handleStageError(err failure.ClassifiedError) {
	atomic.AddInt64(&e.errorCount, 1)
	if err.Severity() == failure.SeverityFatal {
		e.abort()
	}
}

func (e *Engine) fetchRetryParam() retry.RetryParam {
	return retry.NewRetryParam(
		e.cfg.BaseDelay(),
		e.cfg.Jitter(),
		e.cfg.RandomSeed(),
		e.cfg.MaxAttempt(),
		timeutil.NewBackoffParam(e.cfg.BackoffInitialDuration(), e.cfg.BackoffMultiplier(), e.cfg.BackoffMaxDuration()),
	)
}
