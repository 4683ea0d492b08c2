// Package engine drives the concurrent crawl: a pool of workers pulling
// admitted URLs off the frontier and pushing them through fetch, extract,
// sanitize, convert, resolve, normalize, and store.
//
// Responsibilities
//   - Own the worker pool and its safe termination
//   - Gate every URL through a single admission choke point (scope, depth,
//     page budget, robots.txt) before it reaches the frontier
//   - Wire the already-built pipeline stages together per fetched page
//   - Recognize a fatal ClassifiedError and stop the crawl early
package engine

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/assets"
	"github.com/ghostcrawl/ghostcrawl/internal/browser"
	"github.com/ghostcrawl/ghostcrawl/internal/config"
	"github.com/ghostcrawl/ghostcrawl/internal/extractor"
	"github.com/ghostcrawl/ghostcrawl/internal/fetcher"
	"github.com/ghostcrawl/ghostcrawl/internal/frontier"
	"github.com/ghostcrawl/ghostcrawl/internal/gateway"
	"github.com/ghostcrawl/ghostcrawl/internal/mdconvert"
	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/normalize"
	"github.com/ghostcrawl/ghostcrawl/internal/proxypool"
	"github.com/ghostcrawl/ghostcrawl/internal/robots"
	"github.com/ghostcrawl/ghostcrawl/internal/sanitizer"
	"github.com/ghostcrawl/ghostcrawl/internal/storage"
	"github.com/ghostcrawl/ghostcrawl/internal/workpool"
	"github.com/ghostcrawl/ghostcrawl/pkg/limiter"
	"github.com/ghostcrawl/ghostcrawl/pkg/timeutil"
	"github.com/ghostcrawl/ghostcrawl/pkg/urlutil"
)

// defaultMaxAssetSize bounds a single asset download. Config does not expose
// this knob yet; hardcoded until the CLI surface grows one.
const defaultMaxAssetSize = 20 * 1024 * 1024

const frontierFalsePositiveRate = 0.01

// idlePollInterval is how long a worker waits before re-checking an empty
// frontier while other workers may still be producing children.
const idlePollInterval = 10 * time.Millisecond

// Summary is the terminal report of a completed Run.
type Summary struct {
	PagesWritten  int
	Errors        int
	AssetsWritten int
	VisitedCount  int
	Duration      time.Duration
}

// Engine owns every pipeline stage and the frontier/rate-limiter state
// shared across workers.
type Engine struct {
	cfg            config.Config
	metadataSink   metadata.MetadataSink
	crawlFinalizer metadata.CrawlFinalizer

	frontier    *frontier.Frontier
	rateLimiter *limiter.ConcurrentRateLimiter
	robot       robots.CachedRobot
	sleeper     timeutil.Sleeper

	// proxyPool is nil when no proxies are configured (cfg.ProxyURLs() is
	// empty); the gateway and browser proxy flag are both conditioned on it.
	proxyPool       *proxypool.Pool
	gateway         *gateway.Gateway
	browserLauncher *browser.Launcher

	pageFetcher        fetcher.Fetcher
	domExtractor       extractor.DomExtractor
	htmlSanitizer      sanitizer.HtmlSanitizer
	convertRule        *mdconvert.StrictConversionRule
	assetResolver      assets.LocalResolver
	markdownConstraint normalize.MarkdownConstraint
	storageSink        storage.LocalSink

	// contentPool runs the CPU/disk-bound back half of processTask (convert,
	// resolve assets, normalize, store) so it never blocks an I/O fetch
	// worker from picking up the next frontier task.
	contentPool *workpool.Pool

	// pending counts tasks a worker has dequeued but not finished
	// processing, including admission of that task's discovered children.
	// A worker may only stop once the frontier is empty AND pending is
	// zero; otherwise it could race a sibling worker that is about to
	// enqueue more work.
	pending int64
	// pendingContent counts content-processing jobs submitted to contentPool
	// but not yet finished. The stopping predicate also waits for this to
	// reach zero, mirroring the "active_workers==0 && pending_content==0 &&
	// frontier empty" rule.
	pendingContent int64
	admitted       int64
	pagesWritten   int64
	errorCount     int64

	cancel    context.CancelFunc
	abortOnce sync.Once
}

// New wires every pipeline stage from cfg. crawlFinalizer may be nil if the
// caller does not need final stats recorded.
func New(cfg config.Config, metadataSink metadata.MetadataSink, crawlFinalizer metadata.CrawlFinalizer) *Engine {
	httpClient := &http.Client{Timeout: cfg.Timeout()}

	var pageFetcher fetcher.Fetcher
	if cfg.RenderJS() {
		browserFetcher := fetcher.NewBrowserFetcher(metadataSink, "localhost", cfg.CdpPort())
		browserFetcher.Init(httpClient, cfg.UserAgent())
		pageFetcher = &browserFetcher
	} else {
		htmlFetcher := fetcher.NewHtmlFetcher(metadataSink)
		htmlFetcher.Init(httpClient, cfg.UserAgent())
		pageFetcher = &htmlFetcher
	}

	var proxyPool *proxypool.Pool
	if proxyURLs := cfg.ProxyURLs(); len(proxyURLs) > 0 {
		proxyPool = proxypool.New(proxyURLs, cfg.ProxyMaxRetries(), cfg.ProxyTierByScheme())
		// Ordinary page fetches consult the pool directly; only the
		// render path additionally routes through the gateway below.
		pageFetcher.SetProxyPool(proxyPool)
	}

	robot := robots.NewCachedRobot(metadataSink)
	robot.Init(cfg.UserAgent())

	rateLimiter := limiter.NewConcurrentRateLimiter()
	rateLimiter.SetBaseDelay(cfg.BaseDelay())
	rateLimiter.SetJitter(cfg.Jitter())
	if cfg.RandomSeed() != 0 {
		rateLimiter.SetRandomSeed(cfg.RandomSeed())
	}

	domExtractor := extractor.NewDomExtractorWithParams(metadataSink, extractor.ExtractParam{
		BodySpecificityBias:  cfg.BodySpecificityBias(),
		LinkDensityThreshold: cfg.LinkDensityThreshold(),
	})

	return &Engine{
		cfg:                cfg,
		metadataSink:       metadataSink,
		crawlFinalizer:     crawlFinalizer,
		frontier:           frontier.New(frontierExpectedItems(cfg), frontierFalsePositiveRate),
		rateLimiter:        rateLimiter,
		robot:              robot,
		sleeper:            timeutil.NewRealSleeper(),
		proxyPool:          proxyPool,
		pageFetcher:        pageFetcher,
		domExtractor:       domExtractor,
		htmlSanitizer:      sanitizer.NewHTMLSanitizer(metadataSink),
		convertRule:        mdconvert.NewRule(metadataSink),
		assetResolver:      assets.NewLocalResolver(metadataSink, httpClient, cfg.UserAgent()),
		markdownConstraint: normalize.NewMarkdownConstraint(metadataSink),
		storageSink:        storage.NewLocalSinkWithLayout(metadataSink, cfg.FlatOutput()),
		contentPool:        workpool.New(cfg.WorkerThreads()),
	}
}

// frontierExpectedItems sizes the bloom filter off the page budget when one
// is configured, else falls back to a generous flat estimate.
func frontierExpectedItems(cfg config.Config) uint {
	if cfg.MaxPages() > 0 {
		return uint(cfg.MaxPages()) * 4
	}
	return 100000
}

// Run seeds the frontier, starts cfg.Concurrency() workers, and blocks until
// the crawl drains or ctx is cancelled. Safe to call once per Engine.
func (e *Engine) Run(ctx context.Context) Summary {
	runCtx, cancel := context.WithCancel(ctx)
	e.cancel = cancel
	defer cancel()

	startedAt := time.Now()

	var gatewayAddr string
	if e.cfg.UsesProxyGateway() {
		gw := gateway.New(e.proxyPool, e.metadataSink, e.cfg.GatewayThreads())
		if err := gw.Listen(e.cfg.GatewayBindIP(), e.cfg.GatewayBindPort()); err != nil {
			e.metadataSink.RecordError(time.Now(), "engine", "gateway_listen", metadata.CauseNetworkFailure, err.Error(), nil)
		} else {
			e.gateway = gw
			gatewayAddr = gw.Addr()
			go gw.Serve(runCtx)
		}
	}

	if e.cfg.RenderJS() {
		launcher, err := browser.Launch(e.cfg.BrowserPath(), e.cfg.CdpPort(), !e.cfg.NoHeadless(), gatewayAddr)
		if err != nil {
			e.metadataSink.RecordError(time.Now(), "engine", "browser_launch", metadata.CauseUnknown, err.Error(), nil)
		} else {
			e.browserLauncher = launcher
		}
	}

	for _, seed := range e.cfg.SeedURLs() {
		e.submitForAdmission(urlutil.Canonicalize(seed), 0)
	}

	workerCount := e.cfg.Concurrency()
	if workerCount < 1 {
		workerCount = 1
	}

	var wg sync.WaitGroup
	wg.Add(workerCount)
	for i := 0; i < workerCount; i++ {
		go func() {
			defer wg.Done()
			e.worker(runCtx)
		}()
	}
	wg.Wait()
	e.contentPool.Wait()

	// Teardown in reverse order of startup: browser before gateway, since the
	// browser may still hold the gateway's upstream connection open.
	if e.browserLauncher != nil {
		e.browserLauncher.Close()
	}
	if e.gateway != nil {
		e.gateway.Close()
	}

	duration := time.Since(startedAt)
	summary := Summary{
		PagesWritten:  int(atomic.LoadInt64(&e.pagesWritten)),
		Errors:        int(atomic.LoadInt64(&e.errorCount)),
		AssetsWritten: len(e.assetResolver.WrittenAssets()),
		VisitedCount:  e.frontier.VisitedCount(),
		Duration:      duration,
	}

	if e.crawlFinalizer != nil {
		e.crawlFinalizer.RecordFinalCrawlStats(summary.PagesWritten, summary.Errors, summary.AssetsWritten, duration)
	}

	return summary
}

// worker drains the frontier until it is empty with no in-flight work, or
// ctx is cancelled.
func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		task, ok := e.frontier.Dequeue()
		if !ok {
			if atomic.LoadInt64(&e.pending) == 0 && atomic.LoadInt64(&e.pendingContent) == 0 {
				return
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(idlePollInterval):
			}
			continue
		}

		atomic.AddInt64(&e.pending, 1)
		e.processTask(ctx, task)
		atomic.AddInt64(&e.pending, -1)
	}
}

// abort cancels the run context once. Called when a pipeline stage reports
// a fatal ClassifiedError.
func (e *Engine) abort() {
	e.abortOnce.Do(func() {
		if e.cancel != nil {
			e.cancel()
		}
	})
}
