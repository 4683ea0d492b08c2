package engine

import (
	"net/url"
	"strings"
	"sync/atomic"

	"github.com/ghostcrawl/ghostcrawl/pkg/urlutil"
)

// submitForAdmission is the single choke point every URL passes through
// before it can enter the frontier: depth and scope bounds, the page
// budget, and robots.txt policy, in that order. A URL that fails any check
// is dropped silently; it is never retried or treated as a crawl error.
// robots.txt itself never blocks admission on a fetch failure — CachedRobot
// fails open to an empty, permissive ruleSet in that case — so Decide's
// error return is always nil and is ignored here.
func (e *Engine) submitForAdmission(u url.URL, depth int) {
	if depth > e.cfg.MaxDepth() {
		return
	}
	if !e.inScope(u) {
		return
	}
	if maxPages := e.cfg.MaxPages(); maxPages > 0 && atomic.LoadInt64(&e.admitted) >= int64(maxPages) {
		return
	}

	decision, _ := e.robot.Decide(u)
	if !decision.Allowed {
		return
	}

	e.rateLimiter.ResetBackoff(u.Hostname())
	if decision.CrawlDelay > 0 {
		e.rateLimiter.SetCrawlDelay(u.Hostname(), decision.CrawlDelay)
	}

	if e.frontier.TryAdmit(urlutil.Canonicalize(u), depth) {
		atomic.AddInt64(&e.admitted, 1)
	}
}

// inScope reports whether u falls within the configured host allowlist and
// path-prefix restriction. An empty allowlist or empty prefix list imposes
// no restriction on that axis.
func (e *Engine) inScope(u url.URL) bool {
	if hosts := e.cfg.AllowedHosts(); len(hosts) > 0 {
		if _, ok := hosts[strings.ToLower(u.Hostname())]; !ok {
			return false
		}
	}

	prefixes := e.cfg.AllowedPathPrefix()
	if len(prefixes) == 0 {
		return true
	}
	for _, prefix := range prefixes {
		if strings.HasPrefix(u.Path, prefix) {
			return true
		}
	}
	return false
}
