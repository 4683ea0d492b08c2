package robots

/*
Responsibilities

- Fetch robots.txt per host
- Cache rules for crawl duration
- Enforce allow/disallow rules before enqueue

Robots checks occur before a URL enters the frontier.
*/

import (
	"context"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/robots/cache"
)

// ruleSetCache memoizes one ruleSet per host for the life of a crawl run.
type ruleSetCache struct {
	mu    sync.Mutex
	byKey map[string]ruleSet
}

func newRuleSetCache() *ruleSetCache {
	return &ruleSetCache{byKey: make(map[string]ruleSet)}
}

// CachedRobot is the crawl-duration robots.txt policy engine. It wraps a
// RobotsFetcher, mapping each host's raw robots.txt response to a ruleSet
// exactly once per host and reusing that ruleSet for every Decide call
// against that host for the remainder of the run.
type CachedRobot struct {
	fetcher      *RobotsFetcher
	userAgent    string
	metadataSink metadata.MetadataSink
	cache        cache.Cache
	rules        *ruleSetCache
}

// NewCachedRobot constructs a CachedRobot bound to metadataSink. Call Init
// or InitWithCache before Decide.
func NewCachedRobot(metadataSink metadata.MetadataSink) CachedRobot {
	return CachedRobot{metadataSink: metadataSink}
}

// Init prepares the robot with userAgent and no robots.txt result cache.
func (r *CachedRobot) Init(userAgent string) {
	r.InitWithCache(userAgent, nil)
}

// InitWithCache prepares the robot with userAgent, backing raw robots.txt
// fetches with c (nil disables that layer; ruleSets are always memoized
// per host regardless).
func (r *CachedRobot) InitWithCache(userAgent string, c cache.Cache) {
	r.userAgent = userAgent
	r.cache = c
	r.fetcher = NewRobotsFetcher(r.metadataSink, userAgent, c)
	r.rules = newRuleSetCache()
}

func hostKey(u url.URL) string {
	return u.Scheme + "://" + u.Host
}

// ruleSetFor returns the cached ruleSet for u's host, fetching and mapping
// it on first use. A robots.txt fetch failure is soft: it is recorded
// through metadataSink but never propagated — the host's ruleSet becomes
// the empty, permissive ruleSet and is cached as such, so the crawl
// proceeds rather than dropping every URL on that host.
func (r *CachedRobot) ruleSetFor(u url.URL) ruleSet {
	key := hostKey(u)

	r.rules.mu.Lock()
	if rs, ok := r.rules.byKey[key]; ok {
		r.rules.mu.Unlock()
		return rs
	}
	r.rules.mu.Unlock()

	result, fetchErr := r.fetcher.Fetch(context.Background(), u.Scheme, u.Hostname())

	var rs ruleSet
	if fetchErr != nil {
		if r.metadataSink != nil {
			r.metadataSink.RecordError(
				time.Now(),
				"robots",
				"CachedRobot.ruleSetFor",
				mapRobotsErrorToMetadataCause(fetchErr),
				fetchErr.Error(),
				[]metadata.Attribute{
					metadata.NewAttr(metadata.AttrURL, key+"/robots.txt"),
				},
			)
		}
		rs = ruleSet{}
	} else {
		rs = MapResponseToRuleSet(result.Response, r.userAgent, result.FetchedAt)
	}

	r.rules.mu.Lock()
	r.rules.byKey[key] = rs
	r.rules.mu.Unlock()
	return rs
}

// Decide evaluates u against its host's robots.txt rules, fetching and
// caching the ruleSet on first encounter with the host. Both a 404 (or any
// other "no robots.txt" response) and a genuine fetch failure (server
// error, network failure, redirect loop) fail open with EmptyRuleSet.
func (r *CachedRobot) Decide(u url.URL) (Decision, error) {
	rs := r.ruleSetFor(u)
	return rs.Evaluate(u), nil
}

// GetCrawlDelay returns the crawl-delay declared for u's host, fetching and
// caching its ruleSet on first use; zero when no delay is declared.
func (r *CachedRobot) GetCrawlDelay(u url.URL) time.Duration {
	rs := r.ruleSetFor(u)
	return rs.CrawlDelay()
}

// Evaluate applies the standard robots.txt longest-matching-pattern rule
// with Allow-priority on ties: among all allow/disallow rules whose
// pattern matches path, the longest original pattern wins; an exact tie
// in pattern length is resolved in favor of Allow.
func (r ruleSet) Evaluate(u url.URL) Decision {
	if !r.hasGroups {
		return Decision{Url: u, Allowed: true, Reason: EmptyRuleSet, CrawlDelay: r.CrawlDelay()}
	}
	if !r.matchedGroup {
		return Decision{Url: u, Allowed: true, Reason: UserAgentNotMatched, CrawlDelay: r.CrawlDelay()}
	}

	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}

	bestAllowLen := longestMatch(r.allowRules, path)
	bestDisallowLen := longestMatch(r.disallowRules, path)

	if bestAllowLen < 0 && bestDisallowLen < 0 {
		return Decision{Url: u, Allowed: true, Reason: NoMatchingRules, CrawlDelay: r.CrawlDelay()}
	}
	if bestAllowLen >= bestDisallowLen {
		return Decision{Url: u, Allowed: true, Reason: AllowedByRobots, CrawlDelay: r.CrawlDelay()}
	}
	return Decision{Url: u, Allowed: false, Reason: DisallowedByRobots, CrawlDelay: r.CrawlDelay()}
}

// longestMatch returns the length (in bytes of the stored pattern) of
// the longest rule matching path, or -1 if no rule matches.
func longestMatch(rules []pathRule, path string) int {
	best := -1
	for _, rule := range rules {
		if matchesPattern(path, rule.prefix) && len(rule.prefix) > best {
			best = len(rule.prefix)
		}
	}
	return best
}

var patternCache sync.Map // string -> *regexp.Regexp

// matchesPattern applies robots.txt pattern semantics: "*" matches any
// run of characters, a trailing "$" anchors the match to the end of path,
// otherwise the pattern matches as a prefix.
func matchesPattern(path, pattern string) bool {
	if pattern == "" {
		return false
	}
	re := compilePattern(pattern)
	return re.MatchString(path)
}

func compilePattern(pattern string) *regexp.Regexp {
	if cached, ok := patternCache.Load(pattern); ok {
		return cached.(*regexp.Regexp)
	}

	anchored := strings.HasSuffix(pattern, "$")
	body := strings.TrimSuffix(pattern, "$")

	var sb strings.Builder
	sb.WriteString("^")
	for _, part := range strings.Split(body, "*") {
		sb.WriteString(regexp.QuoteMeta(part))
		sb.WriteString(".*")
	}
	compiled := strings.TrimSuffix(sb.String(), ".*")
	if anchored {
		compiled += "$"
	}

	re := regexp.MustCompile(compiled)
	patternCache.Store(pattern, re)
	return re
}
