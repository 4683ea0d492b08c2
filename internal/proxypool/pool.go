// Package proxypool implements the priority-tiered, round-robin proxy
// selection and health tracking used by the crawl engine and the local
// proxy gateway.
//
// Proxy-list line parsing follows the comment-stripping / default-port
// conventions common to Go proxy-list tooling (bare "host:port", bare
// "host", or "scheme://host:port", one per line, "#"-prefixed lines and
// trailing "# ..." comments ignored).
package proxypool

import (
	"bufio"
	"fmt"
	"io"
	"net/url"
	"strings"
	"sync"
)

// defaultTierByScheme is the priority map {scheme -> tier} from spec.md
// §4.D: higher tier is preferred while any member at that tier survives.
var defaultTierByScheme = map[string]int{
	"http":   0,
	"https":  0,
	"socks4": 1,
	"socks5": 2,
}

// Proxy is a single pool record.
type Proxy struct {
	URL          string
	Tier         int
	id           uint64
	FailureCount int
}

// Pool is a mutex-guarded, tiered round-robin proxy selector.
type Pool struct {
	mu          sync.Mutex
	proxies     []Proxy
	tierByFor   map[string]int
	maxRetries  int
	nextID      uint64
	lastIndexOf map[int]uint64 // tier -> last-returned proxy id for that tier
}

// New constructs a Pool from a list of proxy URL strings, a max-retries
// ceiling, and an optional scheme->tier priority map (defaultTierByScheme is
// used for any scheme not present in tierByScheme).
func New(proxyURLs []string, maxRetries int, tierByScheme map[string]int) *Pool {
	p := &Pool{
		tierByFor:   mergeTierMaps(tierByScheme),
		maxRetries:  maxRetries,
		lastIndexOf: make(map[int]uint64),
	}
	for _, raw := range proxyURLs {
		p.addLocked(raw)
	}
	return p
}

func mergeTierMaps(override map[string]int) map[string]int {
	merged := make(map[string]int, len(defaultTierByScheme)+len(override))
	for k, v := range defaultTierByScheme {
		merged[k] = v
	}
	for k, v := range override {
		merged[k] = v
	}
	return merged
}

// ParseProxyListFile reads one proxy URL per line, stripping blank lines,
// "#"-prefixed comment lines, and trailing "# ..." comments.
func ParseProxyListFile(r io.Reader) ([]string, error) {
	scanner := bufio.NewScanner(r)
	var out []string
	for scanner.Scan() {
		line, ok := normalizeProxyLine(scanner.Text())
		if ok {
			out = append(out, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("proxypool: read proxy list: %w", err)
	}
	return out, nil
}

func normalizeProxyLine(raw string) (string, bool) {
	line := raw
	if idx := strings.Index(line, "#"); idx >= 0 {
		line = line[:idx]
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", false
	}
	return line, true
}

func (p *Pool) addLocked(raw string) {
	p.nextID++
	p.proxies = append(p.proxies, Proxy{
		URL:  raw,
		Tier: tierFor(raw, p.tierByFor),
		id:   p.nextID,
	})
}

// tierFor determines a proxy's tier by substring match of a known scheme in
// its URL; unrecognized schemes fall back to the "http" tier.
func tierFor(raw string, tierByScheme map[string]int) int {
	lower := strings.ToLower(raw)
	for scheme, tier := range tierByScheme {
		if strings.Contains(lower, scheme+"://") {
			return tier
		}
	}
	return tierByScheme["http"]
}

// Add appends a proxy URL to the pool.
func (p *Pool) Add(raw string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.addLocked(raw)
}

// Empty reports whether the pool currently holds no proxies.
func (p *Pool) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies) == 0
}

// Size returns the current number of proxies in the pool.
func (p *Pool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.proxies)
}

// GetProxy selects the next proxy per spec.md §4.D: highest surviving tier,
// minimum failure count within that tier, fair round-robin by monotonic id
// among the minimum-failure set. Returns false if the pool is empty.
func (p *Pool) GetProxy() (Proxy, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(p.proxies) == 0 {
		return Proxy{}, false
	}

	highestTier := p.proxies[0].Tier
	for _, pr := range p.proxies[1:] {
		if pr.Tier > highestTier {
			highestTier = pr.Tier
		}
	}

	minFailures := -1
	for _, pr := range p.proxies {
		if pr.Tier != highestTier {
			continue
		}
		if minFailures == -1 || pr.FailureCount < minFailures {
			minFailures = pr.FailureCount
		}
	}

	var candidates []Proxy
	for _, pr := range p.proxies {
		if pr.Tier == highestTier && pr.FailureCount == minFailures {
			candidates = append(candidates, pr)
		}
	}

	lastID := p.lastIndexOf[highestTier]
	selected := candidates[0]
	found := false
	for _, c := range candidates {
		if c.id > lastID {
			selected = c
			found = true
			break
		}
	}
	if !found {
		// wrap: none greater than lastID, take the smallest id.
		selected = candidates[0]
		for _, c := range candidates[1:] {
			if c.id < selected.id {
				selected = c
			}
		}
	}

	p.lastIndexOf[highestTier] = selected.id
	return selected, true
}

// Report records a proxy use's outcome. On success the proxy's failure count
// resets to 0. On failure the count increments; if it exceeds maxRetries the
// proxy is removed from the pool before Report returns.
func (p *Pool) Report(proxyURL string, success bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i := range p.proxies {
		if p.proxies[i].URL != proxyURL {
			continue
		}
		if success {
			p.proxies[i].FailureCount = 0
			return
		}
		p.proxies[i].FailureCount++
		if p.proxies[i].FailureCount > p.maxRetries {
			p.proxies = append(p.proxies[:i], p.proxies[i+1:]...)
		}
		return
	}
}

// ParsedURL parses a Proxy's URL string, exposing scheme/host/port/userinfo
// for the gateway and direct client dial paths.
func (pr Proxy) ParsedURL() (*url.URL, error) {
	return url.Parse(pr.URL)
}
