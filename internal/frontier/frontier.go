// Package frontier maintains crawl ordering and deduplication.
//
// Responsibilities:
//   - Maintain FIFO discovery ordering
//   - Deduplicate URLs via a bloom-gated admission check
//   - Track crawl depth per task
//
// The frontier knows nothing about fetching, extraction, markdown, or
// storage: it is a data structure + admission gate, not a pipeline
// executor. Depth/domain policy decisions are made by the caller (the
// crawl engine) before TryAdmit is invoked; the frontier's own admission
// check is limited to the bloom-filter membership test spec.md couples
// to the same mutex as the queue push.
package frontier

import (
	"net/url"
	"sync"

	"github.com/ghostcrawl/ghostcrawl/internal/bloomfilter"
	"github.com/ghostcrawl/ghostcrawl/pkg/urlutil"
)

// Task is a single frontier entry: a URL paired with the depth it was
// discovered at.
type Task struct {
	URL   url.URL
	Depth int
}

// Frontier is a mutex-guarded FIFO queue with bloom-filter-gated admission.
type Frontier struct {
	mu      sync.Mutex
	queue   FIFOQueue[Task]
	visited *bloomfilter.Filter
}

// New constructs an empty Frontier. expectedItems/falsePositiveRate size the
// underlying bloom filter (see internal/bloomfilter.New).
func New(expectedItems uint, falsePositiveRate float64) *Frontier {
	return &Frontier{
		queue:   *NewFIFOQueue[Task](),
		visited: bloomfilter.New(expectedItems, falsePositiveRate),
	}
}

// TryAdmit attempts to admit url at depth. Under the frontier's mutex: if the
// bloom filter already contains the canonical URL key, the task is dropped
// (returns false); otherwise the key is added and the task is pushed
// (returns true). This couples the membership test and the push as one
// atomic step, per spec.
func (f *Frontier) TryAdmit(u url.URL, depth int) bool {
	key := urlutil.Canonicalize(u).String()

	f.mu.Lock()
	defer f.mu.Unlock()

	if existed := f.visited.TestAndAdd(key); existed {
		return false
	}
	f.queue.Enqueue(Task{URL: u, Depth: depth})
	return true
}

// Dequeue claims the next task, if any.
func (f *Frontier) Dequeue() (Task, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Dequeue()
}

// Len reports the number of tasks currently queued (not yet claimed).
func (f *Frontier) Len() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.queue.Size()
}

// VisitedCount returns the number of distinct URLs admitted so far.
func (f *Frontier) VisitedCount() int {
	return int(f.visited.ItemsAdded())
}
