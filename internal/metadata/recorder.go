package metadata

/*
Metadata Collected
- Fetch timestamps
- HTTP status codes
- Content hashes
- Crawl depth

Logging Goals
- Debuggable crawl behavior
- Post-run auditability
- Failure diagnostics

Structured logging is preferred.

Allowed:
- Primitive values
- Timestamps
- URLs (as values, not objects with behavior)
- Hashes
- Status codes
- Durations
- Identifiers (page ID, crawl ID)
*/

import (
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-logfmt/logfmt"
)

// Recorder is the default MetadataSink/CrawlFinalizer implementation. It
// emits one logfmt-encoded line per event to an io.Writer (stderr by
// default), tagged with a run identifier.
type Recorder struct {
	runID string
	out   io.Writer
	mu    sync.Mutex
}

// NewRecorder constructs a Recorder that writes logfmt lines to os.Stderr,
// tagged with runID.
func NewRecorder(runID string) Recorder {
	return Recorder{runID: runID, out: os.Stderr}
}

// NewRecorderWithWriter is the same as NewRecorder but writes to w, for
// tests and for capturing crawl logs to a file.
func NewRecorderWithWriter(runID string, w io.Writer) Recorder {
	return Recorder{runID: runID, out: w}
}

func (r *Recorder) encode(keyvals ...interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()

	enc := logfmt.NewEncoder(r.out)
	_ = enc.EncodeKeyvals(append([]interface{}{"run_id", r.runID}, keyvals...)...)
	_ = enc.EndRecord()
}

func (r *Recorder) RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
	r.encode(
		"event", "fetch",
		"url", fetchURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"content_type", contentType,
		"retry_count", retryCount,
		"depth", crawlDepth,
	)
}

func (r *Recorder) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
	keyvals := []interface{}{
		"event", "error",
		"time", observedAt.Format(time.RFC3339Nano),
		"package", packageName,
		"action", action,
		"cause", cause,
		"error", errorString,
	}
	for _, a := range attrs {
		keyvals = append(keyvals, string(a.Key), a.Value)
	}
	r.encode(keyvals...)
}

func (r *Recorder) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {
	keyvals := []interface{}{
		"event", "artifact",
		"kind", kind,
		"path", path,
	}
	for _, a := range attrs {
		keyvals = append(keyvals, string(a.Key), a.Value)
	}
	r.encode(keyvals...)
}

func (r *Recorder) RecordAssetFetch(assetURL string, httpStatus int, duration time.Duration, retryCount int) {
	r.encode(
		"event", "asset_fetch",
		"url", assetURL,
		"status", httpStatus,
		"duration_ms", duration.Milliseconds(),
		"retry_count", retryCount,
	)
}

func (r *Recorder) RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration) {
	r.encode(
		"event", "crawl_complete",
		"total_pages", totalPages,
		"total_errors", totalErrors,
		"total_assets", totalAssets,
		"duration_ms", duration.Milliseconds(),
	)
}

var (
	_ MetadataSink   = (*Recorder)(nil)
	_ CrawlFinalizer = (*Recorder)(nil)
)
