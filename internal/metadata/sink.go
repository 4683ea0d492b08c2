package metadata

import "time"

// MetadataSink is the observational port every pipeline component logs
// through. Implementations MUST treat every call as side-effect-free
// observability: nothing recorded here may be read back to influence
// scheduling, retries, or crawl termination.
type MetadataSink interface {
	RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int)
	RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute)
	RecordArtifact(kind ArtifactKind, path string, attrs []Attribute)
	RecordAssetFetch(assetURL string, httpStatus int, duration time.Duration, retryCount int)
}

// CrawlFinalizer records the terminal, derived summary of a completed crawl
// exactly once, after the crawl has stopped.
type CrawlFinalizer interface {
	RecordFinalCrawlStats(totalPages int, totalErrors int, totalAssets int, duration time.Duration)
}
