package metadata

import "time"

// NoopSink discards every call. Embed it in test doubles that only care
// about overriding a subset of MetadataSink, or pass it where a real sink
// isn't wired yet.
type NoopSink struct{}

var _ MetadataSink = (*NoopSink)(nil)

func (NoopSink) RecordFetch(fetchURL string, httpStatus int, duration time.Duration, contentType string, retryCount int, crawlDepth int) {
}

func (NoopSink) RecordError(observedAt time.Time, packageName string, action string, cause ErrorCause, errorString string, attrs []Attribute) {
}

func (NoopSink) RecordArtifact(kind ArtifactKind, path string, attrs []Attribute) {}

func (NoopSink) RecordAssetFetch(assetURL string, httpStatus int, duration time.Duration, retryCount int) {
}
