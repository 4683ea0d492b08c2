package storage

// Persistence

type WriteResult struct {
	key         string // tree- or flat-structured key, relative to outputDir
	path        string
	contentHash string
}

func NewWriteResult(
	key string,
	path string,
	contentHash string,
) WriteResult {
	return WriteResult{
		key:         key,
		path:        path,
		contentHash: contentHash,
	}
}

// URLHash returns the document's storage key (e.g. "example.com/index.md"),
// kept under its historical name since callers use it as the document's
// identity, not literally a hash any more.
func (w *WriteResult) URLHash() string {
	return w.key
}

func (w *WriteResult) Path() string {
	return w.path
}

func (w *WriteResult) ContentHash() string {
	return w.contentHash
}
