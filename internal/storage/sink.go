package storage

import (
	"errors"
	"net/url"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/normalize"
	"github.com/ghostcrawl/ghostcrawl/pkg/failure"
	"github.com/ghostcrawl/ghostcrawl/pkg/fileutil"
	"github.com/ghostcrawl/ghostcrawl/pkg/hashutil"
	"github.com/ghostcrawl/ghostcrawl/pkg/urlutil"
)

/*
Responsibilities
- Persist Markdown files
- Write assets
- Ensure deterministic filenames

Output Characteristics
- Stable directory layout
- Idempotent writes
- Overwrite-safe reruns
*/

type Sink interface {
	Write(
		outputDir string,
		normalizedDoc normalize.NormalizedMarkdownDoc,
		hashAlgo hashutil.HashAlgo,
	) (WriteResult, failure.ClassifiedError)
}

type LocalSink struct {
	metadataSink metadata.MetadataSink
	flatOutput   bool
}

func NewLocalSink(
	metadataSink metadata.MetadataSink,
) LocalSink {
	return LocalSink{
		metadataSink: metadataSink,
	}
}

// NewLocalSinkWithLayout constructs a LocalSink whose Write/Save calls use
// flat keys (host_port_path.md) instead of the tree-structured default
// (host_port/path.md), mirroring the --flat CLI flag.
func NewLocalSinkWithLayout(metadataSink metadata.MetadataSink, flatOutput bool) LocalSink {
	return LocalSink{
		metadataSink: metadataSink,
		flatOutput:   flatOutput,
	}
}

// NewSink constructs a LocalSink behind the Sink interface.
func NewSink(metadataSink metadata.MetadataSink) Sink {
	s := NewLocalSink(metadataSink)
	return &s
}

func (s *LocalSink) Write(
	outputDir string,
	normalizedDoc normalize.NormalizedMarkdownDoc,
	hashAlgo hashutil.HashAlgo,
) (WriteResult, failure.ClassifiedError) {
	writeResult, err := write(outputDir, normalizedDoc, s.flatOutput)
	if err != nil {
		var storageError *StorageError
		errors.As(err, &storageError)
		s.metadataSink.RecordError(
			time.Now(),
			"storage",
			"LocalSink.Write",
			mapStorageErrorToMetadataCause(storageError),
			err.Error(),
			[]metadata.Attribute{
				metadata.NewAttr(metadata.AttrURL, normalizedDoc.Frontmatter().SourceURL()),
				metadata.NewAttr(metadata.AttrWritePath, storageError.Path),
			},
		)
		return WriteResult{}, storageError
	}
	s.metadataSink.RecordArtifact(
		metadata.ArtifactMarkdown,
		writeResult.Path(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrWritePath, writeResult.Path()),
			metadata.NewAttr(metadata.AttrURL, normalizedDoc.Frontmatter().SourceURL()),
			metadata.NewAttr(metadata.AttrField, writeResult.URLHash()),
			metadata.NewAttr(metadata.AttrField, writeResult.ContentHash()),
		},
	)
	return writeResult, nil
}

// KeySink is the engine-facing persistence contract from spec.md §4.H:
// save arbitrary bytes under a tree-structured key relative to a base
// directory, creating any missing parent directories. A failed write is
// reported to the metadata sink but is never fatal to the crawl.
type KeySink interface {
	Save(outputDir string, key string, data []byte, isBinary bool) failure.ClassifiedError
}

// Save persists data at outputDir/key, creating parent directories as
// needed. isBinary only affects the metadata tag recorded; both text and
// binary payloads are written with os.WriteFile.
func (s *LocalSink) Save(outputDir string, key string, data []byte, isBinary bool) failure.ClassifiedError {
	fullPath := filepath.Join(outputDir, filepath.FromSlash(key))

	if err := fileutil.EnsureDir(filepath.Dir(fullPath)); err != nil {
		storageErr := &StorageError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     ErrCausePathError,
			Path:      fullPath,
		}
		s.recordSaveError(storageErr, key)
		return storageErr
	}

	if err := os.WriteFile(fullPath, data, 0o644); err != nil {
		cause := ErrCauseWriteFailure
		if errors.Is(err, syscall.ENOSPC) {
			cause = ErrCauseDiskFull
		}
		// Any failed Save is recoverable, so the engine never aborts on it.
		storageErr := &StorageError{
			Message:   err.Error(),
			Retryable: true,
			Cause:     cause,
			Path:      fullPath,
		}
		s.recordSaveError(storageErr, key)
		return storageErr
	}

	kind := metadata.ArtifactMarkdown
	if isBinary {
		kind = metadata.ArtifactBinary
	}
	s.metadataSink.RecordArtifact(kind, fullPath, []metadata.Attribute{
		metadata.NewAttr(metadata.AttrWritePath, fullPath),
		metadata.NewAttr(metadata.AttrPath, key),
	})
	return nil
}

func (s *LocalSink) recordSaveError(storageErr *StorageError, key string) {
	s.metadataSink.RecordError(
		time.Now(),
		"storage",
		"LocalSink.Save",
		mapStorageErrorToMetadataCause(storageErr),
		storageErr.Error(),
		[]metadata.Attribute{
			metadata.NewAttr(metadata.AttrPath, key),
			metadata.NewAttr(metadata.AttrWritePath, storageErr.Path),
		},
	)
}

func write(
	outputDir string,
	normalizedDoc normalize.NormalizedMarkdownDoc,
	flatOutput bool,
) (WriteResult, failure.ClassifiedError) {
	canonicalURL := normalizedDoc.Frontmatter().CanonicalURL()

	parsedURL, err := url.Parse(canonicalURL)
	if err != nil {
		return WriteResult{}, &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseURLParseError,
			Path:      "",
		}
	}

	key := storageKey(*parsedURL, flatOutput)

	fullPath := filepath.Join(outputDir, filepath.FromSlash(key))

	if err := fileutil.EnsureDir(filepath.Dir(fullPath)); err != nil {
		var fileErr *fileutil.FileError
		if errors.As(err, &fileErr) {
			cause := ErrCauseWriteFailure
			retryable := false
			if fileErr.Cause == fileutil.ErrCausePathError {
				// Could be disk full or permission issue
				cause = ErrCausePathError
				retryable = true // disk full is retryable
			}
			return WriteResult{}, &StorageError{
				Message:   err.Error(),
				Retryable: retryable,
				Cause:     cause,
				Path:      outputDir,
			}
		}
		return WriteResult{}, &StorageError{
			Message:   err.Error(),
			Retryable: false,
			Cause:     ErrCauseWriteFailure,
			Path:      outputDir,
		}
	}

	// Write content to file
	content := normalizedDoc.Content()
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		cause := ErrCauseWriteFailure
		retryable := false
		// Check if it's a disk full error (ENOSPC)
		if errors.Is(err, syscall.ENOSPC) {
			cause = ErrCauseDiskFull
			retryable = true // disk full is retryable
		}
		return WriteResult{}, &StorageError{
			Message:   err.Error(),
			Retryable: retryable,
			Cause:     cause,
			Path:      fullPath,
		}
	}

	// Get content hash from frontmatter
	contentHash := normalizedDoc.Frontmatter().ContentHash()

	// Construct WriteResult
	writeResult := NewWriteResult(key, fullPath, contentHash)
	return writeResult, nil
}

// storageKey builds the tree- or flat-structured key u is written under,
// per spec.md §6's output layout.
func storageKey(u url.URL, flatOutput bool) string {
	if flatOutput {
		return urlutil.ToFlatFilename(u)
	}
	return urlutil.ToFilename(u)
}
