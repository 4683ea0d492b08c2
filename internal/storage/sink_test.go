package storage_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ghostcrawl/ghostcrawl/internal/metadata"
	"github.com/ghostcrawl/ghostcrawl/internal/storage"
	"github.com/ghostcrawl/ghostcrawl/pkg/hashutil"
)

func TestLocalSink_Write_Success(t *testing.T) {
	tests := []struct {
		name         string
		sourceURL    string
		canonicalURL string
		content      string
		contentHash  string
		expectedKey  string
	}{
		{
			name:         "nested path becomes host/path tree",
			sourceURL:    "https://example.com/docs/page1",
			canonicalURL: "https://example.com/docs/page1",
			content:      "# Page 1\n\nThis is the content of page 1.",
			contentHash:  "abc123def456",
			expectedKey:  "example.com/docs/page1.md",
		},
		{
			name:         "non-default port is folded into the host segment",
			sourceURL:    "https://example.com:8443/docs/page2",
			canonicalURL: "https://example.com:8443/docs/page2",
			content:      "# Page 2\n\nThis is the content of page 2.",
			contentHash:  "xyz789uvw012",
			expectedKey:  "example.com_8443/docs/page2.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir, err := os.MkdirTemp("", "storage-test-*")
			if err != nil {
				t.Fatalf("failed to create temp dir: %v", err)
			}
			defer os.RemoveAll(tempDir)

			mockSink := &metadataSinkMock{}
			sink := storage.NewLocalSink(mockSink)

			doc := createTestNormalizedDoc(
				tt.sourceURL,
				tt.canonicalURL,
				tt.contentHash,
				[]byte(tt.content),
			)

			result, writeErr := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)

			if writeErr != nil {
				t.Errorf("expected no error, got: %v", writeErr)
			}

			if result.URLHash() != tt.expectedKey {
				t.Errorf("expected key %s, got %s", tt.expectedKey, result.URLHash())
			}

			if result.ContentHash() != tt.contentHash {
				t.Errorf("expected ContentHash %s, got %s", tt.contentHash, result.ContentHash())
			}

			expectedPath := filepath.Join(tempDir, filepath.FromSlash(tt.expectedKey))
			if result.Path() != expectedPath {
				t.Errorf("expected Path %s, got %s", expectedPath, result.Path())
			}

			writtenContent, err := os.ReadFile(expectedPath)
			if err != nil {
				t.Errorf("failed to read written file: %v", err)
			}
			if string(writtenContent) != tt.content {
				t.Errorf("expected content %q, got %q", tt.content, string(writtenContent))
			}

			if mockSink.recordErrorCalled {
				t.Error("expected RecordError not to be called for successful write")
			}

			if !mockSink.recordArtifactCalled {
				t.Error("expected RecordArtifact to be called")
			}

			if mockSink.recordArtifactKind != metadata.ArtifactMarkdown {
				t.Errorf("expected artifact kind %s, got %s", metadata.ArtifactMarkdown, mockSink.recordArtifactKind)
			}

			if mockSink.recordArtifactPath != expectedPath {
				t.Errorf("expected artifact path %s, got %s", expectedPath, mockSink.recordArtifactPath)
			}

			writePathValue := findAttrValue(mockSink.recordArtifactAttrs, metadata.AttrWritePath)
			if writePathValue != expectedPath {
				t.Errorf("expected AttrWritePath %s, got %s", expectedPath, writePathValue)
			}

			urlValue := findAttrValue(mockSink.recordArtifactAttrs, metadata.AttrURL)
			if urlValue != tt.sourceURL {
				t.Errorf("expected AttrURL %s, got %s", tt.sourceURL, urlValue)
			}
		})
	}
}

func TestLocalSink_Write_FlatLayout(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "storage-test-flat-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	mockSink := &metadataSinkMock{}
	sink := storage.NewLocalSinkWithLayout(mockSink, true)

	canonicalURL := "https://example.com/docs/getting-started"
	doc := createTestNormalizedDoc(canonicalURL, canonicalURL, "hash123", []byte("# Getting started"))

	result, writeErr := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
	if writeErr != nil {
		t.Fatalf("write failed: %v", writeErr)
	}

	expectedKey := "example.com_docs_getting-started.md"
	if result.URLHash() != expectedKey {
		t.Errorf("expected flat key %s, got %s", expectedKey, result.URLHash())
	}
	if strings.Contains(result.URLHash(), "/") {
		t.Errorf("expected no path separators in a flat key, got %s", result.URLHash())
	}
}

func TestLocalSink_Write_Idempotent(t *testing.T) {
	tempDir, err := os.MkdirTemp("", "storage-test-*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	mockSink := &metadataSinkMock{}
	sink := storage.NewLocalSink(mockSink)

	canonicalURL := "https://example.com/docs/page"
	sourceURL := "https://example.com/docs/page"
	content := "# Test Content"
	contentHash := "hash123"

	doc := createTestNormalizedDoc(sourceURL, canonicalURL, contentHash, []byte(content))

	result1, err1 := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
	if err1 != nil {
		t.Fatalf("first write failed: %v", err1)
	}

	mockSink.Reset()

	result2, err2 := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
	if err2 != nil {
		t.Fatalf("second write failed: %v", err2)
	}

	if result1.URLHash() != result2.URLHash() {
		t.Error("expected same key for idempotent writes")
	}

	if result1.Path() != result2.Path() {
		t.Error("expected same Path for idempotent writes")
	}

	if result1.ContentHash() != result2.ContentHash() {
		t.Error("expected same ContentHash for idempotent writes")
	}

	writtenContent, err := os.ReadFile(result1.Path())
	if err != nil {
		t.Errorf("failed to read file after second write: %v", err)
	}
	if string(writtenContent) != content {
		t.Errorf("content mismatch after second write: expected %q, got %q", content, string(writtenContent))
	}
}

func TestLocalSink_Write_ErrorHandling(t *testing.T) {
	tests := []struct {
		name                 string
		setupFunc            func() (string, func())
		expectedError        bool
		expectMetadata       bool
		expectedErrorDetails string
	}{
		{
			name: "write to read-only directory",
			setupFunc: func() (string, func()) {
				tempDir, _ := os.MkdirTemp("", "storage-test-ro-*")
				os.Chmod(tempDir, 0555) // Read-only
				return tempDir, func() {
					os.Chmod(tempDir, 0755) // Restore permissions for cleanup
					os.RemoveAll(tempDir)
				}
			},
			expectedError:        true,
			expectMetadata:       true,
			expectedErrorDetails: "storage error: path error",
		},
		{
			name: "write to non-existent path with parent read-only",
			setupFunc: func() (string, func()) {
				tempDir, _ := os.MkdirTemp("", "storage-test-*")
				os.Chmod(tempDir, 0555) // Read-only
				return filepath.Join(tempDir, "subdir"), func() {
					os.Chmod(tempDir, 0755) // Restore permissions for cleanup
					os.RemoveAll(tempDir)
				}
			},
			expectedError:        true,
			expectMetadata:       true,
			expectedErrorDetails: "storage error: path error",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outputDir, cleanup := tt.setupFunc()
			defer cleanup()

			mockSink := &metadataSinkMock{}
			sink := storage.NewLocalSink(mockSink)

			doc := createTestNormalizedDoc(
				"https://example.com/page",
				"https://example.com/page",
				"hash123",
				[]byte("content"),
			)

			_, writeErr := sink.Write(outputDir, doc, hashutil.HashAlgoSHA256)

			if tt.expectedError && writeErr == nil {
				t.Error("expected error but got none")
			}

			if !tt.expectedError && writeErr != nil {
				t.Errorf("expected no error but got: %v", writeErr)
			}

			if tt.expectMetadata {
				if !mockSink.recordErrorCalled {
					t.Error("expected RecordError to be called on failure")
				}

				if mockSink.recordErrorPackageName != "storage" {
					t.Errorf("expected packageName 'storage', got: %s", mockSink.recordErrorPackageName)
				}

				if mockSink.recordErrorAction != "LocalSink.Write" {
					t.Errorf("expected action 'LocalSink.Write', got: %s", mockSink.recordErrorAction)
				}

				// Cause should be StorageFailure for write failures
				if mockSink.recordErrorCause != metadata.CauseStorageFailure {
					t.Errorf("expected cause CauseStorageFailure (%d), got: %d", metadata.CauseStorageFailure, mockSink.recordErrorCause)
				}

				if !strings.Contains(mockSink.recordErrorDetails, tt.expectedErrorDetails) {
					t.Errorf("expected error details to contain %q, got: %s", tt.expectedErrorDetails, mockSink.recordErrorDetails)
				}

				timeDiff := time.Since(mockSink.recordErrorObservedAt)
				if timeDiff > time.Minute {
					t.Errorf("expected observedAt to be recent, but was %v ago", timeDiff)
				}

				urlValue := findAttrValue(mockSink.recordErrorAttrs, metadata.AttrURL)
				if urlValue != "https://example.com/page" {
					t.Errorf("expected AttrURL in error metadata, got: %s", urlValue)
				}

				writePathValue := findAttrValue(mockSink.recordErrorAttrs, metadata.AttrWritePath)
				if writePathValue == "" {
					t.Error("expected AttrWritePath in error metadata")
				}
			}

			if mockSink.recordArtifactCalled {
				t.Error("expected RecordArtifact not to be called on failure")
			}
		})
	}
}

func TestLocalSink_Write_KeyDeterminism(t *testing.T) {
	tests := []struct {
		name         string
		canonicalURL string
		expectedKey  string
	}{
		{
			name:         "deterministic tree key",
			canonicalURL: "https://docs.example.com/getting-started",
			expectedKey:  "docs.example.com/getting-started.md",
		},
		{
			name:         "query and fragment do not affect the key",
			canonicalURL: "https://example.com/docs/page?query=value#fragment",
			expectedKey:  "example.com/docs/page.md",
		},
		{
			name:         "root path becomes index",
			canonicalURL: "https://example.com/",
			expectedKey:  "example.com/index.md",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tempDir, _ := os.MkdirTemp("", "storage-test-*")
			defer os.RemoveAll(tempDir)

			mockSink := &metadataSinkMock{}
			sink := storage.NewLocalSink(mockSink)

			doc := createTestNormalizedDoc(
				tt.canonicalURL,
				tt.canonicalURL,
				"contentHash",
				[]byte("content"),
			)

			result, err := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
			if err != nil {
				t.Fatalf("write failed: %v", err)
			}

			if result.URLHash() != tt.expectedKey {
				t.Errorf("expected key %s, got %s", tt.expectedKey, result.URLHash())
			}

			mockSink.Reset()
			result2, err := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
			if err != nil {
				t.Fatalf("second write failed: %v", err)
			}

			if result.URLHash() != result2.URLHash() {
				t.Error("key should be deterministic across runs")
			}
		})
	}
}

func TestLocalSink_Write_MultipleDocuments(t *testing.T) {
	tempDir, _ := os.MkdirTemp("", "storage-test-*")
	defer os.RemoveAll(tempDir)

	mockSink := &metadataSinkMock{}
	sink := storage.NewLocalSink(mockSink)

	docs := []struct {
		canonicalURL string
		content      string
	}{
		{"https://example.com/docs/page1", "# Page 1"},
		{"https://example.com/docs/page2", "# Page 2"},
		{"https://example.com/docs/page3", "# Page 3"},
	}

	writtenPaths := make(map[string]bool)

	for _, docData := range docs {
		doc := createTestNormalizedDoc(
			docData.canonicalURL,
			docData.canonicalURL,
			"hash",
			[]byte(docData.content),
		)

		result, err := sink.Write(tempDir, doc, hashutil.HashAlgoSHA256)
		if err != nil {
			t.Fatalf("write failed for %s: %v", docData.canonicalURL, err)
		}

		if writtenPaths[result.Path()] {
			t.Errorf("duplicate path generated: %s", result.Path())
		}
		writtenPaths[result.Path()] = true

		if _, err := os.Stat(result.Path()); os.IsNotExist(err) {
			t.Errorf("file not found: %s", result.Path())
		}

		mockSink.Reset()
	}

	if len(writtenPaths) != 3 {
		t.Errorf("expected 3 unique paths, got %d", len(writtenPaths))
	}
}

func TestLocalSink_Save_Binary(t *testing.T) {
	tempDir, _ := os.MkdirTemp("", "storage-test-save-*")
	defer os.RemoveAll(tempDir)

	mockSink := &metadataSinkMock{}
	sink := storage.NewLocalSink(mockSink)

	data := []byte("%PDF-1.4 fake content")
	key := "example.com/files/report.pdf"

	if err := sink.Save(tempDir, key, data, true); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	fullPath := filepath.Join(tempDir, filepath.FromSlash(key))
	written, err := os.ReadFile(fullPath)
	if err != nil {
		t.Fatalf("failed to read saved file: %v", err)
	}
	if string(written) != string(data) {
		t.Errorf("expected content %q, got %q", data, written)
	}

	if !mockSink.recordArtifactCalled {
		t.Error("expected RecordArtifact to be called")
	}
	if mockSink.recordArtifactKind != metadata.ArtifactBinary {
		t.Errorf("expected artifact kind %s, got %s", metadata.ArtifactBinary, mockSink.recordArtifactKind)
	}
}

func TestWriteResult_Methods(t *testing.T) {
	result := storage.NewWriteResult("example.com/index.md", "/path/to/file.md", "contenthash456")

	if result.URLHash() != "example.com/index.md" {
		t.Errorf("expected key example.com/index.md, got %s", result.URLHash())
	}

	if result.Path() != "/path/to/file.md" {
		t.Errorf("expected Path /path/to/file.md, got %s", result.Path())
	}

	if result.ContentHash() != "contenthash456" {
		t.Errorf("expected ContentHash contenthash456, got %s", result.ContentHash())
	}
}
