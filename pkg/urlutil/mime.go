package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// binaryMimeExtensions maps a recognized downloadable MIME type to the file
// extension it is saved under, per spec.md §6's MIME -> extension table.
var binaryMimeExtensions = map[string]string{
	"application/pdf": ".pdf",
	"application/msword": ".doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": ".docx",
	"application/vnd.ms-excel": ".xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":       ".xlsx",
	"application/vnd.ms-powerpoint":                                          ".ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": ".pptx",
	"text/csv":           ".csv",
	"application/zip":     ".zip",
	"application/x-tar":   ".tar",
	"application/gzip":    ".gz",
	"application/json":    ".json",
	"application/xml":     ".xml",
	"text/xml":            ".xml",
	"image/jpeg":          ".jpg",
	"image/png":           ".png",
	"image/gif":           ".gif",
	"image/webp":          ".webp",
	"image/svg+xml":       ".svg",
	"image/x-icon":        ".ico",
	"image/vnd.microsoft.icon": ".ico",
}

// recognizedBinaryExtensions is the reverse of binaryMimeExtensions, used as
// the fallback when the Content-Type header is missing or generic
// (application/octet-stream) but the URL's own path extension already names
// a recognized binary kind.
var recognizedBinaryExtensions = func() map[string]struct{} {
	set := make(map[string]struct{}, len(binaryMimeExtensions))
	for _, ext := range binaryMimeExtensions {
		set[ext] = struct{}{}
	}
	return set
}()

// ExtensionForContentType implements spec.md §4.G's extension_for: it maps
// contentType (optionally parameterized, e.g. "text/csv; charset=utf-8") to
// the binary extension it should be saved under. Failing a direct MIME
// match, it falls back to base's own path extension when that extension is
// itself one of the recognized binary kinds (covers servers that send a
// generic or missing Content-Type for a clearly-named binary file). ok is
// false for anything that should instead go through HTML->Markdown
// conversion.
func ExtensionForContentType(contentType string, base url.URL) (ext string, ok bool) {
	mime := strings.ToLower(strings.TrimSpace(strings.SplitN(contentType, ";", 2)[0]))
	if ext, found := binaryMimeExtensions[mime]; found {
		return ext, true
	}
	if strings.HasPrefix(mime, "image/") {
		// An image/* type outside the recognized set still counts as a
		// downloadable binary; it just has no canonical extension of its
		// own, so fall through to the URL-derived one below.
		if ext := lowerASCII(path.Ext(base.Path)); ext != "" {
			return ext, true
		}
	}

	if fallbackExt := lowerASCII(path.Ext(base.Path)); fallbackExt != "" {
		if _, recognized := recognizedBinaryExtensions[fallbackExt]; recognized {
			return fallbackExt, true
		}
	}
	return "", false
}
