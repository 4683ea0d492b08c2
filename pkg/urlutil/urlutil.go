package urlutil

import (
	"net/url"
	"path"
	"strings"
)

// Canonicalize applies a deterministic normalization to a URL, producing a canonical form.
// It maps equivalent URL spellings to a single canonical representation.
//
// The normalization follows these rules:
//   - Scheme and host are lowercased
//   - Path is cleaned (trailing slashes removed, except for root "/")
//   - Fragments are removed
//   - Query parameters are removed
//   - Default ports are omitted (e.g., :80 for http, :443 for https)
//
// Properties:
//   - Pure: no state, no memory
//   - Deterministic: same input always produces same output
//   - Idempotent: Canonicalize(Canonicalize(url)) == Canonicalize(url)
//   - Context-free: does not depend on crawl history
func Canonicalize(sourceUrl url.URL) url.URL {
	// Create a copy to avoid mutating the original
	canonical := sourceUrl

	// Lowercase scheme and host
	canonical.Scheme = lowerASCII(canonical.Scheme)
	canonical.Host = lowerASCII(canonical.Host)

	// Remove default port if present
	if host, port := canonical.Hostname(), canonical.Port(); port != "" {
		if (canonical.Scheme == "http" && port == "80") ||
			(canonical.Scheme == "https" && port == "443") {
			canonical.Host = host
		}
	}

	// Clean the path: remove trailing slashes (except root)
	if len(canonical.Path) > 1 {
		canonical.Path = stripTrailingSlash(canonical.Path)
	}

	// Remove fragment (anchor)
	canonical.Fragment = ""
	canonical.RawFragment = ""

	// Remove query parameters
	canonical.RawQuery = ""
	canonical.ForceQuery = false

	return canonical
}

// lowerASCII converts ASCII characters to lowercase without allocating.
// This is faster than strings.ToLower for ASCII-only strings.
func lowerASCII(s string) string {
	var needsLower bool
	for i := 0; i < len(s); i++ {
		if s[i] >= 'A' && s[i] <= 'Z' {
			needsLower = true
			break
		}
	}
	if !needsLower {
		return s
	}
	b := make([]byte, len(s))
	copy(b, s)
	for i := 0; i < len(b); i++ {
		if b[i] >= 'A' && b[i] <= 'Z' {
			b[i] += 'a' - 'A'
		}
	}
	return string(b)
}

// stripTrailingSlash removes trailing slashes from a path.
func stripTrailingSlash(path string) string {
	for len(path) > 1 && path[len(path)-1] == '/' {
		path = path[:len(path)-1]
	}
	return path
}

// skippableSchemes resolve to an empty URL: the caller's signal to skip the link entirely.
var skippableSchemes = map[string]struct{}{
	"mailto":     {},
	"javascript": {},
}

// IsSkippableScheme reports whether scheme names a link kind that is never fetchable.
func IsSkippableScheme(scheme string) bool {
	_, ok := skippableSchemes[lowerASCII(scheme)]
	return ok
}

// Resolve implements RFC-3986-style relative resolution of relative against base,
// including "./" and "../" compression, protocol-relative "//host/p" references,
// and fragment-only/query-only references. mailto: and javascript: targets resolve
// to the zero URL, signalling "skip".
func Resolve(base url.URL, relative string) (url.URL, bool) {
	ref, err := url.Parse(relative)
	if err != nil {
		return url.URL{}, false
	}

	if ref.Scheme != "" && IsSkippableScheme(ref.Scheme) {
		return url.URL{}, false
	}

	resolved := base.ResolveReference(ref)

	if resolved.Scheme != "" && IsSkippableScheme(resolved.Scheme) {
		return url.URL{}, false
	}

	return *resolved, true
}

// IsSameDomain compares hosts case-insensitively after trimming one trailing dot.
func IsSameDomain(a, b url.URL) bool {
	return normalizeHost(a.Hostname()) == normalizeHost(b.Hostname())
}

func normalizeHost(host string) string {
	host = lowerASCII(host)
	return strings.TrimSuffix(host, ".")
}

// imageExtensions is the closed set recognized by IsImage.
var imageExtensions = map[string]struct{}{
	".jpg":  {},
	".jpeg": {},
	".png":  {},
	".gif":  {},
	".bmp":  {},
	".webp": {},
	".svg":  {},
	".ico":  {},
	".tiff": {},
	".avif": {},
}

// IsImage checks the URL path's extension against a closed set of image suffixes.
func IsImage(u url.URL) bool {
	ext := strings.ToLower(path.Ext(u.Path))
	_, ok := imageExtensions[ext]
	return ok
}

// ToFilename returns a tree-structured path host[_port]/path[/index].md for u.
// A trailing "/" path becomes "index"; any final extension other than ".md"
// is replaced with ".md".
func ToFilename(u url.URL) string {
	hostPart := lowerASCII(u.Hostname())
	if port := u.Port(); port != "" {
		hostPart += "_" + port
	}

	segments := pathSegments(u.Path)
	if len(segments) == 0 || strings.HasSuffix(u.Path, "/") || u.Path == "" {
		segments = append(segments, "index")
	}

	last := len(segments) - 1
	segments[last] = withMarkdownExt(segments[last])

	return path.Join(append([]string{hostPart}, segments...)...)
}

// ToFlatFilename is the same shape as ToFilename with "/" replaced by "_".
func ToFlatFilename(u url.URL) string {
	return strings.ReplaceAll(ToFilename(u), "/", "_")
}

func pathSegments(p string) []string {
	p = strings.Trim(p, "/")
	if p == "" {
		return nil
	}
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func withMarkdownExt(segment string) string {
	ext := path.Ext(segment)
	if ext == ".md" {
		return segment
	}
	if ext == "" {
		return segment + ".md"
	}
	return strings.TrimSuffix(segment, ext) + ".md"
}
