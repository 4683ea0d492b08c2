package sanitizer

import (
	"net/url"

	"golang.org/x/net/html"
)

type SanitizedHTMLDoc struct {
	contentNode    *html.Node
	discoveredUrls []url.URL
}

// NewSanitizedHTMLDoc constructs a SanitizedHTMLDoc directly, bypassing the
// sanitize() pipeline. Used by downstream packages and tests that already
// hold a clean content node.
func NewSanitizedHTMLDoc(contentNode *html.Node, discoveredUrls []url.URL) SanitizedHTMLDoc {
	return SanitizedHTMLDoc{
		contentNode:    contentNode,
		discoveredUrls: discoveredUrls,
	}
}

func (s *SanitizedHTMLDoc) GetDiscoveredURLs() []url.URL {
	return s.discoveredUrls
}

func (s *SanitizedHTMLDoc) GetContentNode() *html.Node {
	return s.contentNode
}
