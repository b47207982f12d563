// Package linkcheck extracts links from HTML and Markdown documents and
// verifies internal links offline against a finished output tree. External
// links are never dialed.
package linkcheck

import (
	"io"
	"net/url"
	"strings"

	"golang.org/x/net/html"
)

// Link is one extracted link.
type Link struct {
	URL        string // raw URL or path as written
	Text       string // link text or alt text
	Tag        string // html element or markdown node kind
	IsInternal bool   // true when the link targets the same tree
}

// ExtractHTMLLinks parses HTML and returns every link-bearing attribute value
// (a/href, img/src, script/src, link/href, video|audio|source/src).
func ExtractHTMLLinks(r io.Reader) ([]Link, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, err
	}

	var links []Link
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			collectElementLinks(n, &links)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links, nil
}

func collectElementLinks(n *html.Node, links *[]Link) {
	switch n.Data {
	case "a":
		if href := getAttr(n, "href"); href != "" {
			*links = append(*links, Link{URL: href, Text: nodeText(n), Tag: "a", IsInternal: isInternal(href)})
		}
	case "img":
		if src := getAttr(n, "src"); src != "" {
			*links = append(*links, Link{URL: src, Text: getAttr(n, "alt"), Tag: "img", IsInternal: isInternal(src)})
		}
	case "script", "video", "audio", "source":
		if src := getAttr(n, "src"); src != "" {
			*links = append(*links, Link{URL: src, Tag: n.Data, IsInternal: isInternal(src)})
		}
	case "link":
		if href := getAttr(n, "href"); href != "" {
			*links = append(*links, Link{URL: href, Text: getAttr(n, "rel"), Tag: "link", IsInternal: isInternal(href)})
		}
	}
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}

func nodeText(n *html.Node) string {
	if n.Type == html.TextNode {
		return strings.TrimSpace(n.Data)
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(nodeText(c))
	}
	return strings.TrimSpace(b.String())
}

// isInternal reports whether a URL targets the local tree. Relative URLs and
// bare fragments are internal; anything with a scheme or host is not.
func isInternal(raw string) bool {
	if strings.HasPrefix(raw, "#") {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Scheme == "" && u.Host == ""
}

// shouldVerify filters out links that have no filesystem counterpart.
func shouldVerify(raw string) bool {
	if raw == "" || strings.HasPrefix(raw, "#") {
		return false
	}
	for _, prefix := range []string{"mailto:", "tel:", "javascript:", "data:"} {
		if strings.HasPrefix(raw, prefix) {
			return false
		}
	}
	return true
}
