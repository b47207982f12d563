package linkcheck

import (
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExtractMarkdownLinks parses Markdown and returns every link and image
// destination found in the document AST.
func ExtractMarkdownLinks(src []byte) []Link {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(src))

	var links []Link
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Link:
			dest := string(node.Destination)
			links = append(links, Link{URL: dest, Tag: "link", IsInternal: isInternal(dest)})
		case *ast.Image:
			dest := string(node.Destination)
			links = append(links, Link{URL: dest, Tag: "image", IsInternal: isInternal(dest)})
		case *ast.AutoLink:
			dest := string(node.URL(src))
			links = append(links, Link{URL: dest, Tag: "autolink", IsInternal: isInternal(dest)})
		}
		return ast.WalkContinue, nil
	})
	return links
}
