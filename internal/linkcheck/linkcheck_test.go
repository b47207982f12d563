package linkcheck

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExtractHTMLLinks(t *testing.T) {
	doc := `<html><head>
		<link rel="stylesheet" href="style.css">
		<script src="app.js"></script>
	</head><body>
		<a href="page.html">Page</a>
		<a href="https://example.com/external">External</a>
		<img src="logo.png" alt="Logo">
	</body></html>`

	links, err := ExtractHTMLLinks(strings.NewReader(doc))
	if err != nil {
		t.Fatalf("ExtractHTMLLinks: %v", err)
	}
	if len(links) != 5 {
		t.Fatalf("got %d links, want 5: %+v", len(links), links)
	}

	byURL := make(map[string]Link)
	for _, l := range links {
		byURL[l.URL] = l
	}
	if l := byURL["page.html"]; !l.IsInternal || l.Text != "Page" {
		t.Errorf("page.html = %+v", l)
	}
	if l := byURL["https://example.com/external"]; l.IsInternal {
		t.Error("external link classified as internal")
	}
	if l := byURL["logo.png"]; l.Tag != "img" || l.Text != "Logo" {
		t.Errorf("logo.png = %+v", l)
	}
}

func TestExtractMarkdownLinks(t *testing.T) {
	src := []byte("# Title\n\nSee [the guide](guide.md) and ![diagram](img/d.png).\n\nAlso <https://example.com>.\n")
	links := ExtractMarkdownLinks(src)

	byURL := make(map[string]Link)
	for _, l := range links {
		byURL[l.URL] = l
	}
	if l, ok := byURL["guide.md"]; !ok || !l.IsInternal {
		t.Errorf("guide.md = %+v (present=%t)", l, ok)
	}
	if l, ok := byURL["img/d.png"]; !ok || l.Tag != "image" {
		t.Errorf("img/d.png = %+v (present=%t)", l, ok)
	}
	if l, ok := byURL["https://example.com"]; !ok || l.IsInternal {
		t.Errorf("autolink = %+v (present=%t)", l, ok)
	}
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestVerifyTreeCleanTree(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"),
		`<a href="doc/guide.html">Guide</a><a href="/doc/guide.html">Abs</a><a href="#top">Top</a>`)
	writeFile(t, filepath.Join(root, "doc", "guide.html"),
		`<a href="../index.html">Home</a><a href="https://example.com">Ext</a>`)

	broken, err := VerifyTree(root)
	if err != nil {
		t.Fatalf("VerifyTree: %v", err)
	}
	if len(broken) != 0 {
		t.Errorf("clean tree reported broken links: %+v", broken)
	}
}

func TestVerifyTreeBrokenLinks(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"),
		`<a href="missing.html">Gone</a><img src="img/gone.png">`)
	writeFile(t, filepath.Join(root, "notes.md"), "[dead](nowhere.md)\n")

	broken, err := VerifyTree(root)
	if err != nil {
		t.Fatalf("VerifyTree: %v", err)
	}
	if len(broken) != 3 {
		t.Fatalf("got %d broken links, want 3: %+v", len(broken), broken)
	}
	// Sorted by file, then target.
	if broken[0].File != "index.html" || broken[0].Target != "img/gone.png" {
		t.Errorf("broken[0] = %+v", broken[0])
	}
	if broken[2].File != "notes.md" || broken[2].Target != "nowhere.md" {
		t.Errorf("broken[2] = %+v", broken[2])
	}
}

func TestVerifyTreeDirectoryLinkNeedsIndex(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "section"), 0o755); err != nil {
		t.Fatal(err)
	}
	writeFile(t, filepath.Join(root, "index.html"), `<a href="section/">Section</a>`)

	broken, err := VerifyTree(root)
	if err != nil {
		t.Fatalf("VerifyTree: %v", err)
	}
	if len(broken) != 1 {
		t.Fatalf("got %d broken links, want 1", len(broken))
	}

	writeFile(t, filepath.Join(root, "section", "index.html"), "<p>ok</p>")
	broken, err = VerifyTree(root)
	if err != nil {
		t.Fatalf("VerifyTree: %v", err)
	}
	if len(broken) != 0 {
		t.Errorf("directory with index.html still broken: %+v", broken)
	}
}

func TestVerifyTreeEscapeRejected(t *testing.T) {
	root := t.TempDir()
	writeFile(t, filepath.Join(root, "index.html"), `<a href="../outside.html">Out</a>`)

	broken, err := VerifyTree(root)
	if err != nil {
		t.Fatalf("VerifyTree: %v", err)
	}
	if len(broken) != 1 || broken[0].Reason != "escapes output tree" {
		t.Errorf("broken = %+v", broken)
	}
}
