package linkcheck

import (
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
)

// BrokenLink describes one internal link whose target does not exist in the
// output tree.
type BrokenLink struct {
	File   string // path of the document containing the link, relative to root
	Target string // the link as written
	Reason string
}

// VerifyTree walks a finished output tree and resolves every internal link in
// HTML and Markdown documents against the tree itself. It returns the broken
// links sorted by file; an error is returned only for filesystem or parse
// failures, never for broken links.
func VerifyTree(root string) ([]BrokenLink, error) {
	var broken []BrokenLink

	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		var links []Link
		switch strings.ToLower(filepath.Ext(p)) {
		case ".html", ".htm":
			f, err := os.Open(p) // #nosec G304 - path comes from the walked tree
			if err != nil {
				return err
			}
			links, err = ExtractHTMLLinks(f)
			f.Close()
			if err != nil {
				return fmt.Errorf("parse %s: %w", p, err)
			}
		case ".md":
			data, err := os.ReadFile(p) // #nosec G304
			if err != nil {
				return err
			}
			links = ExtractMarkdownLinks(data)
		default:
			return nil
		}

		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		for _, l := range links {
			if !l.IsInternal || !shouldVerify(l.URL) {
				continue
			}
			if reason := resolve(root, p, l.URL); reason != "" {
				broken = append(broken, BrokenLink{File: rel, Target: l.URL, Reason: reason})
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(broken, func(i, j int) bool {
		if broken[i].File != broken[j].File {
			return broken[i].File < broken[j].File
		}
		return broken[i].Target < broken[j].Target
	})
	return broken, nil
}

// resolve maps an internal link to a filesystem path and checks it exists.
// Returns an empty string when the target resolves, a reason otherwise.
func resolve(root, file, raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "unparseable link"
	}
	target := u.Path
	if target == "" { // pure fragment or query
		return ""
	}

	var fsPath string
	if path.IsAbs(target) {
		fsPath = filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(target, "/")))
	} else {
		fsPath = filepath.Join(filepath.Dir(file), filepath.FromSlash(target))
	}

	// Links must not escape the tree.
	relToRoot, err := filepath.Rel(root, fsPath)
	if err != nil || strings.HasPrefix(relToRoot, "..") {
		return "escapes output tree"
	}

	info, err := os.Stat(fsPath)
	if err != nil {
		return "target not found"
	}
	if info.IsDir() {
		// Directory links need an index document.
		if _, err := os.Stat(filepath.Join(fsPath, "index.html")); err != nil {
			return "directory without index.html"
		}
	}
	return ""
}
