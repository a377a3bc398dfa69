// File: internal/analysis/extension/unpack/unpack.go
// Package unpack extracts the manifest and the scripts of each component
// from a packed browser extension.
package unpack

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/viant/afs"
	"go.uber.org/zap"
	"golang.org/x/net/html"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/manifest"
)

// ErrTheme is returned for themes, which carry no scripts.
var ErrTheme = errors.New("extension is a theme")

// Output file names inside the destination directory.
const (
	ManifestFile       = "manifest.json"
	ContentScriptsFile = "content_scripts.js"
	BackgroundFile     = "background.js"
	WARsFile           = "wars.js"
)

// Components is an extension split into the code of its components. Each
// component is the concatenation of its scripts.
type Components struct {
	ID             string
	Manifest       *manifest.Manifest
	ContentScripts string
	Background     string
	WARs           string
	// Digests fingerprints the archive and every extracted script.
	Digests map[string]string
}

// Unpacker reads packed extensions from any location afs supports.
type Unpacker struct {
	logger *zap.Logger
	fs     afs.Service
}

// New creates an unpacker.
func New(logger *zap.Logger) *Unpacker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Unpacker{logger: logger.Named("unpack"), fs: afs.New()}
}

// Extract reads the archive at location and splits it into components.
func (u *Unpacker) Extract(ctx context.Context, location string) (*Components, error) {
	data, err := u.fs.DownloadWithURL(ctx, location)
	if err != nil {
		return nil, fmt.Errorf("failed to read extension %s: %w", location, err)
	}
	id := strings.Split(path.Base(filepath.ToSlash(location)), ".crx")[0]
	return u.extract(id, data)
}

func (u *Unpacker) extract(id string, data []byte) (*Components, error) {
	logger := u.logger.With(zap.String("extension", id))
	a, err := openArchive(data)
	if err != nil {
		return nil, err
	}
	raw, err := a.read(ManifestFile)
	if err != nil {
		return nil, fmt.Errorf("extension %s: %w", id, err)
	}
	m, err := manifest.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("extension %s: %w", id, err)
	}
	if m.IsTheme() {
		return nil, fmt.Errorf("%w: %s", ErrTheme, id)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("extension %s: %w", id, err)
	}

	c := &Components{ID: id, Manifest: m, Digests: map[string]string{"archive": Digest(data)}}
	p := &packer{archive: a, logger: logger, digests: c.Digests}

	c.ContentScripts = p.pack(m.ContentScriptFiles())
	if m.ManifestVersion == 2 {
		c.Background = p.pack(p.backgroundV2(m))
	} else if m.Background.ServiceWorker != "" {
		c.Background = p.pack([]string{m.Background.ServiceWorker})
	}
	c.WARs = p.wars(m)

	logger.Info("Extracted extension components",
		zap.Int("manifest_version", m.ManifestVersion),
		zap.Int("content_scripts", len(c.ContentScripts)),
		zap.Int("background", len(c.Background)),
		zap.Int("wars", len(c.WARs)))
	return c, nil
}

// Unpack extracts the archive at location and writes the manifest and the
// code of each component to dest/<id>/.
func (u *Unpacker) Unpack(ctx context.Context, location, dest string) (*Components, string, error) {
	c, err := u.Extract(ctx, location)
	if err != nil {
		return nil, "", err
	}
	dir := filepath.Join(dest, c.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, "", fmt.Errorf("failed to create %s: %w", dir, err)
	}
	files := map[string][]byte{
		ManifestFile:       c.Manifest.Raw,
		ContentScriptsFile: []byte(c.ContentScripts),
		BackgroundFile:     []byte(c.Background),
		WARsFile:           []byte(c.WARs),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), content, 0o644); err != nil {
			return nil, "", fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	u.logger.Info("Unpacked extension", zap.String("source", location), zap.String("dest", dir))
	return c, dir, nil
}

// packer concatenates archive scripts.
type packer struct {
	archive *archive
	logger  *zap.Logger
	digests map[string]string
}

// skipScript filters libraries and remote scripts.
func skipScript(name string) bool {
	lower := strings.ToLower(name)
	return strings.Contains(lower, "jquery") ||
		!strings.HasSuffix(name, ".js") ||
		strings.HasPrefix(name, "https://") ||
		strings.HasPrefix(name, "http://") ||
		strings.Contains(lower, "jq.min.js") ||
		strings.Contains(lower, "jq.js")
}

func (p *packer) pack(scripts []string) string {
	var sb strings.Builder
	for _, script := range scripts {
		if skipScript(script) {
			continue
		}
		content, err := p.archive.read(script)
		if err != nil {
			p.logger.Warn("Skipping unreadable script", zap.String("script", script), zap.Error(err))
			continue
		}
		if len(content) == 0 {
			continue
		}
		p.digests[script] = Digest(content)
		fmt.Fprintf(&sb, "// New file: %s\n", script)
		sb.Write(bytes.ToValidUTF8(content, nil))
		sb.WriteString("\n")
	}
	return sb.String()
}

// backgroundV2 lists the background scripts followed by the scripts the
// background page loads. Inline scripts do not run under the default CSP of
// extension pages and are ignored.
func (p *packer) backgroundV2(m *manifest.Manifest) []string {
	var out []string
	seen := map[string]struct{}{}
	add := func(s string) {
		if _, dup := seen[s]; !dup {
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	for _, s := range m.Background.Scripts {
		add(s)
	}
	if page := m.Background.Page; page != "" {
		content, err := p.archive.read(page)
		if err != nil {
			p.logger.Warn("Skipping unreadable background page", zap.String("page", page), zap.Error(err))
			return out
		}
		srcs, _ := htmlScripts(content, page)
		for _, s := range srcs {
			add(s)
		}
	}
	return out
}

// wars collects the scripts of the HTML pages matching a web accessible
// resource pattern: inline scripts first, then every referenced script.
func (p *packer) wars(m *manifest.Manifest) string {
	patterns := m.WARPatterns()
	if len(patterns) == 0 {
		return ""
	}
	var inline strings.Builder
	srcSet := map[string]struct{}{}
	for _, name := range p.archive.names() {
		if !strings.Contains(name, ".htm") || name == m.Background.Page {
			continue
		}
		for _, pattern := range patterns {
			if !fnmatch(name, pattern) {
				continue
			}
			content, err := p.archive.read(name)
			if err != nil {
				p.logger.Warn("Skipping unreadable resource", zap.String("resource", name), zap.Error(err))
				break
			}
			srcs, scripts := htmlScripts(content, name)
			for _, s := range srcs {
				srcSet[s] = struct{}{}
			}
			for _, s := range scripts {
				fmt.Fprintf(&inline, "// New inline (from %s)\n%s\n", name, s)
			}
			break
		}
	}
	srcs := make([]string, 0, len(srcSet))
	for s := range srcSet {
		srcs = append(srcs, s)
	}
	sort.Strings(srcs)
	return inline.String() + p.pack(srcs)
}

// htmlScripts returns the resolved src of every external script of an HTML
// page and the text of every inline script.
func htmlScripts(content []byte, page string) (srcs, inline []string) {
	doc, err := html.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, nil
	}
	base, _ := url.Parse(page)
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "script" {
			src, hasSrc := attr(n, "src")
			switch {
			case hasSrc:
				if i := strings.IndexAny(src, "?#"); i >= 0 {
					src = src[:i]
				}
				if ref, err := url.Parse(src); err == nil && base != nil {
					src = base.ResolveReference(ref).String()
				}
				srcs = append(srcs, src)
			case n.FirstChild != nil && n.FirstChild.Type == html.TextNode:
				if text := strings.TrimSpace(n.FirstChild.Data); text != "" {
					inline = append(inline, text)
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)
	return srcs, inline
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}
