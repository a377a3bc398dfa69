package unpack

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/manifest"
)

// -- Test Helpers --

func zipOf(t *testing.T, files map[string]string, order ...string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, name := range order {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(files[name]))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func crx2(body []byte) []byte {
	key, sig := []byte("public-key"), []byte("signature!")
	var buf bytes.Buffer
	buf.WriteString("Cr24")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(2))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(key)))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(sig)))
	buf.Write(key)
	buf.Write(sig)
	buf.Write(body)
	return buf.Bytes()
}

func crx3(body []byte) []byte {
	header := []byte("protobuf-header-bytes")
	var buf bytes.Buffer
	buf.WriteString("Cr24")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(3))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(header)))
	buf.Write(header)
	buf.Write(body)
	return buf.Bytes()
}

const extensionV2 = `{
  "manifest_version": 2,
  "name": "fixture",
  "content_scripts": [{"matches": ["<all_urls>"], "js": ["lib/jquery.min.js", "cs.js"]}],
  "background": {"scripts": ["bg.js"], "page": "background.html"},
  "web_accessible_resources": ["*.html"]
}`

func fixtureV2(t *testing.T) []byte {
	files := map[string]string{
		"manifest.json":     extensionV2,
		"lib/jquery.min.js": "/* jquery */",
		"CS.js":             "chrome.runtime.sendMessage(location.href);",
		"bg.js":             "var a = 1;",
		"background.html":   `<html><script src="js/page.js?v=2"></script><script>inline()</script></html>`,
		"js/page.js":        "var b = 2;",
		"pages/war.html":    `<html><script src="war.js"></script><script>window.postMessage("x", "*")</script></html>`,
		"pages/war.js":      "var c = 3;",
	}
	return zipOf(t, files, "manifest.json", "lib/jquery.min.js", "CS.js", "bg.js", "background.html", "js/page.js", "pages/war.html", "pages/war.js")
}

// -- Archive --

func TestZipOffset(t *testing.T) {
	body := zipOf(t, map[string]string{"a": "b"}, "a")

	off, err := zipOffset(body)
	require.NoError(t, err)
	assert.Zero(t, off)

	off, err = zipOffset(crx2(body))
	require.NoError(t, err)
	assert.Equal(t, int64(16+10+10), off)

	off, err = zipOffset(crx3(body))
	require.NoError(t, err)
	assert.Equal(t, int64(12+21), off)

	_, err = zipOffset([]byte("not an archive at all"))
	assert.ErrorIs(t, err, ErrNotArchive)

	_, err = zipOffset([]byte("Cr24\x07\x00\x00\x00\x00\x00\x00\x00"))
	assert.ErrorIs(t, err, ErrNotArchive)
}

func TestArchiveRead(t *testing.T) {
	a, err := openArchive(crx3(fixtureV2(t)))
	require.NoError(t, err)

	content, err := a.read("./bg.js?x=1")
	require.NoError(t, err)
	assert.Equal(t, "var a = 1;", string(content))

	content, err = a.read("cs.js")
	require.NoError(t, err, "lookup falls back to case-insensitive names")
	assert.Contains(t, string(content), "sendMessage")

	_, err = a.read("missing.js")
	assert.Error(t, err)
}

func TestFnmatch(t *testing.T) {
	tests := []struct {
		name, pattern string
		expected      bool
	}{
		{"page.html", "*.html", true},
		{"pages/page.html", "*.html", true},
		{"pages/page.html", "pages/*", true},
		{"img/a.png", "*.html", false},
		{"a1.html", "a?.html", true},
		{"ab.html", "a[!b].html", false},
		{"ac.html", "a[!b].html", true},
		{"a+b.html", "a+b.html", true},
		{"a[.html", "a[.html", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, fnmatch(tt.name, tt.pattern), "%s ~ %s", tt.name, tt.pattern)
	}
}

func TestHTMLScripts(t *testing.T) {
	srcs, inline := htmlScripts([]byte(`<html><head>
<script src="../js/a.js#frag"></script>
<script src="https://cdn.example.com/b.js"></script>
<script>  run();  </script>
<script></script>
</head></html>`), "pages/p.html")

	assert.Equal(t, []string{"/js/a.js", "https://cdn.example.com/b.js"}, srcs)
	assert.Equal(t, []string{"run();"}, inline)
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest([]byte("abc")), Digest([]byte("abc")))
	assert.NotEqual(t, Digest([]byte("abc")), Digest([]byte("abd")))
	assert.Len(t, Digest(nil), 16)
}

// -- Extraction --

func TestExtract_V2(t *testing.T) {
	u := New(zaptest.NewLogger(t))
	c, err := u.extract("fixture", crx2(fixtureV2(t)))
	require.NoError(t, err)

	assert.Equal(t, 2, c.Manifest.ManifestVersion)
	assert.Equal(t, "// New file: cs.js\nchrome.runtime.sendMessage(location.href);\n", c.ContentScripts)
	assert.Equal(t, "// New file: bg.js\nvar a = 1;\n// New file: /js/page.js\nvar b = 2;\n", c.Background)
	assert.Contains(t, c.WARs, "// New inline (from pages/war.html)\nwindow.postMessage(\"x\", \"*\")\n")
	assert.Contains(t, c.WARs, "// New file: /pages/war.js\nvar c = 3;\n")
	assert.NotContains(t, c.WARs, "inline()", "the background page is not a WAR")

	assert.Contains(t, c.Digests, "archive")
	assert.Contains(t, c.Digests, "bg.js")
	assert.NotContains(t, c.Digests, "lib/jquery.min.js")
}

func TestExtract_V3ServiceWorker(t *testing.T) {
	body := zipOf(t, map[string]string{
		"manifest.json": `{"manifest_version": 3, "background": {"service_worker": "sw.js"},
		  "web_accessible_resources": [{"resources": ["w.html"], "matches": ["<all_urls>"]}]}`,
		"sw.js":  "self.x = 1;",
		"w.html": `<script src="w.js"></script>`,
		"w.js":   "var w;",
	}, "manifest.json", "sw.js", "w.html", "w.js")

	c, err := New(zaptest.NewLogger(t)).extract("v3", body)
	require.NoError(t, err)
	assert.Equal(t, "// New file: sw.js\nself.x = 1;\n", c.Background)
	assert.Equal(t, "// New file: /w.js\nvar w;\n", c.WARs)
	assert.Empty(t, c.ContentScripts)
}

func TestExtract_Rejections(t *testing.T) {
	u := New(zaptest.NewLogger(t))

	theme := zipOf(t, map[string]string{"manifest.json": `{"manifest_version": 2, "theme": {"colors": {}}}`}, "manifest.json")
	_, err := u.extract("theme", theme)
	assert.ErrorIs(t, err, ErrTheme)

	v1 := zipOf(t, map[string]string{"manifest.json": `{"manifest_version": 1}`}, "manifest.json")
	_, err = u.extract("old", v1)
	assert.ErrorIs(t, err, manifest.ErrUnsupportedVersion)

	noManifest := zipOf(t, map[string]string{"a.js": ""}, "a.js")
	_, err = u.extract("empty", noManifest)
	assert.Error(t, err)

	_, err = u.extract("garbage", []byte("garbage"))
	assert.ErrorIs(t, err, ErrNotArchive)
}

func TestUnpack_WritesComponents(t *testing.T) {
	src := filepath.Join(t.TempDir(), "abcdef.crx")
	require.NoError(t, os.WriteFile(src, crx2(fixtureV2(t)), 0o600))
	dest := t.TempDir()

	c, dir, err := New(zaptest.NewLogger(t)).Unpack(context.Background(), src, dest)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", c.ID)
	assert.Equal(t, filepath.Join(dest, "abcdef"), dir)

	for _, name := range []string{ManifestFile, ContentScriptsFile, BackgroundFile, WARsFile} {
		_, err := os.Stat(filepath.Join(dir, name))
		assert.NoError(t, err, name)
	}
	written, err := os.ReadFile(filepath.Join(dir, BackgroundFile))
	require.NoError(t, err)
	assert.Equal(t, c.Background, string(written))
}
