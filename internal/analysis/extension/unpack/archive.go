// File: internal/analysis/extension/unpack/archive.go
package unpack

import (
	"archive/zip"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/minio/highwayhash"
)

// ErrNotArchive is returned for data that is neither a CRX nor a ZIP file.
var ErrNotArchive = errors.New("not an extension archive")

var (
	crxMagic = []byte("Cr24")
	zipMagic = []byte("PK\x03\x04")
)

// digestKey is fixed so digests are comparable across runs.
var digestKey = []byte("doublex-extension-digest-key-v01")

// Digest fingerprints content with a 64-bit HighwayHash.
func Digest(data []byte) string {
	h, err := highwayhash.New64(digestKey)
	if err != nil {
		// Only a key of the wrong size fails.
		panic(err)
	}
	_, _ = h.Write(data)
	return fmt.Sprintf("%016x", h.Sum64())
}

// zipOffset returns where the ZIP body of a packed extension starts. CRX2
// headers carry a public key and a signature, CRX3 headers a protobuf of
// declared size. Plain ZIP files start at zero.
func zipOffset(data []byte) (int64, error) {
	if bytes.HasPrefix(data, zipMagic) {
		return 0, nil
	}
	if !bytes.HasPrefix(data, crxMagic) || len(data) < 12 {
		return 0, ErrNotArchive
	}
	version := binary.LittleEndian.Uint32(data[4:8])
	switch version {
	case 2:
		if len(data) < 16 {
			return 0, fmt.Errorf("%w: truncated CRX2 header", ErrNotArchive)
		}
		keyLen := int64(binary.LittleEndian.Uint32(data[8:12]))
		sigLen := int64(binary.LittleEndian.Uint32(data[12:16]))
		return 16 + keyLen + sigLen, nil
	case 3:
		headerLen := int64(binary.LittleEndian.Uint32(data[8:12]))
		return 12 + headerLen, nil
	}
	return 0, fmt.Errorf("%w: CRX version %d", ErrNotArchive, version)
}

// archive is the ZIP body of a packed extension.
type archive struct {
	reader *zip.Reader
	files  map[string]*zip.File
	lower  map[string]*zip.File
}

func openArchive(data []byte) (*archive, error) {
	off, err := zipOffset(data)
	if err != nil {
		return nil, err
	}
	if off > int64(len(data)) {
		return nil, fmt.Errorf("%w: header longer than file", ErrNotArchive)
	}
	body := data[off:]
	r, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip body: %w", err)
	}
	a := &archive{reader: r, files: map[string]*zip.File{}, lower: map[string]*zip.File{}}
	for _, f := range r.File {
		a.files[f.Name] = f
		a.lower[strings.ToLower(f.Name)] = f
	}
	return a, nil
}

// names lists the archive members in archive order.
func (a *archive) names() []string {
	out := make([]string, 0, len(a.reader.File))
	for _, f := range a.reader.File {
		out = append(out, f.Name)
	}
	return out
}

// read returns the member named name. Leading "./" characters and query
// strings are dropped, and a case-insensitive lookup is the fallback.
func (a *archive) read(name string) ([]byte, error) {
	name = strings.TrimLeft(name, "./")
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	f, ok := a.files[name]
	if !ok {
		f, ok = a.lower[strings.ToLower(name)]
	}
	if !ok {
		return nil, fmt.Errorf("archive member %q not found", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archive member %q: %w", name, err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// fnmatch matches name against a shell pattern where '*' also crosses
// directory separators, the way web accessible resource patterns behave.
func fnmatch(name, pattern string) bool {
	var sb strings.Builder
	sb.WriteString("^")
	for i := 0; i < len(pattern); i++ {
		switch c := pattern[i]; c {
		case '*':
			sb.WriteString(".*")
		case '?':
			sb.WriteString(".")
		case '[':
			j := strings.IndexByte(pattern[i+1:], ']')
			if j < 0 {
				sb.WriteString(`\[`)
				continue
			}
			class := pattern[i+1 : i+1+j]
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			}
			sb.WriteString("[" + strings.ReplaceAll(class, `\`, `\\`) + "]")
			i += j + 1
		default:
			sb.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	sb.WriteString("$")
	re, err := regexp.Compile(sb.String())
	if err != nil {
		return false
	}
	return re.MatchString(name)
}
