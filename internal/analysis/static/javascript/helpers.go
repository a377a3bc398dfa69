// Filename: javascript/helpers.go
package javascript

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/xkilldash9x/doublex/internal/pdg"
)

// LocationInfo holds the detailed location and snippet of a graph node.
type LocationInfo struct {
	File    string
	Line    int
	Column  int
	Snippet string
}

func (l LocationInfo) String() string {
	return fmt.Sprintf("%s:%d:%d", l.File, l.Line, l.Column)
}

// NodeContent extracts the string content of a node from the source byte slice.
func NodeContent(node *sitter.Node, source []byte) string {
	if node == nil {
		return ""
	}
	return node.Content(source)
}

// locationOf converts tree-sitter points to a 1-based line location.
func locationOf(node *sitter.Node) pdg.Location {
	start, end := node.StartPoint(), node.EndPoint()
	return pdg.Location{
		Start: pdg.Position{Line: int(start.Row) + 1, Column: int(start.Column)},
		End:   pdg.Position{Line: int(end.Row) + 1, Column: int(end.Column)},
	}
}

// FormatLocation resolves a graph node back to its source line.
func FormatLocation(node *pdg.Node, source []byte) LocationInfo {
	if node == nil {
		return LocationInfo{Snippet: "N/A"}
	}
	loc := node.Attrs.Loc
	info := LocationInfo{
		File:    node.File(),
		Line:    loc.Start.Line,
		Column:  loc.Start.Column,
		Snippet: "N/A",
	}
	idx := lineOffset(source, loc.Start.Line)
	if idx < 0 {
		return info
	}
	lineStart := findLineStart(source, idx)
	lineEnd := findLineEnd(source, idx)
	if lineEnd > lineStart {
		info.Snippet = strings.TrimSpace(string(source[lineStart:lineEnd]))
	}
	return info
}

// lineOffset returns the byte offset at which 1-based line starts, or -1.
func lineOffset(source []byte, line int) int {
	if line < 1 {
		return -1
	}
	cur := 1
	for i := 0; i < len(source); i++ {
		if cur == line {
			return i
		}
		if source[i] == '\n' {
			cur++
		}
	}
	if cur == line && len(source) > 0 {
		return len(source) - 1
	}
	return -1
}

func findLineStart(source []byte, idx int) int {
	// Defense in depth: Bound check
	if idx >= len(source) {
		if len(source) == 0 {
			return 0
		}
		idx = len(source) - 1
	}
	if idx < 0 {
		return 0
	}

	for i := idx; i >= 0; i-- {
		if source[i] == '\n' {
			return i + 1
		}
	}
	return 0
}

func findLineEnd(source []byte, idx int) int {
	for i := idx; i < len(source); i++ {
		if source[i] == '\n' {
			return i
		}
	}
	return len(source)
}

// decodeStringLiteral strips the quotes of a JavaScript string literal and
// resolves its escape sequences. Escapes Go does not know (\' inside double
// quotes, \/, \u{...}) degrade to the escaped character.
func decodeStringLiteral(raw string) string {
	if len(raw) < 2 {
		return raw
	}
	body := raw[1 : len(raw)-1]
	var sb strings.Builder
	sb.Grow(len(body))
	for len(body) > 0 {
		if body[0] != '\\' {
			r, _, tail, err := strconv.UnquoteChar(body, 0)
			if err != nil {
				sb.WriteByte(body[0])
				body = body[1:]
				continue
			}
			sb.WriteRune(r)
			body = tail
			continue
		}
		if strings.HasPrefix(body, "\\\n") {
			body = body[2:]
			continue
		}
		r, _, tail, err := strconv.UnquoteChar(body, 0)
		if err != nil {
			if len(body) > 1 {
				sb.WriteByte(body[1])
				body = body[2:]
			} else {
				body = body[1:]
			}
			continue
		}
		sb.WriteRune(r)
		body = tail
	}
	return sb.String()
}

// parseNumberLiteral reads decimal, hex, octal, binary and BigInt literals.
func parseNumberLiteral(raw string) (float64, bool) {
	s := strings.TrimSuffix(raw, "n")
	if len(s) > 1 && s[0] == '0' && unicode.IsLetter(rune(s[1])) {
		i, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, false
		}
		return float64(i), true
	}
	s = strings.ReplaceAll(s, "_", "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// camelize maps a tree-sitter node type ("for_in_statement") to an
// ESTree-style kind ("ForInStatement").
func camelize(nodeType string) pdg.Kind {
	parts := strings.Split(nodeType, "_")
	var sb strings.Builder
	for _, p := range parts {
		if p == "" {
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return pdg.Kind(sb.String())
}
