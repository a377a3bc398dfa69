// File: internal/analysis/extension/manifest/manifest.go
// Package manifest models the parts of an extension's manifest.json the
// analyzer reads: its version, permissions, CSP and the scripts making up
// each component.
package manifest

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var (
	// ErrNotFound is returned by Load when no manifest exists at the path.
	ErrNotFound = errors.New("manifest not found")
	// ErrUnsupportedVersion is returned for manifest versions other than 2 and 3.
	ErrUnsupportedVersion = errors.New("unsupported manifest version")
)

// Manifest is a decoded manifest.json. Fields the analyzer does not use are
// kept only in Raw.
type Manifest struct {
	ManifestVersion        int                 `json:"manifest_version"`
	Name                   string              `json:"name"`
	Version                string              `json:"version"`
	Permissions            StringList          `json:"permissions"`
	OptionalPermissions    StringList          `json:"optional_permissions"`
	HostPermissions        StringList          `json:"host_permissions"`
	ContentSecurityPolicy  jsoniter.RawMessage `json:"content_security_policy"`
	ContentScripts         ContentScripts      `json:"content_scripts"`
	Background             Background          `json:"background"`
	WebAccessibleResources jsoniter.RawMessage `json:"web_accessible_resources"`
	Theme                  jsoniter.RawMessage `json:"theme"`

	Raw []byte `json:"-"`
}

// ContentScript is one content_scripts entry.
type ContentScript struct {
	Matches StringList `json:"matches"`
	JS      StringList `json:"js"`
}

// Background is the background entry: scripts or page for version 2, a
// service worker for version 3.
type Background struct {
	Scripts       StringList `json:"scripts"`
	Page          string     `json:"page"`
	ServiceWorker string     `json:"service_worker"`
}

// StringList decodes a JSON array keeping only its string elements.
// Manifests in the wild mix objects into permission lists.
type StringList []string

// UnmarshalJSON implements json.Unmarshaler.
func (l *StringList) UnmarshalJSON(b []byte) error {
	var items []any
	if err := json.Unmarshal(b, &items); err != nil {
		// Not an array: treat as absent.
		*l = nil
		return nil
	}
	out := make(StringList, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	*l = out
	return nil
}

// Contains reports whether s is in the list.
func (l StringList) Contains(s string) bool {
	for _, v := range l {
		if v == s {
			return true
		}
	}
	return false
}

// ContentScripts decodes the content_scripts array, skipping entries that are
// not objects.
type ContentScripts []ContentScript

// UnmarshalJSON implements json.Unmarshaler.
func (c *ContentScripts) UnmarshalJSON(b []byte) error {
	var raw []jsoniter.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		*c = nil
		return nil
	}
	out := make(ContentScripts, 0, len(raw))
	for _, r := range raw {
		var cs ContentScript
		if err := json.Unmarshal(r, &cs); err != nil {
			continue
		}
		out = append(out, cs)
	}
	*c = out
	return nil
}

// UnmarshalJSON implements json.Unmarshaler. A background entry that is not
// an object decodes to the zero value.
func (bg *Background) UnmarshalJSON(b []byte) error {
	type plain Background
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		*bg = Background{}
		return nil
	}
	*bg = Background(p)
	return nil
}

// Parse decodes a manifest.
func Parse(data []byte) (*Manifest, error) {
	// Some manifests start with a byte order mark.
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode manifest: %w", err)
	}
	m.Raw = data
	return &m, nil
}

// Load reads and decodes the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}
	return Parse(data)
}

// Validate rejects manifest versions the analyzer does not model.
func (m *Manifest) Validate() error {
	if m.ManifestVersion != 2 && m.ManifestVersion != 3 {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, m.ManifestVersion)
	}
	return nil
}

// IsTheme reports whether the extension is a theme, which carries no code.
func (m *Manifest) IsTheme() bool { return len(m.Theme) > 0 && string(m.Theme) != "null" }

// CSP returns the content security policy text. Version 3 manifests hold an
// object of per-context policies; their values are joined.
func (m *Manifest) CSP() string {
	if len(m.ContentSecurityPolicy) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(m.ContentSecurityPolicy, &s); err == nil {
		return s
	}
	var policies map[string]string
	if err := json.Unmarshal(m.ContentSecurityPolicy, &policies); err == nil {
		parts := make([]string, 0, len(policies))
		for _, p := range policies {
			parts = append(parts, p)
		}
		return strings.Join(parts, "; ")
	}
	return ""
}

// ContentScriptFiles lists the content script files in declaration order,
// without duplicates.
func (m *Manifest) ContentScriptFiles() []string {
	var out []string
	seen := map[string]struct{}{}
	for _, cs := range m.ContentScripts {
		for _, js := range cs.JS {
			if _, dup := seen[js]; dup {
				continue
			}
			seen[js] = struct{}{}
			out = append(out, js)
		}
	}
	return out
}

// WARPatterns lists the web accessible resource patterns: plain strings for
// version 2, the resources of every entry for version 3.
func (m *Manifest) WARPatterns() []string {
	if len(m.WebAccessibleResources) == 0 {
		return nil
	}
	if m.ManifestVersion != 3 {
		var l StringList
		_ = l.UnmarshalJSON(m.WebAccessibleResources)
		return l
	}
	var entries []jsoniter.RawMessage
	if err := json.Unmarshal(m.WebAccessibleResources, &entries); err != nil {
		return nil
	}
	var out []string
	seen := map[string]struct{}{}
	for _, e := range entries {
		var entry struct {
			Resources StringList `json:"resources"`
		}
		if err := json.Unmarshal(e, &entry); err != nil {
			continue
		}
		for _, r := range entry.Resources {
			if _, dup := seen[r]; !dup {
				seen[r] = struct{}{}
				out = append(out, r)
			}
		}
	}
	return out
}
