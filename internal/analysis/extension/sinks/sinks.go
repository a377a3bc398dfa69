// File: internal/analysis/extension/sinks/sinks.go
// Package sinks builds the catalog of security sensitive APIs an extension
// component can reach, either from its manifest permissions, irrespective of
// them, or from a user supplied file.
package sinks

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/manifest"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Kind is the way a sink is exploited.
type Kind string

const (
	// Direct sinks are exploitable by reaching them with attacker data.
	Direct Kind = "direct_dangers"
	// Indirect sinks need their result sent back to the attacker.
	Indirect Kind = "indirect_dangers"
	// Exfiltration sinks leak privileged data when their result is sent back.
	Exfiltration Kind = "exfiltration_dangers"
)

// Kinds lists the kinds in reporting order.
var Kinds = []Kind{Direct, Indirect, Exfiltration}

// Modes accepted by Resolve besides a file path.
const (
	ModePermissions = "permissions"
	ModeAll         = "all"
)

// Sink API names shared by both components.
var (
	executionAPIs = []string{"eval", "setInterval", "setTimeout"}
	xhrAPIs       = []string{"XMLHttpRequest().open", "XMLHttpRequest.open"}
	requestAPIs   = []string{"fetch", "$.ajax", "jQuery.ajax", "$.get", "jQuery.get", "$.post", "jQuery.post", "$http.get", "$http.post"}
)

// Category is a named group of API patterns ("execution", "bypass_sop", ...).
type Category struct {
	Name string
	APIs []string
}

// Categories lists the categories of one kind in declaration order. Sinks
// are matched and reported in that order. It encodes as a JSON or YAML
// object whose keys keep that order.
type Categories []Category

// Names returns the category names in declaration order.
func (c Categories) Names() []string {
	out := make([]string, 0, len(c))
	for _, cat := range c {
		out = append(out, cat.Name)
	}
	return out
}

// Get returns the APIs of the named category, or nil.
func (c Categories) Get(name string) []string {
	for _, cat := range c {
		if cat.Name == name {
			return cat.APIs
		}
	}
	return nil
}

// Contains reports whether any category lists api.
func (c Categories) Contains(api string) bool {
	for _, cat := range c {
		for _, a := range cat.APIs {
			if a == api {
				return true
			}
		}
	}
	return false
}

// add appends apis to category, creating it after the existing ones.
func (c *Categories) add(category string, apis ...string) {
	for i := range *c {
		if (*c)[i].Name == category {
			(*c)[i].APIs = append((*c)[i].APIs, apis...)
			return
		}
	}
	*c = append(*c, Category{Name: category, APIs: append([]string(nil), apis...)})
}

// MarshalJSON writes the categories as an object in declaration order.
func (c Categories) MarshalJSON() ([]byte, error) {
	stream := json.BorrowStream(nil)
	defer json.ReturnStream(stream)
	stream.WriteObjectStart()
	for i, cat := range c {
		if i > 0 {
			stream.WriteMore()
		}
		stream.WriteObjectField(cat.Name)
		apis := cat.APIs
		if apis == nil {
			apis = []string{}
		}
		stream.WriteVal(apis)
	}
	stream.WriteObjectEnd()
	if stream.Error != nil {
		return nil, stream.Error
	}
	return append([]byte(nil), stream.Buffer()...), nil
}

// UnmarshalJSON reads an object of categories keeping the key order.
func (c *Categories) UnmarshalJSON(data []byte) error {
	iter := json.BorrowIterator(data)
	defer json.ReturnIterator(iter)
	out := Categories{}
	iter.ReadObjectCB(func(it *jsoniter.Iterator, name string) bool {
		var apis []string
		it.ReadVal(&apis)
		out.add(name, apis...)
		return it.Error == nil
	})
	if iter.Error != nil && !errors.Is(iter.Error, io.EOF) {
		return fmt.Errorf("invalid sink categories: %w", iter.Error)
	}
	*c = out
	return nil
}

// MarshalYAML writes the categories as a mapping in declaration order.
func (c Categories) MarshalYAML() (interface{}, error) {
	node := &yaml.Node{Kind: yaml.MappingNode}
	for _, cat := range c {
		value := &yaml.Node{}
		if err := value.Encode(cat.APIs); err != nil {
			return nil, err
		}
		node.Content = append(node.Content, &yaml.Node{Kind: yaml.ScalarNode, Value: cat.Name}, value)
	}
	return node, nil
}

// UnmarshalYAML reads a mapping of categories keeping the key order.
func (c *Categories) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: sink categories must be a mapping", node.Line)
	}
	out := Categories{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		var apis []string
		if err := node.Content[i+1].Decode(&apis); err != nil {
			return err
		}
		out.add(node.Content[i].Value, apis...)
	}
	*c = out
	return nil
}

// Component holds the sinks of one extension component by kind.
type Component struct {
	Direct       Categories `json:"direct_dangers" yaml:"direct_dangers"`
	Indirect     Categories `json:"indirect_dangers" yaml:"indirect_dangers"`
	Exfiltration Categories `json:"exfiltration_dangers" yaml:"exfiltration_dangers"`
}

// Kind returns the categories of kind k.
func (c Component) Kind(k Kind) Categories {
	switch k {
	case Direct:
		return c.Direct
	case Indirect:
		return c.Indirect
	case Exfiltration:
		return c.Exfiltration
	}
	return nil
}

// IsEmpty reports whether the component lists no API at all.
func (c Component) IsEmpty() bool {
	for _, k := range Kinds {
		for _, cat := range c.Kind(k) {
			if len(cat.APIs) > 0 {
				return false
			}
		}
	}
	return true
}

func newComponent() Component {
	return Component{Direct: Categories{}, Indirect: Categories{}, Exfiltration: Categories{}}
}

// Catalog is the sink catalog of one extension: component -> kind ->
// category -> API patterns.
type Catalog struct {
	Description string    `json:"_description,omitempty" yaml:"_description,omitempty"`
	CS          Component `json:"cs" yaml:"cs"`
	BP          Component `json:"bp" yaml:"bp"`
}

// Empty returns a catalog without sinks, the catalog used when no manifest
// is available.
func Empty() *Catalog {
	return &Catalog{CS: newComponent(), BP: newComponent()}
}

// FromPermissions selects the sinks an extension with the given manifest
// version and capabilities can reach.
//
// Content scripts of version 3 extensions are bound by the CSP of their page,
// so they keep the execution sinks only. Version 3 background service workers
// can neither evaluate code nor use XMLHttpRequest, and tabs.executeScript no
// longer accepts code.
func FromPermissions(version int, perms manifest.Permissions) *Catalog {
	c := Empty()
	// Anything but version 3 is treated as version 2.
	v2 := version != 3
	host := perms.Has(manifest.PermissionHost)

	c.CS.Direct.add("execution", executionAPIs...)
	if host && v2 {
		c.CS.Direct.add("bypass_sop", xhrAPIs...)
		c.CS.Indirect.add("bypass_sop", requestAPIs...)
	}

	if v2 && perms.Has(manifest.PermissionEval) {
		c.BP.Direct.add("execution", executionAPIs...)
	}
	if v2 && (host || perms.Has(manifest.PermissionActiveTab)) {
		c.BP.Direct.add("execution", "tabs.executeScript")
	}
	if perms.Has(manifest.PermissionDownloads) {
		c.BP.Direct.add("download", "downloads.download")
	}
	if host {
		if v2 {
			c.BP.Direct.add("bypass_sop", xhrAPIs...)
		}
		c.BP.Indirect.add("bypass_sop", requestAPIs...)
	}
	if perms.Has(manifest.PermissionCookies) {
		c.BP.Exfiltration.add("cookies", "cookies.getAll")
	}
	for _, p := range []struct {
		perm manifest.Permission
		api  string
	}{
		{manifest.PermissionBookmarks, "bookmarks.getTree"},
		{manifest.PermissionHistory, "history.search"},
		{manifest.PermissionTopSites, "topSites.get"},
	} {
		if perms.Has(p.perm) {
			c.BP.Exfiltration.add("privacy", p.api)
		}
	}
	return c
}

// FromManifest builds the catalog for the extension described by m.
func FromManifest(m *manifest.Manifest, source string) *Catalog {
	c := FromPermissions(m.ManifestVersion, m.Granted())
	c.Description = "Suspicious APIs considered for " + source
	return c
}

// All is the catalog of every sink irrespective of permissions: a version 2
// extension holding every relevant capability.
func All() *Catalog {
	perms := manifest.Permissions{}
	for _, p := range []manifest.Permission{
		manifest.PermissionHost, manifest.PermissionActiveTab, manifest.PermissionBookmarks,
		manifest.PermissionCookies, manifest.PermissionDownloads, manifest.PermissionHistory,
		manifest.PermissionTopSites, manifest.PermissionEval,
	} {
		perms[p] = struct{}{}
	}
	c := FromPermissions(2, perms)
	c.Description = "Every suspicious API, irrespective of permissions"
	return c
}

// Load reads a catalog file. Files ending in .yaml or .yml are decoded as
// YAML, everything else as JSON.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sink catalog: %w", err)
	}
	c := Empty()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, c)
	default:
		err = json.Unmarshal(data, c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to decode sink catalog %s: %w", path, err)
	}
	c.normalize()
	return c, nil
}

// Resolve builds the catalog for mode: "permissions" (from the manifest at
// manifestPath), "all", or the path of a catalog file. A missing manifest
// yields the empty catalog together with an error wrapping
// manifest.ErrNotFound, so callers can log it and carry on.
func Resolve(mode, manifestPath string) (*Catalog, error) {
	switch mode {
	case "", ModePermissions:
		m, err := manifest.Load(manifestPath)
		if err != nil {
			return Empty(), err
		}
		return FromManifest(m, manifestPath), nil
	case ModeAll:
		return All(), nil
	}
	c, err := Load(mode)
	if err != nil {
		return Empty(), err
	}
	return c, nil
}

// JSON encodes the catalog the way it is written next to the extension.
func (c *Catalog) JSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// normalize replaces missing kinds by empty ones.
func (c *Catalog) normalize() {
	for _, comp := range []*Component{&c.CS, &c.BP} {
		if comp.Direct == nil {
			comp.Direct = Categories{}
		}
		if comp.Indirect == nil {
			comp.Indirect = Categories{}
		}
		if comp.Exfiltration == nil {
			comp.Exfiltration = Categories{}
		}
	}
}

// ErrUnknownComponent is returned by Component lookups for names other than
// "cs" and "bp".
var ErrUnknownComponent = errors.New("unknown extension component")

// For returns the sinks of the named component ("cs" or "bp").
func (c *Catalog) For(component string) (Component, error) {
	switch component {
	case "cs":
		return c.CS, nil
	case "bp":
		return c.BP, nil
	}
	return Component{}, fmt.Errorf("%w: %q", ErrUnknownComponent, component)
}
