// File: internal/analysis/extension/manifest/permissions.go
package manifest

import (
	"sort"
	"strings"
)

// Permission is a capability relevant to sink selection. PermissionHost
// stands for any permission granting access to every origin and
// PermissionEval for an 'unsafe-eval' CSP (version 2 only).
type Permission string

const (
	PermissionHost      Permission = "host"
	PermissionActiveTab Permission = "activeTab"
	PermissionBookmarks Permission = "bookmarks"
	PermissionCookies   Permission = "cookies"
	PermissionDownloads Permission = "downloads"
	PermissionHistory   Permission = "history"
	PermissionTopSites  Permission = "topSites"
	PermissionEval      Permission = "eval"
)

// allHostPatterns are the host permissions that cover every origin.
var allHostPatterns = []string{"http://*/*", "https://*/*", "*://*/*", "<all_urls>", "https://*/", "http://*/"}

// Permissions is the set of relevant capabilities an extension holds.
type Permissions map[Permission]struct{}

// Has reports whether p is in the set.
func (s Permissions) Has(p Permission) bool {
	_, ok := s[p]
	return ok
}

// Sorted lists the set in lexical order.
func (s Permissions) Sorted() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, string(p))
	}
	sort.Strings(out)
	return out
}

// Granted extracts the relevant capabilities. Optional permissions count
// as granted. Version 3 moves host access to host_permissions, drops
// activeTab from consideration and no longer allows eval in extension pages.
func (m *Manifest) Granted() Permissions {
	set := Permissions{}
	all := append(append(StringList{}, m.Permissions...), m.OptionalPermissions...)

	hosts := all
	checks := []Permission{PermissionActiveTab, PermissionBookmarks, PermissionCookies, PermissionDownloads, PermissionHistory, PermissionTopSites}
	if m.ManifestVersion == 3 {
		hosts = m.HostPermissions
		checks = checks[1:]
	}

	for _, h := range hosts {
		if isAllHosts(h) {
			set[PermissionHost] = struct{}{}
			break
		}
	}
	for _, p := range checks {
		if all.Contains(string(p)) {
			set[p] = struct{}{}
		}
	}
	if m.ManifestVersion != 3 && strings.Contains(m.CSP(), "unsafe-eval") {
		set[PermissionEval] = struct{}{}
	}
	return set
}

func isAllHosts(p string) bool {
	for _, h := range allHostPatterns {
		if p == h {
			return true
		}
	}
	return false
}
