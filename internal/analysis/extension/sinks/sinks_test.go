package sinks

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/doublex/internal/analysis/extension/manifest"
)

func perms(ps ...manifest.Permission) manifest.Permissions {
	out := manifest.Permissions{}
	for _, p := range ps {
		out[p] = struct{}{}
	}
	return out
}

func TestFromPermissions_V2(t *testing.T) {
	c := FromPermissions(2, perms(manifest.PermissionHost, manifest.PermissionEval, manifest.PermissionCookies, manifest.PermissionHistory))

	assert.Equal(t, executionAPIs, c.CS.Direct.Get("execution"))
	assert.Equal(t, xhrAPIs, c.CS.Direct.Get("bypass_sop"))
	assert.Equal(t, requestAPIs, c.CS.Indirect.Get("bypass_sop"))
	assert.Empty(t, c.CS.Exfiltration)

	assert.Equal(t, []string{"eval", "setInterval", "setTimeout", "tabs.executeScript"}, c.BP.Direct.Get("execution"))
	assert.Equal(t, xhrAPIs, c.BP.Direct.Get("bypass_sop"))
	assert.Equal(t, []string{"cookies.getAll"}, c.BP.Exfiltration.Get("cookies"))
	assert.Equal(t, []string{"history.search"}, c.BP.Exfiltration.Get("privacy"))
	assert.NotContains(t, c.BP.Direct.Names(), "download")
}

func TestFromPermissions_V3(t *testing.T) {
	c := FromPermissions(3, perms(manifest.PermissionHost, manifest.PermissionDownloads))

	assert.Equal(t, Categories{{Name: "execution", APIs: executionAPIs}}, c.CS.Direct)
	assert.Empty(t, c.CS.Indirect)

	assert.NotContains(t, c.BP.Direct.Names(), "execution")
	assert.NotContains(t, c.BP.Direct.Names(), "bypass_sop")
	assert.Equal(t, []string{"downloads.download"}, c.BP.Direct.Get("download"))
	assert.Equal(t, requestAPIs, c.BP.Indirect.Get("bypass_sop"))
	assert.Empty(t, c.BP.Exfiltration)
}

func TestFromPermissions_UnknownVersionIsV2(t *testing.T) {
	for _, version := range []int{0, 1, 4} {
		c := FromPermissions(version, perms(manifest.PermissionHost, manifest.PermissionEval))
		assert.Equal(t, FromPermissions(2, perms(manifest.PermissionHost, manifest.PermissionEval)).BP, c.BP, "version %d", version)
		assert.True(t, c.BP.Direct.Contains("XMLHttpRequest.open"), "version %d", version)
	}
}

func TestFromPermissions_DeclarationOrder(t *testing.T) {
	c := All()
	assert.Equal(t, []string{"execution", "download", "bypass_sop"}, c.BP.Direct.Names())
	assert.Equal(t, []string{"cookies", "privacy"}, c.BP.Exfiltration.Names())
}

func TestFromPermissions_ActiveTabOnly(t *testing.T) {
	c := FromPermissions(2, perms(manifest.PermissionActiveTab))
	assert.Equal(t, []string{"tabs.executeScript"}, c.BP.Direct.Get("execution"))
	assert.False(t, c.BP.Direct.Contains("XMLHttpRequest.open"))
}

func TestFromPermissions_NoPermissions(t *testing.T) {
	c := FromPermissions(2, perms())
	assert.False(t, c.CS.IsEmpty(), "content scripts always keep execution sinks")
	assert.True(t, c.BP.IsEmpty())
}

func TestAll(t *testing.T) {
	c := All()
	for _, api := range []string{"eval", "tabs.executeScript", "downloads.download", "XMLHttpRequest().open"} {
		assert.True(t, c.BP.Direct.Contains(api), api)
	}
	assert.True(t, c.BP.Indirect.Contains("$http.post"))
	assert.Equal(t, []string{"bookmarks.getTree", "history.search", "topSites.get"}, c.BP.Exfiltration.Get("privacy"))
	assert.True(t, c.CS.Direct.Contains("XMLHttpRequest.open"))
}

func TestFromManifest(t *testing.T) {
	m, err := manifest.Parse([]byte(`{"manifest_version": 2, "permissions": ["<all_urls>", "cookies"]}`))
	require.NoError(t, err)

	c := FromManifest(m, "ext/manifest.json")
	assert.Contains(t, c.Description, "ext/manifest.json")
	assert.True(t, c.BP.Indirect.Contains("fetch"))
	assert.True(t, c.BP.Exfiltration.Contains("cookies.getAll"))
}

func TestLoad_JSONAndYAML(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "apis.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{
  "_description": "custom",
  "cs": {"direct_dangers": {"execution": ["eval"]}},
  "bp": {"direct_dangers": {"execution": ["eval", "Function"]}, "exfiltration_dangers": {"privacy": ["history.search"]}}
}`), 0o600))
	yamlPath := filepath.Join(dir, "apis.yaml")
	require.NoError(t, os.WriteFile(yamlPath, []byte(`_description: custom
cs:
  direct_dangers:
    execution: [eval]
bp:
  direct_dangers:
    execution: [eval, Function]
  exfiltration_dangers:
    privacy: [history.search]
`), 0o600))

	fromJSON, err := Load(jsonPath)
	require.NoError(t, err)
	fromYAML, err := Load(yamlPath)
	require.NoError(t, err)

	if diff := cmp.Diff(fromJSON, fromYAML); diff != "" {
		t.Errorf("JSON and YAML catalogs differ (-json +yaml):\n%s", diff)
	}
	assert.NotNil(t, fromJSON.CS.Indirect, "missing kinds are normalized to empty")
	assert.Equal(t, []string{"eval", "Function"}, fromJSON.BP.Direct.Get("execution"))
}

func TestLoad_KeepsCategoryOrder(t *testing.T) {
	dir := t.TempDir()
	jsonPath := filepath.Join(dir, "apis.json")
	require.NoError(t, os.WriteFile(jsonPath, []byte(`{"bp": {"direct_dangers": {"zeta": ["eval"], "alpha": ["Function"], "mid": ["setTimeout"]}}}`), 0o600))
	yamlPath := filepath.Join(dir, "apis.yml")
	require.NoError(t, os.WriteFile(yamlPath, []byte("bp:\n  direct_dangers:\n    zeta: [eval]\n    alpha: [Function]\n    mid: [setTimeout]\n"), 0o600))

	for _, path := range []string{jsonPath, yamlPath} {
		c, err := Load(path)
		require.NoError(t, err)
		assert.Equal(t, []string{"zeta", "alpha", "mid"}, c.BP.Direct.Names(), path)
	}

	data, err := All().JSON()
	require.NoError(t, err)
	s := string(data)
	assert.Less(t, strings.Index(s, `"execution"`), strings.Index(s, `"download"`))
	assert.Less(t, strings.Index(s, `"download"`), strings.Index(s, `"bypass_sop"`))
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"cs": [}`), 0o600))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	c, err := Resolve(ModeAll, "")
	require.NoError(t, err)
	assert.Equal(t, All(), c)

	c, err = Resolve(ModePermissions, filepath.Join(t.TempDir(), "manifest.json"))
	assert.ErrorIs(t, err, manifest.ErrNotFound)
	assert.Equal(t, Empty(), c, "a missing manifest yields the empty catalog")
}

func TestCatalog_JSONRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "apis.json")
	data, err := All().JSON()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	if diff := cmp.Diff(All(), loaded); diff != "" {
		t.Errorf("catalog changed through JSON (-want +got):\n%s", diff)
	}
}

func TestCatalog_For(t *testing.T) {
	c := All()
	bp, err := c.For("bp")
	require.NoError(t, err)
	assert.False(t, bp.IsEmpty())

	_, err = c.For("wa")
	assert.ErrorIs(t, err, ErrUnknownComponent)
}
