package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func write(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	return p
}

func TestReadMissingFileIsEmpty(t *testing.T) {
	cfg, err := Read(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)
	require.Equal(t, &Config{}, cfg)
}

func TestLoadLayersOverride(t *testing.T) {
	dir := t.TempDir()
	global := write(t, dir, "global.toml", `
[user]
name = "Global User"
email = "global@example.com"

[merge]
ff = "only"

[remote.origin]
url = "/srv/global/origin"
`)
	local := write(t, dir, "local.toml", `
[user]
email = "repo@example.com"

[core]
object_cache_size = 16

[remote.origin]
url = "/srv/repo/origin"
prune = true

[branch.main]
remote = "origin"
merge = "main"
`)

	cfg, err := Load(global, local, filepath.Join(dir, "absent.toml"))
	require.NoError(t, err)
	require.Equal(t, "Global User", cfg.User.Name)
	require.Equal(t, "repo@example.com", cfg.User.Email)
	require.Equal(t, "only", cfg.Merge.FF)
	require.Equal(t, "diff3", cfg.Merge.ConflictStyle)
	require.Equal(t, 16, cfg.Core.ObjectCacheSize)
	require.Equal(t, "sha1", cfg.Core.Hash)

	url, ok := cfg.RemoteURL("origin")
	require.True(t, ok)
	require.Equal(t, "/srv/repo/origin", url)
	require.True(t, cfg.Remote["origin"].Prune)
	require.Equal(t, Branch{Remote: "origin", Merge: "main"}, cfg.Branch["main"])
}

func TestReadRejectsUnknownKeys(t *testing.T) {
	p := write(t, t.TempDir(), "bad.toml", "[core]\nhsah = \"sha1\"\n")
	_, err := Read(p)
	require.ErrorContains(t, err, "unknown keys core.hsah")

	p = write(t, t.TempDir(), "broken.toml", "[core\n")
	_, err = Read(p)
	require.Error(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, FileName)
	cfg := Default()
	require.NoError(t, cfg.SetRemote("origin", " /srv/origin "))
	cfg.SetUpstream("main", "origin", "main")
	require.NoError(t, Save(p, cfg))

	back, err := Read(p)
	require.NoError(t, err)
	require.Equal(t, cfg, back)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	require.Error(t, cfg.SetRemote("", "x"))
	require.Error(t, cfg.SetRemote("x", " "))
	_, ok := cfg.RemoteURL("upstream")
	require.False(t, ok)
}
