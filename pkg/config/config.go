// Package config reads and writes repository configuration. Files are
// TOML; values are layered defaults, then the global file, then the
// repository file.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/BurntSushi/toml"
)

// FileName is the repository configuration file inside the metadata
// directory.
const FileName = "config.toml"

// Config is the merged configuration of a repository.
type Config struct {
	Core   Core              `toml:"core"`
	User   User              `toml:"user"`
	Merge  Merge             `toml:"merge"`
	Log    Log               `toml:"log"`
	Remote map[string]Remote `toml:"remote,omitempty"`
	Branch map[string]Branch `toml:"branch,omitempty"`
}

type Core struct {
	// Hash is the object ID algorithm, "sha1" or "sha256". It is fixed
	// when the repository is created.
	Hash            string `toml:"hash,omitempty"`
	Bare            bool   `toml:"bare,omitempty"`
	ObjectCacheSize int    `toml:"object_cache_size,omitempty"`
	// Concurrency bounds parallel file hashing in the working tree.
	Concurrency int `toml:"concurrency,omitempty"`
}

type User struct {
	Name  string `toml:"name,omitempty"`
	Email string `toml:"email,omitempty"`
	// SigningKey is a path to an SSH private key used to sign commits.
	SigningKey string `toml:"signing_key,omitempty"`
}

type Merge struct {
	// FF is the fast-forward preference: "true", "false" or "only".
	FF string `toml:"ff,omitempty"`
	// ConflictStyle is "diff3" or "merge".
	ConflictStyle string `toml:"conflict_style,omitempty"`
}

type Log struct {
	Level      string `toml:"level,omitempty"`
	File       string `toml:"file,omitempty"`
	MaxSizeMB  int    `toml:"max_size_mb,omitempty"`
	MaxBackups int    `toml:"max_backups,omitempty"`
	MaxAgeDays int    `toml:"max_age_days,omitempty"`
}

type Remote struct {
	URL   string `toml:"url"`
	Prune bool   `toml:"prune,omitempty"`
}

// Branch records a branch's upstream: Merge is the branch name on Remote.
type Branch struct {
	Remote string `toml:"remote,omitempty"`
	Merge  string `toml:"merge,omitempty"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Core: Core{
			Hash:            "sha1",
			ObjectCacheSize: 4096,
			Concurrency:     8,
		},
		Merge: Merge{FF: "true", ConflictStyle: "diff3"},
		Log:   Log{Level: "info", MaxSizeMB: 10, MaxBackups: 3, MaxAgeDays: 30},
	}
}

// Read decodes the file at path. A missing file yields an empty Config.
func Read(path string) (*Config, error) {
	cfg := &Config{}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}
	md, err := toml.Decode(string(data), cfg)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("read config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	return cfg, nil
}

// Load layers Default, then each existing file in paths in order. Later
// files override earlier values; boolean fields can only be switched on
// by a later layer.
func Load(paths ...string) (*Config, error) {
	cfg := Default()
	for _, p := range paths {
		if p == "" {
			continue
		}
		layer, err := Read(p)
		if err != nil {
			return nil, err
		}
		if err := mergo.Merge(cfg, layer, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", p, err)
		}
	}
	return cfg, nil
}

// GlobalPath returns the per-user configuration file:
// $XDG_CONFIG_HOME/vcscore/config.toml or its platform equivalent. It is
// empty when no configuration directory can be determined.
func GlobalPath() string {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		var err error
		if dir, err = os.UserConfigDir(); err != nil {
			return ""
		}
	}
	return filepath.Join(dir, "vcscore", FileName)
}

// Save writes cfg to path atomically.
func Save(path string, cfg *Config) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(cfg); err != nil {
		return fmt.Errorf("write config: encode: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".config-tmp-*")
	if err != nil {
		return fmt.Errorf("write config: tmpfile: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write config: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: close: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("write config: rename: %w", err)
	}
	return nil
}

// SetRemote stores or replaces a named remote.
func (c *Config) SetRemote(name, url string) error {
	name, url = strings.TrimSpace(name), strings.TrimSpace(url)
	if name == "" {
		return fmt.Errorf("set remote: remote name is required")
	}
	if url == "" {
		return fmt.Errorf("set remote: remote URL is required")
	}
	if c.Remote == nil {
		c.Remote = make(map[string]Remote)
	}
	r := c.Remote[name]
	r.URL = url
	c.Remote[name] = r
	return nil
}

// RemoteURL returns the URL of the named remote and whether it is set.
func (c *Config) RemoteURL(name string) (string, bool) {
	r, ok := c.Remote[name]
	if !ok || strings.TrimSpace(r.URL) == "" {
		return "", false
	}
	return r.URL, true
}

// SetUpstream records that branch tracks remoteBranch on remote.
func (c *Config) SetUpstream(branch, remote, remoteBranch string) {
	if c.Branch == nil {
		c.Branch = make(map[string]Branch)
	}
	c.Branch[branch] = Branch{Remote: remote, Merge: remoteBranch}
}
