// Package config provides configuration for the knowledge base search engine.
// Loads from: CLI flags > env vars > .same/config.toml > built-in defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Embedding defaults: dimension 384, model identifier all-MiniLM-L6-v2
// (served locally via the "local" HTTP provider).
const (
	DefaultEmbeddingModel      = "all-MiniLM-L6-v2"
	DefaultEmbeddingDimensions = 384
)

// RRF defaults: k=60, 2·N over-fetch, both kept configurable.
const (
	DefaultRRFK         = 60
	DefaultRRFOverfetch = 2
)

// ModelInfo describes a known embedding model.
type ModelInfo struct {
	Name        string
	Dims        int
	Provider    string // "local", "openai"
	Description string
}

// KnownModels lists supported embedding models with metadata.
var KnownModels = []ModelInfo{
	{"all-MiniLM-L6-v2", 384, "local", "Default. Lightweight sentence-transformer"},
	{"all-mpnet-base-v2", 768, "local", "Higher quality, slower"},
	{"text-embedding-3-small", 1536, "openai", "OpenAI cloud API"},
	{"text-embedding-3-large", 3072, "openai", "OpenAI cloud API, higher quality"},
}

// IsKnownModel returns true if the model name is in the known models list.
func IsKnownModel(name string) bool {
	for _, m := range KnownModels {
		if m.Name == name {
			return true
		}
	}
	return false
}

// Indexing settings.
const (
	MaxEmbedChars    = 2000 // embedding text truncation safeguard
	MaxSnippetLength = 200  // search result snippet cap
)

// Config holds all configuration, loaded from TOML + env + flags.
type Config struct {
	KB        KBConfig        `toml:"kb"`
	Index     IndexConfig     `toml:"index"`
	Embedding EmbeddingConfig `toml:"embedding"`
	Search    SearchConfig    `toml:"search"`
	AI        AIConfig        `toml:"ai"`
	Display   DisplayConfig   `toml:"display"`
}

// KBConfig holds the active knowledge base root and its walk exclusions.
type KBConfig struct {
	Path       string   `toml:"path"`
	Name       string   `toml:"name"`
	KBType     string   `toml:"kb_type"`
	ReadOnly   bool     `toml:"read_only"`
	SkipDirs   []string `toml:"skip_dirs"`
	NoisePaths []string `toml:"noise_paths"`
}

// IndexConfig holds the SQLite index file location.
type IndexConfig struct {
	Path string `toml:"path"` // overrides the default .same/data/index.db
}

// EmbeddingConfig holds embedding provider settings.
type EmbeddingConfig struct {
	Provider   string `toml:"provider"`   // "local" (default), "ollama", "openai", "openai-compatible", "none"
	Model      string `toml:"model"`      // model name (provider-specific default if empty)
	APIKey     string `toml:"api_key"`
	BaseURL    string `toml:"base_url"`
	Dimensions int    `toml:"dimensions"` // vector dimensions (0 = provider default)
}

// SearchConfig holds search-time tuning.
type SearchConfig struct {
	Mode         string `toml:"mode"` // "keyword", "semantic", "hybrid" (default)
	RRFK         int    `toml:"rrf_k"`
	RRFOverfetch int    `toml:"rrf_overfetch"`
}

// AIConfig holds the query-expansion provider settings.
type AIConfig struct {
	Provider string `toml:"provider"` // "anthropic", "openai", "stub", "local", "none" (default)
	Model    string `toml:"model"`
	APIKey   string `toml:"api_key"`
	APIBase  string `toml:"api_base"`
}

// DisplayConfig controls visual output settings.
type DisplayConfig struct {
	Mode string `toml:"mode"` // "full" (default), "compact", "quiet"
}

// DefaultConfig returns a Config with all built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		KB: KBConfig{
			KBType: "notes",
		},
		Embedding: EmbeddingConfig{
			Provider: "local",
			Model:    DefaultEmbeddingModel,
			// Dimensions left at 0: EmbeddingDimensions resolves the
			// provider/model default (384 for the local default model).
		},
		Search: SearchConfig{
			Mode:         "hybrid",
			RRFK:         DefaultRRFK,
			RRFOverfetch: DefaultRRFOverfetch,
		},
		AI: AIConfig{
			Provider: "none",
		},
		Display: DisplayConfig{
			Mode: "full",
		},
	}
}

// LoadConfig merges all configuration sources: defaults < TOML file < env vars.
// CLI flags (KBOverride) are handled separately by the existing KBPath() logic.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configPath := findConfigFile()
	if configPath != "" {
		meta, err := toml.DecodeFile(configPath, cfg)
		if err != nil {
			return nil, fmt.Errorf("parse config %s: %w", configPath, err)
		}
		warnUnknownKeys(meta, configPath)
	}

	applyEnvOverrides(cfg)

	if len(cfg.KB.SkipDirs) > 0 {
		RebuildSkipDirs(cfg.KB.SkipDirs)
	}

	return cfg, nil
}

// LoadConfigFrom loads configuration from a specific file path, merging with
// defaults and env vars. Use this instead of LoadConfig() when the config
// file path is already known (e.g., right after writing one during init).
func LoadConfigFrom(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			meta, err := toml.DecodeFile(configPath, cfg)
			if err != nil {
				return nil, fmt.Errorf("parse config %s: %w", configPath, err)
			}
			warnUnknownKeys(meta, configPath)
		}
	}

	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("KB_PATH"); v != "" {
		cfg.KB.Path = v
	}
	if v := os.Getenv("KB_SKIP_DIRS"); v != "" {
		for _, d := range strings.Split(v, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				cfg.KB.SkipDirs = append(cfg.KB.SkipDirs, d)
			}
		}
	}
	if v := os.Getenv("KB_NOISE_PATHS"); v != "" {
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				cfg.KB.NoisePaths = append(cfg.KB.NoisePaths, p)
			}
		}
	}
	if v := os.Getenv("KB_INDEX_PATH"); v != "" {
		cfg.Index.Path = v
	}
	if v := os.Getenv("KB_EMBED_PROVIDER"); v != "" {
		cfg.Embedding.Provider = v
	}
	if v := os.Getenv("KB_EMBED_MODEL"); v != "" {
		cfg.Embedding.Model = v
	}
	if v := os.Getenv("KB_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}
	if v := os.Getenv("KB_EMBED_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("KB_SEARCH_MODE"); v != "" {
		cfg.Search.Mode = v
	}
	if v := os.Getenv("KB_AI_PROVIDER"); v != "" {
		cfg.AI.Provider = v
	}
	if v := os.Getenv("KB_AI_MODEL"); v != "" {
		cfg.AI.Model = v
	}
	if v := os.Getenv("KB_AI_API_KEY"); v != "" {
		cfg.AI.APIKey = v
	}
	if v := os.Getenv("KB_AI_API_BASE"); v != "" {
		cfg.AI.APIBase = v
	}
	if cfg.Embedding.APIKey == "" && cfg.Embedding.Provider == "openai" {
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			cfg.Embedding.APIKey = v
		}
	}
	if cfg.AI.APIKey == "" {
		switch cfg.AI.Provider {
		case "openai":
			if v := os.Getenv("OPENAI_API_KEY"); v != "" {
				cfg.AI.APIKey = v
			}
		case "anthropic":
			if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
				cfg.AI.APIKey = v
			}
		}
	}
}

// findConfigFile looks for .same/config.toml starting from the KB path, then CWD.
func findConfigFile() string {
	if vp := resolveKBForConfig(); vp != "" {
		p := filepath.Join(vp, ".same", "config.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	if cwd, err := os.Getwd(); err == nil {
		p := filepath.Join(cwd, ".same", "config.toml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// resolveKBForConfig resolves the KB path for config loading without calling
// KBPath() to avoid circular dependency with config loading.
func resolveKBForConfig() string {
	if KBOverride != "" {
		reg := LoadRegistry()
		if resolved := reg.ResolveKB(KBOverride); resolved != "" {
			return resolved
		}
		return KBOverride
	}
	if v := os.Getenv("KB_PATH"); v != "" {
		return v
	}
	return ""
}

// ConfigFilePath returns the path where the config file should be written
// for the given KB root.
func ConfigFilePath(kbPath string) string {
	return filepath.Join(kbPath, ".same", "config.toml")
}

// GenerateConfig writes a default .same/config.toml with comments.
func GenerateConfig(kbPath string) error {
	configPath := ConfigFilePath(kbPath)
	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	return os.WriteFile(configPath, []byte(generateTOMLContent(kbPath)), 0o600)
}

func generateTOMLContent(kbPath string) string {
	var b strings.Builder
	b.WriteString("# Knowledge base search engine configuration\n")
	b.WriteString("#\n")
	b.WriteString("# Priority: CLI flags > environment variables > this file > built-in defaults\n")
	b.WriteString("# Environment variables: KB_PATH, KB_INDEX_PATH, KB_SKIP_DIRS, KB_NOISE_PATHS,\n")
	b.WriteString("#   KB_EMBED_PROVIDER, KB_EMBED_MODEL, KB_EMBED_BASE_URL, KB_EMBED_API_KEY,\n")
	b.WriteString("#   KB_SEARCH_MODE, KB_AI_PROVIDER, KB_AI_MODEL, KB_AI_API_KEY, KB_AI_API_BASE\n\n")

	b.WriteString("[kb]\n")
	if kbPath != "" {
		b.WriteString(fmt.Sprintf("path = %q\n", kbPath))
	} else {
		b.WriteString("# path = \"/path/to/your/notes\"  # auto-detected if unset\n")
	}
	b.WriteString("kb_type = \"notes\"\n")
	b.WriteString("read_only = false\n")
	b.WriteString("# skip_dirs = [\".venv\", \"build\"]  # added to built-in exclusions\n")
	b.WriteString("# noise_paths = [\"experiments/\", \"raw_outputs/\"]\n\n")

	b.WriteString("[index]\n")
	b.WriteString("# path = \"\"  # defaults to <kb>/.same/data/index.db\n\n")

	b.WriteString("[embedding]\n")
	b.WriteString("# provider: \"local\" (default, HTTP sentence-transformer server), \"ollama\", \"openai\", \"none\"\n")
	b.WriteString(fmt.Sprintf("provider = %q\n", "local"))
	b.WriteString(fmt.Sprintf("model = %q\n", DefaultEmbeddingModel))
	b.WriteString(fmt.Sprintf("dimensions = %d\n", DefaultEmbeddingDimensions))
	b.WriteString("# api_key = \"\"   # required for openai, or set KB_EMBED_API_KEY / OPENAI_API_KEY\n\n")

	b.WriteString("[search]\n")
	b.WriteString("mode = \"hybrid\"\n")
	b.WriteString(fmt.Sprintf("rrf_k = %d\n", DefaultRRFK))
	b.WriteString(fmt.Sprintf("rrf_overfetch = %d\n\n", DefaultRRFOverfetch))

	b.WriteString("[ai]\n")
	b.WriteString("# query expansion provider: \"anthropic\", \"openai\", \"stub\", \"local\", \"none\" (default)\n")
	b.WriteString("provider = \"none\"\n")

	return b.String()
}

// ShowConfig returns the current effective configuration as TOML.
func ShowConfig() string {
	cfg, err := LoadConfig()
	if err != nil {
		return fmt.Sprintf("# Error loading config: %v\n", err)
	}
	if cfg.KB.Path == "" {
		cfg.KB.Path = KBPath()
	}
	var b strings.Builder
	b.WriteString("# Effective configuration (merged from all sources)\n\n")
	enc := toml.NewEncoder(&b)
	enc.Encode(cfg)
	return b.String()
}

// NoisePaths returns the configured list of path prefixes to filter from
// surfacing. Returns nil (no filtering) if unconfigured.
func NoisePaths() []string {
	if v := os.Getenv("KB_NOISE_PATHS"); v != "" {
		var paths []string
		for _, p := range strings.Split(v, ",") {
			p = strings.TrimSpace(p)
			if p != "" {
				paths = append(paths, p)
			}
		}
		return paths
	}
	if cfg := loadConfigSafe(); cfg != nil && len(cfg.KB.NoisePaths) > 0 {
		return cfg.KB.NoisePaths
	}
	return nil
}

// EmbeddingProvider returns the configured embedding provider name.
func EmbeddingProvider() string {
	if v := os.Getenv("KB_EMBED_PROVIDER"); v != "" {
		return v
	}
	if cfg := loadConfigSafe(); cfg != nil && cfg.Embedding.Provider != "" {
		return cfg.Embedding.Provider
	}
	return "local"
}

// EmbeddingProviderConfig returns the full embedding provider configuration.
func EmbeddingProviderConfig() EmbeddingConfig {
	cfg := loadConfigSafe()
	if cfg == nil {
		return EmbeddingConfig{Provider: "local", Model: DefaultEmbeddingModel, Dimensions: DefaultEmbeddingDimensions}
	}
	ec := cfg.Embedding
	if ec.Provider == "" {
		ec.Provider = "local"
	}
	if v := os.Getenv("KB_EMBED_PROVIDER"); v != "" {
		ec.Provider = v
	}
	if v := os.Getenv("KB_EMBED_MODEL"); v != "" {
		ec.Model = v
	}
	if v := os.Getenv("KB_EMBED_BASE_URL"); v != "" {
		ec.BaseURL = v
	}
	if v := os.Getenv("KB_EMBED_API_KEY"); v != "" {
		ec.APIKey = v
	}
	if ec.APIKey == "" && ec.Provider == "openai" {
		if v := os.Getenv("OPENAI_API_KEY"); v != "" {
			ec.APIKey = v
		}
	}
	return ec
}

// EmbeddingDimensions returns the configured embedding vector width, falling
// back to provider-specific defaults.
func EmbeddingDimensions() int {
	ec := EmbeddingProviderConfig()
	if ec.Dimensions > 0 {
		return ec.Dimensions
	}
	switch ec.Provider {
	case "openai":
		switch ec.Model {
		case "text-embedding-3-large":
			return 3072
		default:
			return 1536
		}
	default: // "local", "ollama", "none"
		switch ec.Model {
		case "all-mpnet-base-v2":
			return 768
		default:
			return DefaultEmbeddingDimensions
		}
	}
}

// SearchConfigValues returns the effective search-mode and RRF tuning.
func SearchConfigValues() (mode string, rrfK, rrfOverfetch int) {
	cfg := loadConfigSafe()
	if cfg == nil {
		return "hybrid", DefaultRRFK, DefaultRRFOverfetch
	}
	mode = cfg.Search.Mode
	if mode == "" {
		mode = "hybrid"
	}
	if v := os.Getenv("KB_SEARCH_MODE"); v != "" {
		mode = v
	}
	rrfK = cfg.Search.RRFK
	if rrfK <= 0 {
		rrfK = DefaultRRFK
	}
	rrfOverfetch = cfg.Search.RRFOverfetch
	if rrfOverfetch <= 0 {
		rrfOverfetch = DefaultRRFOverfetch
	}
	return mode, rrfK, rrfOverfetch
}

// AISettings returns the effective query-expansion provider config.
func AISettings() AIConfig {
	cfg := loadConfigSafe()
	if cfg == nil {
		return AIConfig{Provider: "none"}
	}
	ai := cfg.AI
	if ai.Provider == "" {
		ai.Provider = "none"
	}
	if v := os.Getenv("KB_AI_PROVIDER"); v != "" {
		ai.Provider = v
	}
	if v := os.Getenv("KB_AI_MODEL"); v != "" {
		ai.Model = v
	}
	if v := os.Getenv("KB_AI_API_BASE"); v != "" {
		ai.APIBase = v
	}
	if v := os.Getenv("KB_AI_API_KEY"); v != "" {
		ai.APIKey = v
	}
	return ai
}

// loadConfigSafe loads config without risking recursion. Returns nil on error.
func loadConfigSafe() *Config {
	cfg, err := LoadConfig()
	if err != nil {
		return nil
	}
	return cfg
}

// ConfigWarning returns any config file parse error, or empty string if OK.
func ConfigWarning() string {
	_, err := LoadConfig()
	if err != nil {
		return err.Error()
	}
	return ""
}

// FindConfigFile returns the path to the active config file, or empty string if none found.
func FindConfigFile() string {
	return findConfigFile()
}

// configSuggestions maps common wrong keys to the correct TOML key name.
var configSuggestions = map[string]string{
	"exclude_paths": "skip_dirs",
	"exclude_dirs":  "skip_dirs",
	"skip_paths":    "skip_dirs",
	"ignored_dirs":  "skip_dirs",
	"ignore_dirs":   "skip_dirs",
	"excludes":      "skip_dirs",
	"noise":         "noise_paths",
	"apikey":        "api_key",
	"api-key":       "api_key",
	"baseurl":       "base_url",
	"base-url":      "base_url",
}

// warnUnknownKeys prints warnings for unrecognized config keys.
func warnUnknownKeys(meta toml.MetaData, configPath string) {
	undecoded := meta.Undecoded()
	if len(undecoded) == 0 {
		return
	}
	fname := filepath.Base(configPath)
	for _, key := range undecoded {
		keyStr := key.String()
		lastPart := key[len(key)-1]
		if suggestion, ok := configSuggestions[lastPart]; ok {
			fmt.Fprintf(os.Stderr, "same: WARNING: unknown key %q in %s — did you mean %q?\n",
				keyStr, fname, suggestion)
		} else {
			fmt.Fprintf(os.Stderr, "same: WARNING: unknown key %q in %s (will be ignored)\n",
				keyStr, fname)
		}
	}
}

// defaultSkipDirs are directories to skip during KB walks.
var defaultSkipDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	".smart-env":   true,
	".obsidian":    true,
	".logseq":      true,
	".same":        true,
	".claude":      true,
	".trash":       true,
}

// SkipFiles are filenames excluded from indexing (meta-docs, not KB content).
var SkipFiles = map[string]bool{
	"CLAUDE.md": true,
}

// SkipDirs returns the set of directories to skip during KB walks.
var SkipDirs = buildSkipDirs()

func buildSkipDirs() map[string]bool {
	dirs := make(map[string]bool)
	for k, v := range defaultSkipDirs {
		dirs[k] = v
	}
	if extra := os.Getenv("KB_SKIP_DIRS"); extra != "" {
		for _, d := range strings.Split(extra, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				dirs[d] = true
			}
		}
	}
	return dirs
}

// RebuildSkipDirs rebuilds the SkipDirs map, incorporating config file settings.
func RebuildSkipDirs(extra []string) {
	dirs := make(map[string]bool)
	for k, v := range defaultSkipDirs {
		dirs[k] = v
	}
	if envExtra := os.Getenv("KB_SKIP_DIRS"); envExtra != "" {
		for _, d := range strings.Split(envExtra, ",") {
			d = strings.TrimSpace(d)
			if d != "" {
				dirs[d] = true
			}
		}
	}
	for _, d := range extra {
		d = strings.TrimSpace(d)
		if d != "" {
			dirs[d] = true
		}
	}
	SkipDirs = dirs
}

// KBPath returns the active knowledge base root directory.
// SECURITY: Validates the path is a reasonable KB root (not / or other
// dangerous top-level paths that would cause the indexer to walk the entire
// filesystem).
func KBPath() string {
	var path string
	if KBOverride != "" {
		reg := LoadRegistry()
		if resolved := reg.ResolveKB(KBOverride); resolved != "" {
			path = resolved
		} else {
			path = KBOverride
		}
	} else if v := os.Getenv("KB_PATH"); v != "" {
		path = v
	} else if cfg := loadConfigSafe(); cfg != nil && cfg.KB.Path != "" {
		path = cfg.KB.Path
	} else {
		path = defaultKBPath()
	}
	if path != "" {
		path = validateKBPath(path)
	}
	return path
}

// validateKBPath rejects KB paths that are too broad (e.g., /, /home, /Users)
// and resolves symlinks to prevent symlink-based escapes, since it guards a
// real filesystem-destructive surface (delete-by-path, reindex-all).
func validateKBPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	dangerous := []string{"/", "/home", "/Users", "/tmp", "/var", "/etc", "/opt"}
	if runtime.GOOS == "windows" && len(abs) >= 3 {
		for _, letter := range "ABCDEFGHIJKLMNOPQRSTUVWXYZ" {
			dangerous = append(dangerous, string(letter)+":\\")
		}
		driveRoot := abs[:3]
		dangerous = append(dangerous, filepath.Join(driveRoot, "Users"), filepath.Join(driveRoot, "Windows"))
	}
	for _, d := range dangerous {
		if abs == d {
			fmt.Fprintf(os.Stderr, "WARNING: KB_PATH=%q is too broad, ignoring.\n", abs)
			return ""
		}
	}

	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return path
	}
	for _, d := range dangerous {
		if resolved == d {
			fmt.Fprintf(os.Stderr, "WARNING: KB_PATH=%q resolves to %q which is too broad, ignoring.\n", abs, resolved)
			return ""
		}
		if resolvedDangerous, err := filepath.EvalSymlinks(d); err == nil {
			if resolved == resolvedDangerous {
				fmt.Fprintf(os.Stderr, "WARNING: KB_PATH=%q resolves to %q which is too broad, ignoring.\n", abs, resolved)
				return ""
			}
		}
	}
	return path
}

// SafeKBSubpath resolves a relative path within the KB and validates that the
// result stays inside the KB root. Returns the absolute path and true if
// valid, or empty string and false if the path escapes the KB boundary.
func SafeKBSubpath(relativePath string) (string, bool) {
	kbRoot := KBPath()
	if kbRoot == "" {
		return "", false
	}
	absKB, err := filepath.Abs(kbRoot)
	if err != nil {
		return "", false
	}
	if filepath.IsAbs(filepath.FromSlash(relativePath)) {
		return "", false
	}
	absPath, err := filepath.Abs(filepath.Join(kbRoot, filepath.FromSlash(relativePath)))
	if err != nil {
		return "", false
	}
	if !strings.HasPrefix(absPath, absKB+string(filepath.Separator)) && absPath != absKB {
		return "", false
	}
	return absPath, true
}

// Sentinel errors for consistent messaging across CLI.
var (
	ErrNoKB        = fmt.Errorf("no knowledge base found — run 'same index' or set KB_PATH")
	ErrNoDatabase  = fmt.Errorf("cannot open index — run 'same index' or 'same doctor' to diagnose")
	ErrAPINotLocal = fmt.Errorf("KB_EMBED_BASE_URL must point to localhost for the local provider")
)

// EmbeddingBaseURL returns the validated local embedding server URL.
// Returns an error if the URL is invalid or (for the local provider) does
// not point to localhost.
func EmbeddingBaseURL() (string, error) {
	ec := EmbeddingProviderConfig()
	raw := ec.BaseURL
	if raw == "" {
		raw = "http://localhost:8891"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid embedding base_url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("embedding base_url must use http or https scheme, got: %s", u.Scheme)
	}
	if ec.Provider == "local" {
		host := u.Hostname()
		if host != "localhost" && host != "127.0.0.1" && host != "::1" {
			return "", ErrAPINotLocal
		}
	}
	return raw, nil
}

// IndexPath returns the path to the SQLite index file.
func IndexPath() string {
	if cfg := loadConfigSafe(); cfg != nil && cfg.Index.Path != "" {
		return cfg.Index.Path
	}
	return filepath.Join(DataDir(), "index.db")
}

// DataDir returns the data directory for the same binary.
// SECURITY: Validates KB_DATA_DIR is an existing, writable directory.
func DataDir() string {
	if v := os.Getenv("KB_DATA_DIR"); v != "" {
		return validateDataDir(v)
	}
	return filepath.Join(KBPath(), ".same", "data")
}

// validateDataDir checks that the given path is a valid directory (or can be
// created). Falls back to the default data dir if the path is invalid.
func validateDataDir(dir string) string {
	abs, err := filepath.Abs(dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: KB_DATA_DIR=%q is not a valid path, using default.\n", dir)
		return filepath.Join(KBPath(), ".same", "data")
	}

	info, err := os.Stat(abs)
	if err == nil {
		if !info.IsDir() {
			fmt.Fprintf(os.Stderr, "WARNING: KB_DATA_DIR=%q is not a directory, using default.\n", abs)
			return filepath.Join(KBPath(), ".same", "data")
		}
		testFile := filepath.Join(abs, ".same_write_test")
		if f, err := os.Create(testFile); err != nil {
			fmt.Fprintf(os.Stderr, "WARNING: KB_DATA_DIR=%q is not writable, using default.\n", abs)
			return filepath.Join(KBPath(), ".same", "data")
		} else {
			f.Close()
			os.Remove(testFile)
		}
		return abs
	}

	if err := os.MkdirAll(abs, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "WARNING: KB_DATA_DIR=%q cannot be created (%v), using default.\n", abs, err)
		return filepath.Join(KBPath(), ".same", "data")
	}
	return abs
}

// KBRegistry holds registered KB roots with aliases, for multi-KB workspaces.
type KBRegistry struct {
	KBs     map[string]string `json:"kbs"`     // alias -> path
	Default string            `json:"default"` // alias of default KB
}

// RegistryPath returns the path to the KB registry file.
func RegistryPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "same", "kbs.json")
}

// LoadRegistry loads or creates the KB registry.
func LoadRegistry() *KBRegistry {
	data, err := os.ReadFile(RegistryPath())
	if err != nil {
		return &KBRegistry{KBs: make(map[string]string)}
	}
	var reg KBRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return &KBRegistry{KBs: make(map[string]string)}
	}
	if reg.KBs == nil {
		reg.KBs = make(map[string]string)
	}
	return &reg
}

// Save writes the registry to disk. Uses a lockfile to prevent TOCTOU races
// when multiple processes read and write kbs.json concurrently.
func (r *KBRegistry) Save() error {
	path := RegistryPath()
	os.MkdirAll(filepath.Dir(path), 0o755)

	lockPath := path + ".lock"
	unlock, err := acquireFileLock(lockPath)
	if err != nil {
		data, err := json.MarshalIndent(r, "", "  ")
		if err != nil {
			return err
		}
		return os.WriteFile(path, data, 0o600)
	}
	defer unlock()

	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// acquireFileLock creates a lockfile using O_EXCL for atomic creation.
func acquireFileLock(lockPath string) (func(), error) {
	const maxRetries = 20
	const retryDelay = 50 * time.Millisecond

	for i := 0; i < maxRetries; i++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			f.Close()
			return func() { os.Remove(lockPath) }, nil
		}
		if !os.IsExist(err) {
			return nil, err
		}
		if info, statErr := os.Stat(lockPath); statErr == nil {
			if time.Since(info.ModTime()) > 10*time.Second {
				os.Remove(lockPath)
				continue
			}
		}
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("could not acquire lock on %s", lockPath)
}

// ResolveKB resolves a KB alias to a path. Returns empty string if not found.
func (r *KBRegistry) ResolveKB(alias string) string {
	if p, ok := r.KBs[alias]; ok {
		return p
	}
	if info, err := os.Stat(alias); err == nil && info.IsDir() {
		return alias
	}
	return ""
}

// KBOverride is set by the --kb global flag.
var KBOverride string

// KBMarkers are dotfiles/directories that indicate a knowledge base root.
// Checked in priority order: this engine's own marker first, then common
// note-taking tools that a KB might otherwise live under.
var KBMarkers = []string{".same", ".obsidian", ".logseq", ".foam", ".dendron"}

func defaultKBPath() string {
	if KBOverride != "" {
		reg := LoadRegistry()
		if resolved := reg.ResolveKB(KBOverride); resolved != "" {
			return resolved
		}
		return KBOverride
	}

	if cwd, err := os.Getwd(); err == nil {
		for _, marker := range KBMarkers {
			if _, err := os.Stat(filepath.Join(cwd, marker)); err == nil {
				return cwd
			}
		}
	}

	reg := LoadRegistry()
	if reg.Default != "" {
		if p, ok := reg.KBs[reg.Default]; ok {
			return p
		}
	}

	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for i := 0; i < 5; i++ {
			for _, marker := range KBMarkers {
				if _, err := os.Stat(filepath.Join(dir, marker)); err == nil {
					return dir
				}
			}
			dir = filepath.Dir(dir)
		}
	}

	return ""
}

// DisplayMode returns the current display mode from config.
func DisplayMode() string {
	cfg := loadConfigSafe()
	if cfg == nil || cfg.Display.Mode == "" {
		return "full"
	}
	return cfg.Display.Mode
}

// SetDisplayMode updates the display mode in the config file.
func SetDisplayMode(kbPath, mode string) error {
	cfgPath := ConfigFilePath(kbPath)
	cfg, err := LoadConfigFrom(cfgPath)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.Display.Mode = mode
	return writeConfig(cfgPath, cfg)
}

// SetEmbeddingModel updates the embedding model in the config file.
func SetEmbeddingModel(kbPath, model string) error {
	cfgPath := ConfigFilePath(kbPath)
	cfg, err := LoadConfigFrom(cfgPath)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.Embedding.Model = model
	return writeConfig(cfgPath, cfg)
}

// SetSearchMode updates the default search mode in the config file.
func SetSearchMode(kbPath, mode string) error {
	cfgPath := ConfigFilePath(kbPath)
	cfg, err := LoadConfigFrom(cfgPath)
	if err != nil {
		cfg = DefaultConfig()
	}
	cfg.Search.Mode = mode
	return writeConfig(cfgPath, cfg)
}

func writeConfig(cfgPath string, cfg *Config) error {
	var buf bytes.Buffer
	encoder := toml.NewEncoder(&buf)
	if err := encoder.Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	os.MkdirAll(filepath.Dir(cfgPath), 0o755)
	return os.WriteFile(cfgPath, buf.Bytes(), 0o600)
}

// MachineName returns the user-configured machine name, or falls back to hostname.
func MachineName() string {
	cfg := loadUserConfig()
	if cfg.MachineName != "" {
		return cfg.MachineName
	}
	if h, err := os.Hostname(); err == nil {
		return h
	}
	return "unknown"
}

// SetMachineName saves the user's preferred machine name.
func SetMachineName(name string) error {
	cfg := loadUserConfig()
	cfg.MachineName = name
	return saveUserConfig(cfg)
}

// userConfig holds user-level preferences (not KB-specific).
type userConfig struct {
	MachineName string `json:"machine_name,omitempty"`
}

func userConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "same", "config.json")
}

func loadUserConfig() userConfig {
	data, err := os.ReadFile(userConfigPath())
	if err != nil {
		return userConfig{}
	}
	var cfg userConfig
	json.Unmarshal(data, &cfg)
	return cfg
}

func saveUserConfig(cfg userConfig) error {
	path := userConfigPath()
	os.MkdirAll(filepath.Dir(path), 0o755)
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}
