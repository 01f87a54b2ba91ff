package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// --- KB path validation (dangerous roots) ---

func TestValidateKBPath_DangerousRoots(t *testing.T) {
	tests := []struct {
		name string
		path string
	}{
		{"filesystem root", "/"},
		{"home root", "/home"},
		{"users root", "/Users"},
		{"tmp root", "/tmp"},
		{"var root", "/var"},
		{"etc root", "/etc"},
		{"opt root", "/opt"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := validateKBPath(tt.path)
			if result != "" {
				t.Errorf("expected empty for dangerous path %q, got %q", tt.path, result)
			}
		})
	}
}

func TestValidateKBPath_AllowsReasonable(t *testing.T) {
	dir := t.TempDir()
	result := validateKBPath(dir)
	if result == "" {
		t.Errorf("expected valid result for reasonable path %q, got empty", dir)
	}
}

func TestValidateKBPath_SymlinkToDangerousRoot(t *testing.T) {
	dir := t.TempDir()
	link := filepath.Join(dir, "evil-link")
	err := os.Symlink("/tmp", link)
	if err != nil {
		t.Skip("Cannot create symlinks on this platform")
	}

	result := validateKBPath(link)
	if result != "" {
		t.Errorf("expected empty for symlink to /tmp, got %q", result)
	}
}

func TestSafeKBSubpath_BoundaryChecks(t *testing.T) {
	kb := t.TempDir()
	KBOverride = kb
	t.Cleanup(func() { KBOverride = "" })
	t.Setenv("KB_PATH", kb)

	valid, ok := SafeKBSubpath("sessions/next-handoff.md")
	if !ok {
		t.Fatal("expected valid subpath to succeed")
	}
	absKB, _ := filepath.Abs(kb)
	if !strings.HasPrefix(valid, absKB+string(filepath.Separator)) {
		t.Fatalf("expected resolved path within kb: %s", valid)
	}

	if _, ok := SafeKBSubpath("../escape.md"); ok {
		t.Fatal("expected traversal subpath to be rejected")
	}

	if _, ok := SafeKBSubpath("/etc/passwd"); ok {
		t.Fatal("expected absolute path subpath to be rejected")
	}
}

// --- Config file handling with malformed data ---

func TestLoadConfig_MalformedTOML(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ".same")
	os.MkdirAll(configDir, 0o755)

	os.WriteFile(filepath.Join(configDir, "config.toml"),
		[]byte(`[this is {{ not valid TOML !!! `), 0o644)

	t.Setenv("KB_PATH", dir)
	KBOverride = dir
	defer func() { KBOverride = "" }()

	_, err := LoadConfig()
	if err == nil {
		t.Error("expected error for malformed TOML config")
	}
}

func TestLoadConfig_EmptyFile(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ".same")
	os.MkdirAll(configDir, 0o755)

	os.WriteFile(filepath.Join(configDir, "config.toml"), []byte(""), 0o644)

	t.Setenv("KB_PATH", dir)
	KBOverride = dir
	defer func() { KBOverride = "" }()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error for empty config: %v", err)
	}
	if cfg.Embedding.Model != DefaultEmbeddingModel {
		t.Errorf("expected default embedding model, got %q", cfg.Embedding.Model)
	}
}

func TestLoadConfig_PartialTOML(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ".same")
	os.MkdirAll(configDir, 0o755)

	os.WriteFile(filepath.Join(configDir, "config.toml"),
		[]byte(`[embedding]
model = "all-mpnet-base-v2"
`), 0o644)

	t.Setenv("KB_PATH", dir)
	KBOverride = dir
	defer func() { KBOverride = "" }()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error for partial config: %v", err)
	}
	if cfg.Embedding.Model != "all-mpnet-base-v2" {
		t.Errorf("expected partial override model, got %q", cfg.Embedding.Model)
	}
	if cfg.Display.Mode != "full" {
		t.Errorf("expected default display mode, got %q", cfg.Display.Mode)
	}
}

// --- Environment variable overrides ---

func TestLoadConfig_AllEnvVars(t *testing.T) {
	t.Setenv("KB_PATH", "/tmp/test-kb-env")
	t.Setenv("KB_SKIP_DIRS", "build,dist,vendor")
	t.Setenv("KB_NOISE_PATHS", "experiments/,raw/")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.KB.Path != "/tmp/test-kb-env" {
		t.Errorf("expected KB_PATH override, got %q", cfg.KB.Path)
	}

	foundBuild := false
	for _, d := range cfg.KB.SkipDirs {
		if d == "build" {
			foundBuild = true
		}
	}
	if !foundBuild {
		t.Error("expected 'build' in skip dirs from env var")
	}

	foundExperiments := false
	for _, p := range cfg.KB.NoisePaths {
		if p == "experiments/" {
			foundExperiments = true
		}
	}
	if !foundExperiments {
		t.Error("expected 'experiments/' in noise paths from env var")
	}
}

func TestLoadConfig_UnknownKeys(t *testing.T) {
	dir := t.TempDir()
	configDir := filepath.Join(dir, ".same")
	os.MkdirAll(configDir, 0o755)

	os.WriteFile(filepath.Join(configDir, "config.toml"),
		[]byte(`[kb]
exclude_paths = ["_Raw", "Scratch"]
path = "/home/user/notes"

[embedding]
provider = "local"
`), 0o644)

	t.Setenv("KB_PATH", dir)
	KBOverride = dir
	defer func() { KBOverride = "" }()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unknown keys should not cause error: %v", err)
	}
	if cfg.Embedding.Provider != "local" {
		t.Errorf("expected embedding provider to be parsed, got %q", cfg.Embedding.Provider)
	}
}

func TestConfigSuggestions(t *testing.T) {
	tests := []struct {
		wrong   string
		correct string
	}{
		{"exclude_paths", "skip_dirs"},
		{"exclude_dirs", "skip_dirs"},
		{"skip_paths", "skip_dirs"},
		{"apikey", "api_key"},
		{"base-url", "base_url"},
	}
	for _, tt := range tests {
		if got, ok := configSuggestions[tt.wrong]; !ok || got != tt.correct {
			t.Errorf("configSuggestions[%q] = %q, want %q", tt.wrong, got, tt.correct)
		}
	}
}

func TestLoadConfig_NoEnvVars(t *testing.T) {
	t.Setenv("KB_PATH", "")
	t.Setenv("KB_SKIP_DIRS", "")
	t.Setenv("KB_NOISE_PATHS", "")

	os.Unsetenv("KB_PATH")
	os.Unsetenv("KB_SKIP_DIRS")
	os.Unsetenv("KB_NOISE_PATHS")
	os.Unsetenv("KB_EMBED_PROVIDER")
	os.Unsetenv("KB_EMBED_MODEL")
	os.Unsetenv("KB_EMBED_API_KEY")
	os.Unsetenv("OPENAI_API_KEY")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("unexpected error with no env vars: %v", err)
	}

	if cfg.Embedding.Model != DefaultEmbeddingModel {
		t.Errorf("expected default embedding model, got %q", cfg.Embedding.Model)
	}
	if cfg.Search.Mode != "hybrid" {
		t.Errorf("expected default search mode, got %q", cfg.Search.Mode)
	}
}

// --- Embedding provider config ---

func TestEmbeddingProviderConfig_EnvOverrides(t *testing.T) {
	t.Setenv("KB_EMBED_PROVIDER", "openai")
	t.Setenv("KB_EMBED_MODEL", "text-embedding-3-small")
	t.Setenv("KB_EMBED_API_KEY", "sk-test-key-123")

	ec := EmbeddingProviderConfig()
	if ec.Provider != "openai" {
		t.Errorf("expected provider 'openai', got %q", ec.Provider)
	}
	if ec.Model != "text-embedding-3-small" {
		t.Errorf("expected model override, got %q", ec.Model)
	}
	if ec.APIKey != "sk-test-key-123" {
		t.Errorf("expected API key override, got %q", ec.APIKey)
	}
}

func TestEmbeddingProviderConfig_OpenAIFallbackKey(t *testing.T) {
	os.Unsetenv("KB_EMBED_API_KEY")
	t.Setenv("KB_EMBED_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-fallback-key")

	ec := EmbeddingProviderConfig()
	if ec.APIKey != "sk-fallback-key" {
		t.Errorf("expected OPENAI_API_KEY fallback, got %q", ec.APIKey)
	}
}

// --- EmbeddingDimensions tests ---

func TestEmbeddingDimensions_Defaults(t *testing.T) {
	os.Unsetenv("KB_EMBED_PROVIDER")
	os.Unsetenv("KB_EMBED_MODEL")

	dim := EmbeddingDimensions()
	if dim != DefaultEmbeddingDimensions {
		t.Errorf("expected default dim %d, got %d", DefaultEmbeddingDimensions, dim)
	}
}

func TestEmbeddingDimensions_OpenAIDefault(t *testing.T) {
	t.Setenv("KB_EMBED_PROVIDER", "openai")
	os.Unsetenv("KB_EMBED_MODEL")

	dim := EmbeddingDimensions()
	if dim != 1536 {
		t.Errorf("expected openai default dim 1536, got %d", dim)
	}
}

// --- SkipDirs ---

func TestDefaultSkipDirs(t *testing.T) {
	if !SkipDirs[".git"] {
		t.Error("expected .git in default skip dirs")
	}
	if !SkipDirs[".same"] {
		t.Error("expected .same in default skip dirs")
	}
}

func TestRebuildSkipDirs_AddsCustom(t *testing.T) {
	RebuildSkipDirs([]string{"custom-dir", "build"})
	defer RebuildSkipDirs(nil)

	if !SkipDirs["custom-dir"] {
		t.Error("expected 'custom-dir' in rebuilt skip dirs")
	}
	if !SkipDirs["build"] {
		t.Error("expected 'build' in rebuilt skip dirs")
	}
	if !SkipDirs[".git"] {
		t.Error("expected .git still in skip dirs after rebuild")
	}
}

// --- GenerateConfig ---

func TestGenerateConfig_CreatesFile(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateConfig(dir); err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}

	cfgPath := ConfigFilePath(dir)
	info, err := os.Stat(cfgPath)
	if err != nil {
		t.Fatalf("config file not created: %v", err)
	}

	perm := info.Mode().Perm()
	if perm != 0o600 {
		t.Errorf("expected permissions 0600, got %o", perm)
	}
}

func TestGenerateConfig_RoundTrips(t *testing.T) {
	dir := t.TempDir()
	if err := GenerateConfig(dir); err != nil {
		t.Fatalf("GenerateConfig: %v", err)
	}
	cfg, err := LoadConfigFrom(ConfigFilePath(dir))
	if err != nil {
		t.Fatalf("LoadConfigFrom: %v", err)
	}
	if cfg.KB.Path != dir {
		t.Errorf("expected kb.path %q in generated config, got %q", dir, cfg.KB.Path)
	}
}
