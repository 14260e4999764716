/*
 * Copyright (c) 2025 by Alexander Drost, Oldenburg, Germany.
 * This file is licensed to you under the Apache License, Version 2.0 (the "License"); you may not use this file except
 * in compliance with the License.  You may obtain a copy of the License at
 *   http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.  See the License for the
 *  specific language governing permissions and limitations under the License.
 */

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/zalando/go-keyring"
	"gopkg.in/yaml.v3"

	"storyboarder/internal/domain"
	"storyboarder/internal/reducer"
)

// AppConfig is the user-editable configuration persisted to a YAML file in the user scope.
// Environment variables are treated as read-only overrides at runtime.
//
// config_version: bump when the structure changes in a backward-incompatible way.
// Unknown fields are ignored on unmarshal.

type GeneralConfig struct {
	TelemetryOptIn bool `yaml:"telemetry_opt_in"`
}

// SyncConfig describes how a window pair is connected.
type SyncConfig struct {
	Transport   string `yaml:"transport"` // "pipe" | "websocket" | "redis"
	Listen      string `yaml:"listen"`    // primary websocket address
	PeerURL     string `yaml:"peer_url"`  // secondary websocket URL, e.g. ws://127.0.0.1:7420/ws
	RedisAddr   string `yaml:"redis_addr"`
	RedisPrefix string `yaml:"redis_prefix"`
	TokenTTLSec int    `yaml:"token_ttl_seconds"`
	// The channel secret is not stored on disk; it lives in the OS keychain.

	LocalOnly       []string `yaml:"local_only"`
	Flatten         []string `yaml:"flatten"`
	Untracked       []string `yaml:"untracked"`
	HistoryMaxBytes int64    `yaml:"history_max_bytes"`
	HistoryMaxDepth int      `yaml:"history_max_depth"`
}

type JournalConfig struct {
	Driver string `yaml:"driver"` // "none" | "sqlite" | "postgres"
	Path   string `yaml:"path"`
	DSN    string `yaml:"dsn"`
	Buffer int    `yaml:"buffer"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Source bool   `yaml:"source"`
	File   string `yaml:"file"`
}

type AppConfig struct {
	ConfigVersion int           `yaml:"config_version"`
	General       GeneralConfig `yaml:"general"`
	Sync          SyncConfig    `yaml:"sync"`
	Journal       JournalConfig `yaml:"journal"`
	Logging       LoggingConfig `yaml:"logging"`
}

// Defaults returns the application defaults.
func Defaults() AppConfig {
	return AppConfig{
		ConfigVersion: 1,
		General:       GeneralConfig{TelemetryOptIn: false},
		Sync: SyncConfig{
			Transport:       "websocket",
			Listen:          "127.0.0.1:7420",
			PeerURL:         "ws://127.0.0.1:7420/ws",
			RedisAddr:       "127.0.0.1:6379",
			RedisPrefix:     "storyboarder",
			TokenTTLSec:     3600,
			LocalOnly:       []string{string(domain.SetHover), string(domain.SelectObjects)},
			Flatten:         []string{string(domain.UpdateCharacterSkeleton), string(domain.LoadScene)},
			Untracked:       []string{string(domain.SetHover), string(domain.SelectObjects), string(domain.SetCurrentLanguage)},
			HistoryMaxBytes: 16 << 20,
			HistoryMaxDepth: 200,
		},
		Journal: JournalConfig{Driver: "none", Buffer: 256},
		Logging: LoggingConfig{Level: "info", Format: "console", Source: false, File: ""},
	}
}

// Env var names used as overrides.
const (
	EnvTelemetryOptIn = "SBR_TELEMETRY_OPT_IN"
	EnvTransport      = "SBR_SYNC_TRANSPORT"
	EnvListen         = "SBR_SYNC_LISTEN"
	EnvPeerURL        = "SBR_SYNC_PEER"
	EnvRedisAddr      = "SBR_REDIS_ADDR"
	EnvRedisPrefix    = "SBR_REDIS_PREFIX"
	EnvJournalDriver  = "SBR_JOURNAL_DRIVER"
	EnvJournalPath    = "SBR_JOURNAL_PATH"
	EnvJournalDSN     = "SBR_JOURNAL_DSN"
	EnvJournalBuffer  = "SBR_JOURNAL_BUFFER"
	// EnvSecret overrides the keychain secret, for headless runs.
	EnvSecret = "SBR_CHANNEL_SECRET"
	// EnvLogLevel Logging envs
	EnvLogLevel  = "SBR_LOG_LEVEL"
	EnvLogFormat = "SBR_LOG_FORMAT"
	EnvLogSource = "SBR_LOG_SOURCE"
	EnvLogFile   = "SBR_LOG_FILE"
)

// Service/keys for OS keyring.
const (
	keyringService = "Storyboarder"
	keyringSecret  = "channel_secret"
)

// secretStore abstracts keyring, so we can stub in tests.
var secretStore SecretStore = osKeyring{}

type SecretStore interface {
	Get(service, key string) (string, error)
	Set(service, key, value string) error
	Delete(service, key string) error
}

// osKeyring implements SecretStore using the OS keyring via github.com/zalando/go-keyring.
type osKeyring struct{}

func (osKeyring) Get(service, key string) (string, error) { return keyring.Get(service, key) }
func (osKeyring) Set(service, key, value string) error    { return keyring.Set(service, key, value) }
func (osKeyring) Delete(service, key string) error        { return keyring.Delete(service, key) }

// ConfigPath returns the per-user config file path.
func ConfigPath() (string, error) {
	var base string
	switch runtime.GOOS {
	case "windows":
		base = os.Getenv("AppData")
		if base == "" { // fallback
			base = filepath.Join(os.Getenv("USERPROFILE"), "AppData", "Roaming")
		}
		base = filepath.Join(base, "Storyboarder")
	case "darwin":
		base = filepath.Join(os.Getenv("HOME"), "Library", "Application Support", "Storyboarder")
	default: // linux and others
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			base = filepath.Join(xdg, "storyboarder")
		} else {
			base = filepath.Join(os.Getenv("HOME"), ".config", "storyboarder")
		}
	}
	if base == "" {
		return "", errors.New("cannot resolve config directory")
	}
	return filepath.Join(base, "config.yaml"), nil
}

// Load reads the user config file, if present, applies defaults and merges environment
// overrides. The channel secret is returned separately; it is empty if none is stored.
func Load() (AppConfig, string, error) {
	path, err := ConfigPath()
	if err != nil {
		return Defaults(), "", err
	}
	return LoadFrom(path)
}

// LoadFrom is Load with an explicit file path. A missing file is not an error.
func LoadFrom(path string) (AppConfig, string, error) {
	cfg := Defaults()
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		var fileCfg AppConfig
		if err := yaml.Unmarshal(data, &fileCfg); err != nil {
			return cfg, "", fmt.Errorf("parse %s: %w", path, err)
		}
		mergeInto(&cfg, &fileCfg)
	case !errors.Is(err, os.ErrNotExist):
		return cfg, "", fmt.Errorf("read %s: %w", path, err)
	}
	applyEnvOverrides(&cfg)
	if err := cfg.Validate(); err != nil {
		return cfg, "", err
	}
	return cfg, loadSecret(), nil
}

func loadSecret() string {
	if v := strings.TrimSpace(os.Getenv(EnvSecret)); v != "" {
		return v
	}
	s, _ := secretStore.Get(keyringService, keyringSecret)
	return s
}

// Save writes the user config YAML and persists the secret into the OS keyring (if non-empty).
func Save(cfg AppConfig, secret string) error {
	path, err := ConfigPath()
	if err != nil {
		return err
	}
	return SaveTo(path, cfg, secret)
}

// SaveTo is Save with an explicit file path.
func SaveTo(path string, cfg AppConfig, secret string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	if secret != "" {
		return SetSecret(secret)
	}
	return nil
}

// SetSecret stores the channel secret in the OS keyring.
func SetSecret(secret string) error {
	if strings.TrimSpace(secret) == "" {
		return errors.New("secret is empty")
	}
	return secretStore.Set(keyringService, keyringSecret, secret)
}

// Secret returns the stored channel secret, honoring the env override.
func Secret() (string, error) {
	if v := strings.TrimSpace(os.Getenv(EnvSecret)); v != "" {
		return v, nil
	}
	return secretStore.Get(keyringService, keyringSecret)
}

// DeleteSecret removes the stored channel secret.
func DeleteSecret() error { return secretStore.Delete(keyringService, keyringSecret) }

// Validate checks enumerations and caps.
func (c AppConfig) Validate() error {
	if !slices.Contains([]string{"pipe", "websocket", "redis"}, c.Sync.Transport) {
		return fmt.Errorf("sync.transport: unknown transport %q", c.Sync.Transport)
	}
	if !slices.Contains([]string{"none", "sqlite", "postgres"}, c.Journal.Driver) {
		return fmt.Errorf("journal.driver: unknown driver %q", c.Journal.Driver)
	}
	if c.Journal.Driver == "postgres" && strings.TrimSpace(c.Journal.DSN) == "" {
		return errors.New("journal.dsn is required for the postgres driver")
	}
	if c.Sync.HistoryMaxBytes < 0 || c.Sync.HistoryMaxDepth < 0 {
		return errors.New("sync: history caps must not be negative")
	}
	for key, names := range map[string][]string{
		"sync.local_only": c.Sync.LocalOnly,
		"sync.flatten":    c.Sync.Flatten,
		"sync.untracked":  c.Sync.Untracked,
	} {
		for _, k := range Kinds(names) {
			if !reducer.Known(k) {
				return fmt.Errorf("%s: unknown transition kind %q", key, k)
			}
		}
	}
	return nil
}

func mergeInto(dst *AppConfig, src *AppConfig) {
	if src.ConfigVersion != 0 {
		dst.ConfigVersion = src.ConfigVersion
	}
	// booleans: copy directly from src (file) so user preferences persist
	dst.General.TelemetryOptIn = src.General.TelemetryOptIn

	s, d := &src.Sync, &dst.Sync
	mergeString(&d.Transport, strings.ToLower(s.Transport))
	mergeString(&d.Listen, s.Listen)
	mergeString(&d.PeerURL, s.PeerURL)
	mergeString(&d.RedisAddr, s.RedisAddr)
	mergeString(&d.RedisPrefix, s.RedisPrefix)
	if s.TokenTTLSec > 0 {
		d.TokenTTLSec = s.TokenTTLSec
	}
	// kind lists replace the defaults when present, an empty list included
	if s.LocalOnly != nil {
		d.LocalOnly = s.LocalOnly
	}
	if s.Flatten != nil {
		d.Flatten = s.Flatten
	}
	if s.Untracked != nil {
		d.Untracked = s.Untracked
	}
	if s.HistoryMaxBytes != 0 {
		d.HistoryMaxBytes = s.HistoryMaxBytes
	}
	if s.HistoryMaxDepth != 0 {
		d.HistoryMaxDepth = s.HistoryMaxDepth
	}

	mergeString(&dst.Journal.Driver, strings.ToLower(src.Journal.Driver))
	mergeString(&dst.Journal.Path, src.Journal.Path)
	mergeString(&dst.Journal.DSN, src.Journal.DSN)
	if src.Journal.Buffer > 0 {
		dst.Journal.Buffer = src.Journal.Buffer
	}

	// logging
	mergeString(&dst.Logging.Level, strings.ToLower(src.Logging.Level))
	mergeString(&dst.Logging.Format, strings.ToLower(src.Logging.Format))
	dst.Logging.Source = src.Logging.Source
	mergeString(&dst.Logging.File, src.Logging.File)
}

func mergeString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func parseBool(v string) bool {
	lv := strings.ToLower(v)
	return lv == "1" || lv == "true" || lv == "on" || lv == "yes"
}

func applyEnvOverrides(cfg *AppConfig) {
	if v := strings.TrimSpace(os.Getenv(EnvTelemetryOptIn)); v != "" {
		cfg.General.TelemetryOptIn = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvTransport)); v != "" {
		cfg.Sync.Transport = strings.ToLower(v)
	}
	mergeString(&cfg.Sync.Listen, os.Getenv(EnvListen))
	mergeString(&cfg.Sync.PeerURL, os.Getenv(EnvPeerURL))
	mergeString(&cfg.Sync.RedisAddr, os.Getenv(EnvRedisAddr))
	mergeString(&cfg.Sync.RedisPrefix, os.Getenv(EnvRedisPrefix))
	if v := strings.TrimSpace(os.Getenv(EnvJournalDriver)); v != "" {
		cfg.Journal.Driver = strings.ToLower(v)
	}
	mergeString(&cfg.Journal.Path, os.Getenv(EnvJournalPath))
	mergeString(&cfg.Journal.DSN, os.Getenv(EnvJournalDSN))
	cfg.Journal.Buffer = envInt(EnvJournalBuffer, cfg.Journal.Buffer)
	// logging overrides
	if v := strings.TrimSpace(os.Getenv(EnvLogLevel)); v != "" {
		cfg.Logging.Level = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFormat)); v != "" {
		cfg.Logging.Format = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogSource)); v != "" {
		cfg.Logging.Source = parseBool(v)
	}
	if v := strings.TrimSpace(os.Getenv(EnvLogFile)); v != "" {
		cfg.Logging.File = v
	}
}

var envByKey = map[string]string{
	"general.telemetry_opt_in": EnvTelemetryOptIn,
	"sync.transport":           EnvTransport,
	"sync.listen":              EnvListen,
	"sync.peer_url":            EnvPeerURL,
	"sync.redis_addr":          EnvRedisAddr,
	"sync.redis_prefix":        EnvRedisPrefix,
	"journal.driver":           EnvJournalDriver,
	"journal.path":             EnvJournalPath,
	"journal.dsn":              EnvJournalDSN,
	"journal.buffer":           EnvJournalBuffer,
	"logging.level":            EnvLogLevel,
	"logging.format":           EnvLogFormat,
	"logging.source":           EnvLogSource,
	"logging.file":             EnvLogFile,
}

// EnvOverrideFor returns the env var name if the field is overridden by environment variables.
func EnvOverrideFor(key string) (string, bool) {
	name, ok := envByKey[key]
	if !ok || os.Getenv(name) == "" {
		return "", false
	}
	return name, true
}

// Overrides returns the config keys currently overridden by the environment, sorted.
func Overrides() []string {
	var keys []string
	for k := range envByKey {
		if _, ok := EnvOverrideFor(k); ok {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys
}

// Kinds converts configured kind names.
func Kinds(names []string) []domain.Kind {
	out := make([]domain.Kind, 0, len(names))
	for _, n := range names {
		if n = strings.ToUpper(strings.TrimSpace(n)); n != "" {
			out = append(out, domain.Kind(n))
		}
	}
	return out
}

// TokenTTL returns the websocket token lifetime.
func (s SyncConfig) TokenTTL() time.Duration {
	if s.TokenTTLSec <= 0 {
		return time.Duration(Defaults().Sync.TokenTTLSec) * time.Second
	}
	return time.Duration(s.TokenTTLSec) * time.Second
}

// JournalPath returns the sqlite journal path, defaulting next to the config file.
func (j JournalConfig) JournalPath() (string, error) {
	if p := strings.TrimSpace(j.Path); p != "" {
		return p, nil
	}
	cp, err := ConfigPath()
	if err != nil {
		return "", err
	}
	return filepath.Join(filepath.Dir(cp), "journal.sqlite"), nil
}

func envInt(name string, def int) int {
	if v := strings.TrimSpace(os.Getenv(name)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}
