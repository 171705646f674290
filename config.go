package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIBase = "http://localhost:8001"
	// A full council turn fans out to every member model and the chairman.
	defaultTimeoutSec = 600
)

type ServerConfig struct {
	ApiBase  *string           `yaml:"api_base,omitempty"`
	Timeout  *int              `yaml:"timeout,omitempty"` // Seconds
	Markdown *bool             `yaml:"markdown,omitempty"`
	Headers  map[string]string `yaml:"headers,omitempty"`
	Extend   *string           `yaml:"extend,omitempty"`
	Aliases  []string          `yaml:"aliases,omitempty"`
}

type ConfigFile struct {
	Default  string                  `yaml:"default,omitempty"`
	Timeout  *int                    `yaml:"timeout,omitempty"` // Global default in seconds
	Markdown *bool                   `yaml:"markdown,omitempty"`
	Servers  map[string]ServerConfig `yaml:"servers,omitempty"`
}

// councilHome is where config, the session token and the local archive live.
func councilHome() string {
	if dir := os.Getenv("LLM_COUNCIL_HOME"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".llmcouncil"
	}
	return filepath.Join(home, ".llmcouncil")
}

func configPath() string { return filepath.Join(councilHome(), "config.yaml") }

// loadConfig reads the YAML config. A missing file is an empty config.
func loadConfig(path string, logger *zap.Logger) (*ConfigFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &ConfigFile{}, nil
		}
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var cfg ConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	expandAliases(&cfg, logger)
	return &cfg, nil
}

// expandAliases turns every alias into a profile extending its owner.
func expandAliases(cfg *ConfigFile, logger *zap.Logger) {
	if cfg.Servers == nil {
		return
	}

	names := make([]string, 0, len(cfg.Servers))
	for name := range cfg.Servers {
		names = append(names, name)
	}
	sort.Strings(names)

	aliasMap := make(map[string]ServerConfig)
	for _, name := range names {
		for _, alias := range cfg.Servers[name].Aliases {
			if _, exists := cfg.Servers[alias]; exists {
				logger.Warn("alias clashes with an existing server, ignoring",
					zap.String("alias", alias), zap.String("server", name))
				continue
			}
			if _, exists := aliasMap[alias]; exists {
				logger.Warn("duplicate alias, ignoring",
					zap.String("alias", alias), zap.String("server", name))
				continue
			}
			parentName := name
			aliasMap[alias] = ServerConfig{Extend: &parentName}
		}
	}
	for k, v := range aliasMap {
		cfg.Servers[k] = v
	}
}

func mergeHeaders(base, override map[string]string) map[string]string {
	if len(base) == 0 && len(override) == 0 {
		return nil
	}
	result := make(map[string]string, len(base)+len(override))
	for k, v := range base {
		result[k] = v
	}
	for k, v := range override {
		result[k] = v
	}
	return result
}

func resolveServerConfig(cfg *ConfigFile, name string) (ServerConfig, error) {
	if cfg == nil || len(cfg.Servers) == 0 || name == "" {
		return ServerConfig{}, nil
	}
	return resolveServerConfigRec(cfg, name, map[string]bool{})
}

func resolveServerConfigRec(cfg *ConfigFile, name string, visited map[string]bool) (ServerConfig, error) {
	if visited[name] {
		return ServerConfig{}, fmt.Errorf("circular dependency detected for server: %s", name)
	}
	visited[name] = true

	serverCfg, ok := cfg.Servers[name]
	if !ok {
		return ServerConfig{}, nil
	}
	if serverCfg.Extend == nil {
		return serverCfg, nil
	}

	merged, err := resolveServerConfigRec(cfg, *serverCfg.Extend, visited)
	if err != nil {
		return ServerConfig{}, err
	}
	if serverCfg.ApiBase != nil {
		merged.ApiBase = serverCfg.ApiBase
	}
	if serverCfg.Timeout != nil {
		merged.Timeout = serverCfg.Timeout
	}
	if serverCfg.Markdown != nil {
		merged.Markdown = serverCfg.Markdown
	}
	merged.Headers = mergeHeaders(merged.Headers, serverCfg.Headers)
	merged.Extend = serverCfg.Extend
	merged.Aliases = serverCfg.Aliases
	return merged, nil
}

type RunConfig struct {
	Server   string
	ApiBase  string
	Timeout  time.Duration
	Headers  map[string]string
	Markdown bool
	Verbose  bool
	Home     string
}

func getRunConfig(cmd *cobra.Command, cfg *ConfigFile) (RunConfig, error) {
	flags := cmd.Flags()
	server, _ := flags.GetString("server")
	apiBase, _ := flags.GetString("api-base")
	timeoutSec, _ := flags.GetInt("timeout")
	noMarkdown, _ := flags.GetBool("no-markdown")
	verbose, _ := flags.GetBool("verbose")

	if server == "" {
		server = cfg.Default
	}
	if server != "" && flags.Changed("server") {
		if _, ok := cfg.Servers[server]; !ok {
			return RunConfig{}, fmt.Errorf("unknown server %q in %s", server, configPath())
		}
	}

	resolved, err := resolveServerConfig(cfg, server)
	if err != nil {
		return RunConfig{}, err
	}

	finalTimeout := defaultTimeoutSec
	if cfg.Timeout != nil {
		finalTimeout = *cfg.Timeout
	}
	if resolved.Timeout != nil {
		finalTimeout = *resolved.Timeout
	}
	if flags.Changed("timeout") {
		finalTimeout = timeoutSec
	}

	switch {
	case flags.Changed("api-base"):
	case os.Getenv("LLM_COUNCIL_API_BASE") != "":
		apiBase = os.Getenv("LLM_COUNCIL_API_BASE")
	case resolved.ApiBase != nil:
		apiBase = *resolved.ApiBase
	case apiBase == "":
		apiBase = defaultAPIBase
	}

	markdownOn := true
	if cfg.Markdown != nil {
		markdownOn = *cfg.Markdown
	}
	if resolved.Markdown != nil {
		markdownOn = *resolved.Markdown
	}
	if noMarkdown {
		markdownOn = false
	}

	return RunConfig{
		Server:   server,
		ApiBase:  strings.TrimRight(apiBase, "/"),
		Timeout:  time.Duration(finalTimeout) * time.Second,
		Headers:  resolved.Headers,
		Markdown: markdownOn,
		Verbose:  verbose,
		Home:     councilHome(),
	}, nil
}
