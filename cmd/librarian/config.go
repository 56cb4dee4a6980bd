package main

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"librarian/internal/config"
	"librarian/internal/paths"
)

var (
	configFormat   string
	configShowDiff bool
	configForce    bool
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage Librarian configuration",
	Long:  "View and manage Librarian configuration stored in .librarian/config.json",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	Long: `Display the effective configuration after environment overrides.

Examples:
  librarian config show                 # Pretty-print current config
  librarian config show --format yaml   # As YAML
  librarian config show --diff          # Only show non-default values`,
	Run: runConfigShow,
}

var configEnvCmd = &cobra.Command{
	Use:   "env",
	Short: "List supported environment variables",
	Long:  "Display every LIBRARIAN_* environment variable override",
	Run:   runConfigEnv,
}

var configInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Write the default configuration to .librarian/config.json",
	Run:   runConfigInit,
}

func init() {
	configShowCmd.Flags().StringVar(&configFormat, "format", "human", "Output format (json, yaml, toml, human)")
	configShowCmd.Flags().BoolVar(&configShowDiff, "diff", false, "Only show non-default values")
	configInitCmd.Flags().BoolVar(&configForce, "force", false, "Overwrite an existing config file")

	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configEnvCmd)
	configCmd.AddCommand(configInitCmd)
	rootCmd.AddCommand(configCmd)
}

// ConfigShowResponse is the response format for config show
type ConfigShowResponse struct {
	ConfigPath   string                 `json:"configPath,omitempty" yaml:"configPath,omitempty" toml:"configPath,omitempty"`
	UsedDefaults bool                   `json:"usedDefaults" yaml:"usedDefaults" toml:"usedDefaults"`
	EnvOverrides []config.EnvOverride   `json:"envOverrides,omitempty" yaml:"envOverrides,omitempty" toml:"envOverrides,omitempty"`
	Config       map[string]interface{} `json:"config" yaml:"config" toml:"config"`
}

func runConfigShow(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()

	result, err := config.LoadConfigWithDetails(paths.DataDir(repoRoot))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if configFormat == "human" {
		outputConfigHuman(result, configShowDiff)
		return
	}

	output, err := renderConfig(result, configShowDiff, configFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error formatting output: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(output)
}

// renderConfig encodes the effective config as json, yaml or toml
func renderConfig(result *config.LoadResult, diffOnly bool, format string) (string, error) {
	configMap, err := configTree(result.Config)
	if err != nil {
		return "", err
	}
	if diffOnly {
		defaultMap, err := configTree(config.DefaultConfig())
		if err != nil {
			return "", err
		}
		configMap = computeDiff(configMap, defaultMap)
	}

	response := ConfigShowResponse{
		ConfigPath:   result.ConfigPath,
		UsedDefaults: result.UsedDefaults,
		EnvOverrides: result.EnvOverrides,
		Config:       configMap,
	}

	var data []byte
	switch format {
	case "json":
		data, err = json.MarshalIndent(response, "", "  ")
	case "yaml":
		data, err = yaml.Marshal(response)
	case "toml":
		data, err = toml.Marshal(response)
	default:
		return "", fmt.Errorf("unsupported format: %s", format)
	}
	if err != nil {
		return "", err
	}
	return strings.TrimRight(string(data), "\n"), nil
}

// configTree converts the config into nested maps keyed by json names,
// with whole numbers kept as integers.
func configTree(cfg *config.Config) (map[string]interface{}, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var tree map[string]interface{}
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, err
	}
	normalizeNumbers(tree)
	return tree, nil
}

func normalizeNumbers(node map[string]interface{}) {
	for k, v := range node {
		switch val := v.(type) {
		case float64:
			if val == math.Trunc(val) && math.Abs(val) < 1<<53 {
				node[k] = int64(val)
			}
		case map[string]interface{}:
			normalizeNumbers(val)
		}
	}
}

func outputConfigHuman(result *config.LoadResult, diffOnly bool) {
	fmt.Println("Librarian Configuration")
	fmt.Println(strings.Repeat("─", 50))

	if result.UsedDefaults {
		fmt.Println("Source: defaults (no config file found)")
	} else if result.ConfigPath != "" {
		fmt.Printf("Source: %s\n", result.ConfigPath)
	}

	if len(result.EnvOverrides) > 0 {
		fmt.Println("\nEnvironment Overrides:")
		for _, ov := range result.EnvOverrides {
			fmt.Printf("  %s=%s → %s\n", ov.EnvVar, ov.FromValue, ov.Path)
		}
	}
	fmt.Println()

	current, err := config.Flatten(result.Config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading config: %v\n", err)
		os.Exit(1)
	}
	defaults, _ := config.Flatten(config.DefaultConfig())

	lines := configLines(current, defaults, diffOnly)
	if diffOnly {
		fmt.Println("Modified Settings (differs from defaults):")
		fmt.Println()
		if len(lines) == 0 {
			fmt.Println("  (no modifications - using all defaults)")
		}
	}
	for _, line := range lines {
		fmt.Println(line)
	}

	fmt.Println()
	fmt.Println("Use 'librarian config show --format json' for machine-readable output")
	fmt.Println("Use 'librarian config env' to see supported environment variables")
}

// configLines renders dotted keys in order, marking values that differ
// from their defaults.
func configLines(current, defaults map[string]interface{}, diffOnly bool) []string {
	keys := make([]string, 0, len(current))
	for k := range current {
		if k == "repoRoot" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var lines []string
	for _, k := range keys {
		value, def := current[k], defaults[k]
		modified := !isEqual(value, def)
		if diffOnly && !modified {
			continue
		}
		line := fmt.Sprintf("  %s: %v", k, value)
		if modified {
			line += fmt.Sprintf(" (default: %v)", def)
		}
		lines = append(lines, line)
	}
	return lines
}

func runConfigEnv(cmd *cobra.Command, args []string) {
	fmt.Println("Supported Librarian Environment Variables")
	fmt.Println(strings.Repeat("─", 50))
	fmt.Println()

	fmt.Printf("  %-46s %s\n", paths.DataDirEnvVar, "Data directory (default: <repo>/.librarian)")
	for _, v := range config.SupportedEnvVars() {
		fmt.Printf("  %s\n", v)
	}

	fmt.Println()
	fmt.Println("Example usage:")
	fmt.Println("  LIBRARIAN_CALIBRATION_MINSAMPLES=50 librarian adjust behavior --signal 0.8")
	fmt.Println("  LIBRARIAN_LOGGING_LEVEL=debug librarian calibrate")
}

func runConfigInit(cmd *cobra.Command, args []string) {
	repoRoot := mustGetRepoRoot()
	dataDir := paths.DataDir(repoRoot)

	if _, err := os.Stat(paths.ConfigPath(repoRoot)); err == nil && !configForce {
		fmt.Fprintf(os.Stderr, "Config already exists at %s (use --force to overwrite)\n", paths.ConfigPath(repoRoot))
		os.Exit(1)
	}

	if err := config.DefaultConfig().Save(dataDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Wrote %s\n", paths.ConfigPath(repoRoot))
}

func isEqual(a, b interface{}) bool {
	return fmt.Sprintf("%v", a) == fmt.Sprintf("%v", b)
}

func computeDiff(current, defaults map[string]interface{}) map[string]interface{} {
	diff := make(map[string]interface{})
	for key, currentVal := range current {
		defaultVal, exists := defaults[key]
		if !exists {
			diff[key] = currentVal
			continue
		}

		currentMap, currentIsMap := currentVal.(map[string]interface{})
		defaultMap, defaultIsMap := defaultVal.(map[string]interface{})
		if currentIsMap && defaultIsMap {
			if nested := computeDiff(currentMap, defaultMap); len(nested) > 0 {
				diff[key] = nested
			}
		} else if !isEqual(currentVal, defaultVal) {
			diff[key] = currentVal
		}
	}
	return diff
}
