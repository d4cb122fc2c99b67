package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/goccy/go-yaml"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:          "txbench",
	Short:        "Transactional benchmark driver",
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		level, err := log.ParseLevel(viper.GetString("log_level"))
		if err != nil {
			return err
		}
		log.SetLevel(level)
		return nil
	},
}

var (
	workdir    = "." // directory to search for main.{yaml,yml,toml}
	mainConfig = ""
)

var configFileNames = []string{"main.yaml", "main.yml", "main.toml"}

func init() {
	viper.SetEnvPrefix("TXBENCH")
	viper.AutomaticEnv()

	rootCmd.PersistentFlags().StringVarP(&workdir, "workdir", "w", ".", "Root directory to load configuration files from")
	rootCmd.PersistentFlags().StringVarP(&mainConfig, "main", "m", "", "Path to the main configuration file (defaults to main.yaml, main.yml, or main.toml)")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level")
	viper.BindPFlag("log_level", rootCmd.PersistentFlags().Lookup("log-level"))
}

func Execute() error {
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(execCmd())
	rootCmd.AddCommand(configCmd())
	return rootCmd.Execute()
}

func configFilePath() string {
	if mainConfig != "" {
		return mainConfig
	}

	rootDir := workdir
	if rootDir == "" {
		rootDir = "."
	}
	for _, file := range configFileNames {
		fullPath := filepath.Join(rootDir, file)
		if _, err := os.Stat(fullPath); err == nil {
			return fullPath
		}
	}
	return ""
}

func readConfigFile[T any](selector string) (cfg T, err error) {
	return loadConfig[T](configFilePath(), selector)
}

// loadConfig reads the document at selector (a dot separated path) from a
// YAML or TOML file. The document is converted through JSON, so the target
// type only needs JSON tags. An empty path or "-" reads YAML from stdin.
func loadConfig[T any](path, selector string) (cfg T, err error) {
	var raw any
	if strings.HasSuffix(path, ".toml") {
		raw, err = readTomlConfig(path, selector)
	} else {
		raw, err = readYamlConfig(path, selector)
	}
	if err != nil {
		return cfg, err
	}
	if raw == nil {
		return cfg, fmt.Errorf("no configuration found at %q", selector)
	}

	tmp, err := json.Marshal(raw)
	if err != nil {
		return cfg, fmt.Errorf("convert config: %w", err)
	}
	dec := json.NewDecoder(strings.NewReader(string(tmp)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config %q: %w", selector, err)
	}
	return cfg, nil
}

func readYamlConfig(path, selector string) (raw any, err error) {
	var in *os.File
	if path == "" || path == "-" {
		in = os.Stdin
	} else {
		in, err = os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer in.Close()
	}

	if selector != "" {
		var ypath *yaml.Path
		ypath, err = yaml.PathString(fmt.Sprintf("$.%s", selector))
		if err != nil {
			return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
		}
		err = ypath.Read(in, &raw)
	} else {
		err = yaml.NewDecoder(in).Decode(&raw)
	}

	if err != nil {
		return nil, fmt.Errorf("decode yaml config file: %w", err)
	}
	return raw, nil
}

var errNoSelection = errors.New("selector not found")

func readTomlConfig(path, selector string) (any, error) {
	var doc map[string]any
	if _, err := toml.DecodeFile(path, &doc); err != nil {
		return nil, fmt.Errorf("decode toml config file: %w", err)
	}
	if selector == "" {
		return doc, nil
	}

	var cur any = doc
	for _, key := range strings.Split(selector, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q", errNoSelection, selector)
		}
		if cur, ok = m[key]; !ok {
			return nil, fmt.Errorf("%w: %q", errNoSelection, selector)
		}
	}
	return cur, nil
}
