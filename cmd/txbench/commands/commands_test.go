package commands

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txbench/api/benchdriverapi"
	"txbench/internal/worker"
	brun "txbench/pkg/client"
)

const yamlConfig = `
benchmarks:
  default:
    name: local
    benchmark: as2
    endpoints: ["http://localhost:8080"]
    config:
      terminals: 4
local:
  sim:
    driver: sim
    config:
      terminals: 2
      count: 3
`

const tomlConfig = `
[benchmarks.default]
name = "local"
benchmark = "as2"
endpoints = ["http://localhost:8080"]

[benchmarks.default.config]
terminals = 4
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func useMainConfig(t *testing.T, path string) {
	t.Helper()
	old := mainConfig
	mainConfig = path
	t.Cleanup(func() { mainConfig = old })
}

func TestLoadConfig(t *testing.T) {
	for name, path := range map[string]string{
		"yaml": writeFile(t, "main.yaml", yamlConfig),
		"toml": writeFile(t, "main.toml", tomlConfig),
	} {
		t.Run(name, func(t *testing.T) {
			cfg, err := loadConfig[brun.ExecConfig](path, "benchmarks.default")
			require.NoError(t, err)
			assert.Equal(t, "local", cfg.Name)
			assert.Equal(t, "as2", cfg.Benchmark)
			assert.Equal(t, []string{"http://localhost:8080"}, cfg.Endpoints)
			assert.EqualValues(t, 4, cfg.Config["terminals"])
		})
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tomlPath := writeFile(t, "main.toml", tomlConfig)
	_, err := loadConfig[brun.ExecConfig](tomlPath, "benchmarks.missing")
	require.ErrorIs(t, err, errNoSelection)

	yamlPath := writeFile(t, "main.yaml", yamlConfig)
	_, err = loadConfig[brun.ExecConfig](yamlPath, "benchmarks.missing")
	require.Error(t, err)

	// local.sim has fields unknown to ExecConfig
	_, err = loadConfig[brun.ExecConfig](yamlPath, "local.sim")
	require.Error(t, err)

	_, err = loadConfig[brun.ExecConfig](filepath.Join(t.TempDir(), "none.yaml"), "benchmarks.default")
	require.Error(t, err)
}

func TestConfigFilePath(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.toml"), []byte(tomlConfig), 0o644))

	oldWorkdir := workdir
	workdir = dir
	t.Cleanup(func() { workdir = oldWorkdir })
	useMainConfig(t, "")

	assert.Equal(t, filepath.Join(dir, "main.toml"), configFilePath())

	useMainConfig(t, "/some/where.yaml")
	assert.Equal(t, "/some/where.yaml", configFilePath())
}

func TestRunLocal(t *testing.T) {
	useMainConfig(t, writeFile(t, "main.yaml", yamlConfig))

	cfg, err := readLocalConfig([]string{"sim"})
	require.NoError(t, err)
	assert.Equal(t, worker.DriverSim, cfg.Driver)

	outDir := t.TempDir()
	cfg.Config.OutputDir = &outDir

	summary, err := runLocal(context.Background(), cfg, true, true)
	require.NoError(t, err)
	assert.Equal(t, 6, summary.Summary.Total)
	require.NotNil(t, summary.Files)
	assert.FileExists(t, summary.Files.Summary)
}

func TestRunLocalInvalidConfig(t *testing.T) {
	cfg := LocalConfig{Driver: worker.DriverSim}
	cfg.Config.Terminals = new(int)

	_, err := runLocal(context.Background(), cfg, false, false)
	require.Error(t, err)
}

func TestExecCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(benchdriverapi.StatusIdle)
	}))
	defer srv.Close()

	useMainConfig(t, writeFile(t, "main.yaml", `
benchmarks:
  remote:
    benchmark: as2
    endpoints: ["`+srv.URL+`"]
`))

	out := captureStdout(t, func() {
		require.NoError(t, execCheck().RunE(execCheck(), []string{"remote"}))
	})
	assert.Equal(t, "1 workers are healthy and ready\n", out)

	err := execCheck().RunE(execCheck(), []string{"missing"})
	require.Error(t, err)
}

func TestReportMetric(t *testing.T) {
	mf := &dto.MetricFamily{
		Name: ptr("as2_txn_total"),
		Type: dto.MetricType_COUNTER.Enum(),
		Metric: []*dto.Metric{{
			Label: []*dto.LabelPair{
				{Name: ptr("type"), Value: ptr("READ_ITEM")},
				{Name: ptr("outcome"), Value: ptr("committed")},
			},
			Counter: &dto.Counter{Value: ptr(7.0)},
		}},
	}

	out := captureStdout(t, func() { reportMetric(mf, "\t") })
	assert.Equal(t, "\tas2_txn_total{type: READ_ITEM, outcome: committed}: 7\n", out)
}

func captureStdout(t *testing.T, fn func()) string {
	t.Helper()
	r, w, err := os.Pipe()
	require.NoError(t, err)

	old := os.Stdout
	os.Stdout = w
	defer func() { os.Stdout = old }()

	done := make(chan string)
	go func() {
		b, _ := io.ReadAll(r)
		done <- string(b)
	}()

	fn()
	w.Close()
	return <-done
}

func ptr[T any](v T) *T {
	return &v
}
