// File: internal/config/config_test.go
package config

import (
	"bytes"
	"path/filepath"
	"testing"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// -- Constructor and Defaults Tests --

func TestNewDefaultConfig(t *testing.T) {
	cfg := NewDefaultConfig()

	// Verify a few key defaults to ensure the mechanism works.
	assert.Equal(t, "info", cfg.Logger().Level)
	assert.Equal(t, "doublex", cfg.Logger().ServiceName)
	assert.True(t, cfg.Analysis().Chrome)
	assert.Equal(t, "permissions", cfg.Analysis().APIs)
	assert.Equal(t, 600*time.Second, cfg.Analysis().LinkTimeout)
	assert.Equal(t, 10*time.Second, cfg.Analysis().ProvenanceTimeout)
	assert.Equal(t, 2000, cfg.Analysis().MaxDepth)
	assert.Equal(t, 50*time.Millisecond, cfg.Analysis().FoldTimeout)
	assert.Equal(t, "json", cfg.Output().Format)
	assert.Equal(t, 4, cfg.Batch().Concurrency)
	assert.Empty(t, cfg.Database().URL)
	assert.NoError(t, cfg.Validate())
}

// -- Validation Logic Tests --

func TestConfigValidation(t *testing.T) {
	t.Run("Core Validation", func(t *testing.T) {
		cfg := NewDefaultConfig()
		require.NoError(t, cfg.Validate())

		invalidFormat := *cfg
		invalidFormat.OutputCfg.Format = "xml"
		err := invalidFormat.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "output.format must be one of json, sarif, both")

		invalidBatch := *cfg
		invalidBatch.BatchCfg.Concurrency = 0
		err = invalidBatch.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "batch.concurrency must be a positive integer")
	})

	t.Run("Analysis Validation", func(t *testing.T) {
		valid := NewDefaultConfig().Analysis()
		assert.NoError(t, valid.Validate())

		noAPIs := valid
		noAPIs.APIs = ""
		assert.ErrorContains(t, noAPIs.Validate(), "apis must be")

		noTimeout := valid
		noTimeout.LinkTimeout = 0
		assert.ErrorContains(t, noTimeout.Validate(), "must be positive durations")

		noDepth := valid
		noDepth.MaxDepth = -1
		assert.ErrorContains(t, noDepth.Validate(), "max_depth must be greater than 0")

		noFold := valid
		noFold.FoldTimeout = 0
		assert.ErrorContains(t, noFold.Validate(), "fold_timeout")
	})
}

func TestSetters(t *testing.T) {
	cfg := NewDefaultConfig()
	var iface Interface = cfg

	iface.SetAnalysisChrome(false)
	iface.SetAnalysisAPIs("all")
	iface.SetOutputFormat("sarif")
	iface.SetBatchConcurrency(9)

	assert.False(t, cfg.Analysis().Chrome)
	assert.Equal(t, "all", cfg.Analysis().APIs)
	assert.Equal(t, "sarif", cfg.Output().Format)
	assert.Equal(t, 9, cfg.Batch().Concurrency)
}

// -- Factory Function Tests --

func TestNewConfigFromViper(t *testing.T) {
	t.Run("Successful Load from YAML", func(t *testing.T) {
		yamlBytes := []byte(`
analysis:
  chrome: false
  apis: all
  link_timeout: 30s
output:
  format: both
batch:
  concurrency: 2
`)
		v := viper.New()
		SetDefaults(v)
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBuffer(yamlBytes)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.False(t, cfg.Analysis().Chrome)
		assert.Equal(t, "all", cfg.Analysis().APIs)
		assert.Equal(t, 30*time.Second, cfg.Analysis().LinkTimeout)
		assert.Equal(t, "both", cfg.Output().Format)
		assert.Equal(t, 2, cfg.Batch().Concurrency)
		// Check a default value was also loaded
		assert.Equal(t, 10*time.Second, cfg.Analysis().ProvenanceTimeout)
	})

	t.Run("Validation Failure", func(t *testing.T) {
		v := viper.New()
		SetDefaults(v)
		v.Set("analysis.max_depth", 0)

		cfg, err := NewConfigFromViper(v)
		assert.Error(t, err)
		assert.Nil(t, cfg)
		assert.Contains(t, err.Error(), "invalid configuration")
		assert.Contains(t, err.Error(), "max_depth must be greater than 0")
	})

	t.Run("Environment Variable Binding", func(t *testing.T) {
		t.Setenv("DOUBLEX_DATABASE_URL", "postgres://envvar/db")
		t.Setenv("DOUBLEX_ANALYSIS_APIS", "all")

		v := NewViper()
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(`
database:
  url: "postgres://configfile/db"
`)))

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, "postgres://envvar/db", cfg.Database().URL)
		assert.Equal(t, "all", cfg.Analysis().APIs)
	})

	t.Run("Home Directory Expansion", func(t *testing.T) {
		home, err := homedir.Dir()
		if err != nil {
			t.Skip("no home directory available")
		}
		v := viper.New()
		SetDefaults(v)
		v.Set("analysis.apis", "~/apis.yaml")
		v.Set("logger.log_file", "~/logs/doublex.log")

		cfg, err := NewConfigFromViper(v)
		require.NoError(t, err)
		assert.Equal(t, filepath.Join(home, "apis.yaml"), cfg.Analysis().APIs)
		assert.Equal(t, filepath.Join(home, "logs", "doublex.log"), cfg.Logger().LogFile)
	})
}

func TestExpandPath(t *testing.T) {
	p, err := ExpandPath("")
	require.NoError(t, err)
	assert.Empty(t, p)

	p, err = ExpandPath("/abs/path")
	require.NoError(t, err)
	assert.Equal(t, "/abs/path", p)
}
