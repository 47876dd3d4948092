package main

import (
	"flag"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/Noofbiz/mnistcluster/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func configJSONKeys() map[string]bool {
	keys := make(map[string]bool)
	typ := reflect.TypeOf(pipeline.Config{})
	for i := range typ.NumField() {
		name, _, _ := strings.Cut(typ.Field(i).Tag.Get("json"), ",")
		if name != "" && name != "-" {
			keys[name] = true
		}
	}
	return keys
}

func TestFlagKeysMatchConfig(t *testing.T) {
	keys := configJSONKeys()
	for name, key := range flagKeys {
		assert.NotNil(t, flag.Lookup(name), "flag -%s is not defined", name)
		assert.True(t, keys[key], "flag -%s maps to unknown config key %q", name, key)
	}
}

// setFlag sets a command line flag for the duration of the test.
func setFlag(t *testing.T, name, value string) {
	t.Helper()
	f := flag.Lookup(name)
	require.NotNil(t, f)
	old := f.Value.String()
	require.NoError(t, flag.Set(name, value))
	t.Cleanup(func() { _ = f.Value.Set(old) })
}

func TestConfigFromFlagsExplicitFlagWins(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"batch_size": 512, "pretrain_epochs": 7, "output_dir": "/tmp/json-out"}`), 0644))

	setFlag(t, "batch-size", "64")
	setFlag(t, "out", "/tmp/flag-out")
	setFlag(t, "config", path)

	cfg := configFromFlags()
	assert.Equal(t, 64, cfg.BatchSize)
	assert.Equal(t, "/tmp/flag-out", cfg.OutputDir)
	assert.Equal(t, 7, cfg.PretrainEpochs)
	assert.Equal(t, *flagFinetuneEpochs, cfg.FinetuneEpochs)
}
