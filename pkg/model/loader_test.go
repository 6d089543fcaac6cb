package model

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/kunal/embedserve/pkg/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfigJSON(t *testing.T, dir string, fc fileConfig) {
	t.Helper()
	data, err := json.Marshal(fc)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), data, 0o644))
}

func TestLoadSimulationSucceedsWithoutConfigFile(t *testing.T) {
	dir := t.TempDir()

	cap, info, err := Load(context.Background(), dir, Options{
		ExecutorType: "simulation",
		EmbedDim:     8,
		DefaultBatch: 4,
		DefaultWait:  time.Millisecond,
	})
	require.NoError(t, err)
	assert.NotNil(t, cap)
	assert.Equal(t, "simulated-clip", info.Name)
	assert.Equal(t, 4, info.BatchSize)
}

func TestLoadAppliesConfigJSONOverrides(t *testing.T) {
	dir := t.TempDir()
	writeConfigJSON(t, dir, fileConfig{
		Name:       "my-clip-variant",
		Version:    "v2",
		BatchSize:  32,
		BatchWaitS: 0.01,
		Metadata:   map[string]string{"owner": "search-team"},
	})

	_, info, err := Load(context.Background(), dir, Options{
		ExecutorType: "simulation",
		EmbedDim:     8,
		DefaultBatch: 4,
		DefaultWait:  time.Millisecond,
	})
	require.NoError(t, err)
	assert.Equal(t, "my-clip-variant", info.Name)
	assert.Equal(t, "v2", info.Version)
	assert.Equal(t, 32, info.BatchSize)
	assert.Equal(t, 10*time.Millisecond, info.BatchWait)
	assert.Equal(t, "search-team", info.Metadata["owner"])
}

func TestLoadRejectsMissingDirectory(t *testing.T) {
	_, _, err := Load(context.Background(), "/no/such/model/dir/at/all", Options{ExecutorType: "simulation"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrModelNotFound)
}

func TestLoadRejectsMalformedConfigJSON(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte("{not json"), 0o644))

	_, _, err := Load(context.Background(), dir, Options{ExecutorType: "simulation"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigurationError)
}

func TestLoadRejectsConfigJSONMissingName(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.json"), []byte(`{"version":"v1"}`), 0o644))

	_, _, err := Load(context.Background(), dir, Options{ExecutorType: "simulation"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigurationError)
}

func TestLoadRejectsUnknownExecutorType(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(context.Background(), dir, Options{ExecutorType: "tensorflow-serving"})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigurationError)
}

func TestLoadWithoutONNXTagFailsConfigurably(t *testing.T) {
	dir := t.TempDir()
	_, _, err := Load(context.Background(), dir, Options{ExecutorType: "onnx", EmbedDim: 8})
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrConfigurationError)
}

func TestLoadDefaultsVariantToDirectoryBaseName(t *testing.T) {
	dir := t.TempDir()
	_, info, err := Load(context.Background(), dir, Options{ExecutorType: "simulation", EmbedDim: 8})
	require.NoError(t, err)
	assert.Equal(t, filepath.Base(dir), info.Variant)
}

func TestLoadAppliesConfigJSONVariant(t *testing.T) {
	dir := t.TempDir()
	writeConfigJSON(t, dir, fileConfig{Name: "clip", Variant: "resnet50-backbone"})

	_, info, err := Load(context.Background(), dir, Options{ExecutorType: "simulation", EmbedDim: 8})
	require.NoError(t, err)
	assert.Equal(t, "resnet50-backbone", info.Variant)
}

// TestRegistryDistinguishesSameNameByPath covers spec.md §9's open
// question (two model implementations sharing a declared name, resolved
// in SPEC_FULL.md §D.2 by keying the registry on path): two directories
// that both declare name "clip" must load as two independent entries,
// not collide or overwrite one another.
func TestRegistryDistinguishesSameNameByPath(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeConfigJSON(t, dirA, fileConfig{Name: "clip", BatchSize: 4})
	writeConfigJSON(t, dirB, fileConfig{Name: "clip", BatchSize: 64})

	reg := NewRegistry()
	capA, infoA, err := reg.Load(context.Background(), dirA, Options{ExecutorType: "simulation", EmbedDim: 8, DefaultBatch: 1})
	require.NoError(t, err)
	capB, infoB, err := reg.Load(context.Background(), dirB, Options{ExecutorType: "simulation", EmbedDim: 8, DefaultBatch: 1})
	require.NoError(t, err)

	assert.Equal(t, "clip", infoA.Name)
	assert.Equal(t, "clip", infoB.Name)
	assert.Equal(t, 4, infoA.BatchSize)
	assert.Equal(t, 64, infoB.BatchSize)
	assert.NotSame(t, capA, capB)
}

func TestRegistryReusesCapabilityForRepeatedPath(t *testing.T) {
	dir := t.TempDir()
	reg := NewRegistry()

	cap1, _, err := reg.Load(context.Background(), dir, Options{ExecutorType: "simulation", EmbedDim: 8, DefaultBatch: 1})
	require.NoError(t, err)
	cap2, _, err := reg.Load(context.Background(), dir, Options{ExecutorType: "simulation", EmbedDim: 8, DefaultBatch: 1})
	require.NoError(t, err)

	assert.Same(t, cap1, cap2)
}
