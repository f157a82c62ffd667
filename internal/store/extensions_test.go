package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeExtensionsMovesUnclassifiedFields(t *testing.T) {
	data := Document{
		"local_standards": map[string]any{
			"code_style":   "gofmt",
			"custom_gate":  "manual-qa",
			"max_fan_out":  3,
		},
	}

	out := NormalizeExtensions(data, knownProjectFields)
	std := out["local_standards"].(map[string]any)

	assert.Equal(t, "gofmt", std["code_style"])
	assert.NotContains(t, std, "custom_gate")

	ext, err := Extension(out, "custom_gate")
	require.NoError(t, err)
	assert.Equal(t, "string", ext.Kind)
	assert.Equal(t, "manual-qa", ext.Value)

	ext, err = Extension(out, "max_fan_out")
	require.NoError(t, err)
	assert.Equal(t, "number", ext.Kind)
}

func TestNormalizeExtensionsNoStandardsBlock(t *testing.T) {
	data := Document{"team_preferences": map[string]any{"standup": "async"}}
	out := NormalizeExtensions(data, knownProjectFields)
	assert.Equal(t, data, out)
}

func TestExtensionMissing(t *testing.T) {
	_, err := Extension(Document{}, "nope")
	require.Error(t, err)
}
