package compiler

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yunistlt/OKKRiteilCRM-sub002/internal/ir"
)

func TestLoadRules(t *testing.T) {
	result, errs := LoadRules(filepath.Join("testdata", "rules"), LoadModeCollectAll)
	require.Empty(t, errs)

	assert.Equal(t, 2, result.FileCount)
	require.Len(t, result.Rules, 3)
	assert.Equal(t, "approved-silently", result.Rules[0].Code)
	assert.Equal(t, "no_greeting", result.Rules[1].Code)
	assert.Equal(t, "stuck_new", result.Rules[2].Code)

	assert.False(t, result.Rules[0].Active)
	assert.Equal(t, ir.EntityCall, result.Rules[1].EntityType)
	assert.Equal(t, "semantic_check", result.Rules[1].Logic.Conditions[0].Block)
}

func TestLoadRules_CollectAll(t *testing.T) {
	_, errs := LoadRules(filepath.Join("testdata", "broken"), LoadModeCollectAll)
	require.Len(t, errs, 2)
	for _, err := range errs {
		var le *LoadError
		require.ErrorAs(t, err, &le)
		assert.Equal(t, ErrCodeInvalidRule, le.Code)
	}
	assert.Contains(t, errs[0].Error(), "rule.no_entity")
	assert.Contains(t, errs[1].Error(), "rule.no_logic")
}

func TestLoadRules_FailFast(t *testing.T) {
	_, errs := LoadRules(filepath.Join("testdata", "broken"), LoadModeFailFast)
	assert.Len(t, errs, 1)
}

func TestLoadRules_MissingDir(t *testing.T) {
	_, errs := LoadRules(filepath.Join("testdata", "nope"), LoadModeCollectAll)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNotFound, le.Code)
}

func TestLoadRules_NoFiles(t *testing.T) {
	_, errs := LoadRules(t.TempDir(), LoadModeCollectAll)
	require.Len(t, errs, 1)
	var le *LoadError
	require.ErrorAs(t, errs[0], &le)
	assert.Equal(t, ErrCodeNoFiles, le.Code)
}

func TestLoadSource(t *testing.T) {
	src := []byte(`
rule: r1: {
	entity: "order"
	logic: trigger: {block: "status_change", params: {status: "new"}}
}
`)
	result, errs := LoadSource("inline.cue", src, LoadModeFailFast)
	require.Empty(t, errs)
	require.Len(t, result.Rules, 1)
	assert.Equal(t, "r1", result.Rules[0].Code)

	_, errs = LoadSource("empty.cue", []byte(`other: 1`), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeNoRules)

	_, errs = LoadSource("bad.cue", []byte(`rule: {`), LoadModeFailFast)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), ErrCodeBuildFailed)
}
