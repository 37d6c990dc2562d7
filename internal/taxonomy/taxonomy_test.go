package taxonomy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuiltinFlood(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("flood")
	require.NoError(t, err)

	assert.Equal(t, "flood", tax.Name())
	assert.Contains(t, tax.Labels(), "法律法规")
	assert.Contains(t, tax.Labels(), "河流湖泊")
	assert.True(t, tax.Has("政府机构"))
	assert.False(t, tax.Has("火源类型"))

	cat, err := tax.CategoryOf("法律法规")
	require.NoError(t, err)
	assert.Equal(t, "法规依据", cat)

	pats, err := tax.PatternsOf("法律法规")
	require.NoError(t, err)
	assert.NotEmpty(t, pats)
}

func TestBuiltinForestFire(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("forestfire")
	require.NoError(t, err)
	assert.True(t, tax.Has("火源类型"))
	assert.False(t, tax.Has("河流湖泊"))
}

func TestBuiltinUnknown(t *testing.T) {
	t.Parallel()

	_, err := Builtin("volcano")
	require.Error(t, err)

	var le *LoadError
	require.ErrorAs(t, err, &le)
	assert.True(t, errors.Is(err, ErrUnknownTaxonomy))
}

func TestBuiltinNames(t *testing.T) {
	t.Parallel()
	assert.Equal(t, []string{"flood", "forestfire"}, BuiltinNames())
}

func TestUnknownLabelQueries(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("flood")
	require.NoError(t, err)

	_, err = tax.CategoryOf("不存在")
	var ule *UnknownLabelError
	require.ErrorAs(t, err, &ule)
	assert.Equal(t, "不存在", ule.Label)
	assert.Equal(t, "flood", ule.Taxonomy)

	_, err = tax.PatternsOf("不存在")
	require.ErrorAs(t, err, &ule)

	_, err = tax.Entity("不存在")
	require.ErrorAs(t, err, &ule)
}

func TestMatches(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("flood")
	require.NoError(t, err)

	assert.True(t, tax.Matches("法律法规", "《中华人民共和国防洪法》"))
	assert.True(t, tax.Matches("河流湖泊", "洞庭湖"))
	assert.False(t, tax.Matches("河流湖泊", "国务院"))
	assert.False(t, tax.Matches("不存在", "洞庭湖"))
}

func TestParse_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"missing name", "entities:\n  - label: A\n", "missing name"},
		{"no entities", "name: x\n", "no entities"},
		{"empty label", "name: x\nentities:\n  - label: ''\n", "empty label"},
		{"duplicate", "name: x\nentities:\n  - label: A\n  - label: A\n", "duplicate label"},
		{"bad pattern", "name: x\nentities:\n  - label: A\n    patterns: ['(']\n", "compile pattern"},
		{"bad yaml", "name: [", "decode yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("inline", []byte(tt.yaml))
			require.Error(t, err)
			var le *LoadError
			require.ErrorAs(t, err, &le)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestEntityReturnsCopy(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("flood")
	require.NoError(t, err)

	e, err := tax.Entity("法律法规")
	require.NoError(t, err)
	e.Patterns[0] = "mutated"
	e.Examples = nil

	again, err := tax.Entity("法律法规")
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", again.Patterns[0])
	assert.NotEmpty(t, again.Examples)
}

func TestLoadFileAndCatalog(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "custom.yaml")
	require.NoError(t, os.WriteFile(p, []byte("name: custom\nentities:\n  - label: 条款\n    category: 结构\n"), 0o644))

	cat, err := LoadCatalog(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", "flood", "forestfire"}, cat.Names())

	tax, err := cat.Get("custom")
	require.NoError(t, err)
	assert.Equal(t, []string{"条款"}, tax.Labels())

	_, err = cat.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownTaxonomy)

	_, err = LoadCatalog(filepath.Join(dir, "nope.yaml"))
	var le *LoadError
	assert.ErrorAs(t, err, &le)
}

func TestCategories(t *testing.T) {
	t.Parallel()

	tax, err := Builtin("flood")
	require.NoError(t, err)
	cats := tax.Categories()
	assert.Equal(t, "法规依据", cats[0])
	assert.Contains(t, cats, "地理要素")
}
