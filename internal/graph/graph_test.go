package graph

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpack/internal/contract"
	"ctxpack/internal/resolver"
)

func unit(id string, imports ...string) *contract.Contract {
	c := &contract.Contract{
		Version:  contract.SchemaVersion,
		EntryID:  id,
		FileHash: contract.FileHash([]byte(id)),
		Revision: 1,
	}
	for _, src := range imports {
		c.Composition.Imports = append(c.Composition.Imports, contract.Import{Source: src})
	}
	c.SemanticHash = contract.SemanticHash(c.Composition, c.Interface)
	return c
}

func TestBuild_TwoFileScenario(t *testing.T) {
	m := Build([]*contract.Contract{unit("A.tsx", "./B"), unit("B.tsx")})

	assert.Equal(t, []string{"B.tsx"}, m.Nodes["A.tsx"].Dependencies)
	assert.Equal(t, []string{"A.tsx"}, m.Nodes["B.tsx"].Dependents)
	assert.Equal(t, []string{"A.tsx"}, m.Roots)
	assert.Equal(t, []string{"B.tsx"}, m.Leaves)
	assert.Empty(t, m.Nodes["A.tsx"].Unresolved)
	assert.True(t, m.IsRoot("A.tsx"))
	assert.False(t, m.IsRoot("B.tsx"))
}

func TestBuild_UnresolvedAndSelfEdges(t *testing.T) {
	m := Build([]*contract.Contract{
		unit("src/A.tsx", "./A", "react", "./Gone", "../../outside"),
	})

	node := m.Nodes["src/A.tsx"]
	assert.Empty(t, node.Dependencies)
	assert.ElementsMatch(t, []Unresolved{
		{Name: "Gone", Source: "./Gone", Reason: resolver.ReasonNotFound},
		{Name: "outside", Source: "../../outside", Reason: resolver.ReasonOutsideScan},
		{Name: "react", Source: "react", Reason: resolver.ReasonExternal},
	}, node.Unresolved)
	assert.Equal(t, []string{"src/A.tsx"}, m.Roots)
	assert.Equal(t, []string{"src/A.tsx"}, m.Leaves)

	counts := m.UnresolvedReasonCounts()
	assert.Equal(t, 1, counts[resolver.ReasonExternal])
	assert.Equal(t, 1, counts[resolver.ReasonNotFound])
}

func TestBuild_CollapsesDuplicateEntries(t *testing.T) {
	old := unit("B.tsx")
	newer := unit("B.tsx", "./C")
	newer.Revision = 2

	m := Build([]*contract.Contract{unit("A.tsx", "./B"), old, newer, unit("C.tsx")})
	require.Len(t, m.Nodes, 3)
	assert.Equal(t, []string{"C.tsx"}, m.GetDependencies("B.tsx"))
	assert.Same(t, newer, m.Contract("B.tsx"))
	assert.Equal(t, []string{"C.tsx"}, m.Leaves)
}

func TestBuild_CycleHasNoRoot(t *testing.T) {
	m := Build([]*contract.Contract{unit("A.ts", "./B"), unit("B.ts", "./A")})
	assert.Empty(t, m.Roots)
	assert.Empty(t, m.Leaves)
	assert.Equal(t, []string{"B.ts"}, m.GetDependents("A.ts"))
}

func TestManifest_SaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "out", "manifest.json")

	contracts := []*contract.Contract{unit("A.tsx", "./B"), unit("B.tsx")}
	m := Build(contracts)
	require.NoError(t, m.Save(p))

	loaded, err := LoadManifest(p)
	require.NoError(t, err)
	assert.Equal(t, m.Roots, loaded.Roots)
	assert.Equal(t, m.Nodes["A.tsx"].Dependencies, loaded.Nodes["A.tsx"].Dependencies)
	assert.Nil(t, loaded.Contract("A.tsx"))

	loaded.WithContracts(contracts)
	assert.Equal(t, "A.tsx", loaded.Contract("A.tsx").EntryID)

	t.Run("absent file", func(t *testing.T) {
		_, err := LoadManifest(filepath.Join(dir, "nope.json"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, fs.ErrNotExist))
		assert.Contains(t, err.Error(), "nope.json")
	})

	t.Run("corrupt file", func(t *testing.T) {
		bad := filepath.Join(dir, "bad.json")
		require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
		_, err := LoadManifest(bad)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrCorruptManifest)
		assert.Contains(t, err.Error(), "bad.json")
	})
}
