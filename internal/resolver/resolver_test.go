package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ctxpack/internal/contract"
)

var keys = []string{
	"src/App.tsx",
	"src/ui/Button.tsx",
	"src/forms/Button.tsx",
	"src/forms/Form.tsx",
	"src/widgets/Modal/index.tsx",
	"src/lib/format.ts",
	"lib/Button.js",
}

func TestResolveKey(t *testing.T) {
	ix := NewIndex(keys)

	tests := []struct {
		name  string
		input string
		want  string
		ok    bool
	}{
		{"exact", "src/App.tsx", "src/App.tsx", true},
		{"normalized exact", "./src\\App.tsx", "src/App.tsx", true},
		{"extension ignored", "src/lib/format", "src/lib/format.ts", true},
		{"extension swapped", "src/lib/format.js", "src/lib/format.ts", true},
		{"bare stem", "Form", "src/forms/Form.tsx", true},
		{"index answers to directory", "Modal", "src/widgets/Modal/index.tsx", true},
		{"ambiguous picks smallest key", "Button", "lib/Button.js", true},
		{"path never falls back to stem", "other/Form", "", false},
		{"unknown", "Nope", "", false},
		{"empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ix.ResolveKey(tt.input)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestResolveKey_StableAcrossInputOrder(t *testing.T) {
	reversed := make([]string, len(keys))
	for i, k := range keys {
		reversed[len(keys)-1-i] = k
	}
	for i := 0; i < 5; i++ {
		a, _ := ResolveKey(keys, "Button")
		b, _ := ResolveKey(reversed, "Button")
		assert.Equal(t, a, b)
	}
}

func TestResolveDependency_PrefersSameDirectory(t *testing.T) {
	got, ok := ResolveDependency(keys, "Button", "src/forms/Form.tsx")
	assert.True(t, ok)
	assert.Equal(t, "src/forms/Button.tsx", got)

	got, ok = ResolveDependency(keys, "Button", "src/ui/Other.tsx")
	assert.True(t, ok)
	assert.Equal(t, "src/ui/Button.tsx", got)

	// No local candidate: global search.
	got, ok = ResolveDependency(keys, "Form", "src/App.tsx")
	assert.True(t, ok)
	assert.Equal(t, "src/forms/Form.tsx", got)
}

func TestResolveDependency_RelativeSpecifiers(t *testing.T) {
	ix := NewIndex(keys)

	tests := []struct {
		spec   string
		parent string
		want   string
		ok     bool
	}{
		{"./Button", "src/forms/Form.tsx", "src/forms/Button.tsx", true},
		{"../ui/Button", "src/forms/Form.tsx", "src/ui/Button.tsx", true},
		{"../widgets/Modal", "src/forms/Form.tsx", "src/widgets/Modal/index.tsx", true},
		{"./lib/format.js", "src/App.tsx", "src/lib/format.ts", true},
		{"/src/App", "lib/Button.js", "src/App.tsx", true},
		// Explicit paths never fall back to a global name search.
		{"./Form", "src/ui/Button.tsx", "", false},
		{"../../../x", "src/App.tsx", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.spec, func(t *testing.T) {
			ref := contract.Reference{Name: contract.Stem(tt.spec), Source: tt.spec}
			got, ok := ix.ResolveDependency(ref, tt.parent)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}

	_, ok := ix.ResolveDependency(contract.Reference{Name: "react", Source: "react", External: true}, "src/App.tsx")
	assert.False(t, ok)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ReasonExternal, Classify("src/App.tsx", contract.Reference{Name: "react", Source: "react", External: true}))
	assert.Equal(t, ReasonOutsideScan, Classify("src/App.tsx", contract.Reference{Name: "x", Source: "../../x"}))
	assert.Equal(t, ReasonNotFound, Classify("src/App.tsx", contract.Reference{Name: "B", Source: "./B"}))
	assert.Equal(t, ReasonNotFound, Classify("src/App.tsx", contract.Reference{Name: "Ghost"}))
}
