package extractor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ctxpack/internal/contract"
)

const profileTSX = `import React, { useState } from "react";
import { Card } from "./Card";
import Avatar from "../shared/Avatar";
import "./profile.css";

export interface ProfileProps {
  name: string;
  age?:   number;
  onSave: (value: string) => void;
}

const MAX = 3;

export function Profile({ name, age, onSave }: ProfileProps) {
  const [editing, setEditing] = useState(false);
  useFormatter(name);
  return (
    <Card title={name}>
      <Avatar size={MAX} />
      <div onClick={() => setEditing(!editing)} />
    </Card>
  );
}

export default Profile;
`

func TestExtract_TSXComponent(t *testing.T) {
	ext, err := NewExtractor()
	require.NoError(t, err)
	require.True(t, ext.Supports("src/Profile.tsx"))

	out, err := ext.Extract("src/Profile.tsx", []byte(profileTSX))
	require.NoError(t, err)

	assert.Equal(t, contract.KindComponent, out.Kind)
	assert.Equal(t, "tsx", out.Language)
	assert.Equal(t, []string{"Avatar", "Card"}, out.Composition.Components)
	assert.Equal(t, []string{"useFormatter", "useState"}, out.Composition.Hooks)
	assert.Equal(t, []string{"Profile"}, out.Composition.Functions)
	assert.Equal(t, []string{"MAX"}, out.Composition.Variables)
	assert.Equal(t, []string{"editing"}, out.Interface.State)
	assert.Equal(t, []string{"Profile", "ProfileProps", "default"}, out.Interface.Exports)
	assert.Equal(t, []string{"onSave"}, out.Interface.Events)

	require.Len(t, out.Interface.Props, 3)
	assert.Equal(t, contract.Prop{Name: "age", Type: "number", Optional: true}, out.Interface.Props[0])
	assert.Equal(t, "name", out.Interface.Props[1].Name)
	assert.Equal(t, "(value: string) => void", out.Interface.Props[2].Type)

	sources := make([]string, 0, len(out.Composition.Imports))
	for _, imp := range out.Composition.Imports {
		sources = append(sources, imp.Source)
	}
	assert.Equal(t, []string{"../shared/Avatar", "./Card", "./profile.css", "react"}, sources)
	assert.Equal(t, []string{"React", "useState"}, out.Composition.Imports[3].Names)
}

func TestExtract_FormattingDoesNotChangeSemanticHash(t *testing.T) {
	ext, err := NewExtractor()
	require.NoError(t, err)

	a := []byte("import { B } from './B';\nexport const A = () => <B />;\n")
	b := []byte("// renders B\nimport {B} from \"./B\"\n\nexport const A = () =>\n  <B/>\n")

	ea, err := ext.Extract("A.tsx", a)
	require.NoError(t, err)
	eb, err := ext.Extract("A.tsx", b)
	require.NoError(t, err)

	ca, err := contract.Build("A.tsx", ea, a, contract.BuildOptions{})
	require.NoError(t, err)
	cb, err := contract.Build("A.tsx", eb, b, contract.BuildOptions{})
	require.NoError(t, err)

	assert.NotEqual(t, ca.FileHash, cb.FileHash)
	assert.Equal(t, ca.SemanticHash, cb.SemanticHash)
}

func TestExtract_HookModuleAndParamProps(t *testing.T) {
	ext, err := NewExtractor("javascript")
	require.NoError(t, err)
	assert.False(t, ext.Supports("a.tsx"))

	hook := []byte("import { useState } from 'react';\nexport function useToggle(v) { const [on, set] = useState(v); return [on, set]; }\n")
	out, err := ext.Extract("useToggle.js", hook)
	require.NoError(t, err)
	assert.Equal(t, contract.KindHook, out.Kind)
	assert.Equal(t, []string{"on"}, out.Interface.State)

	comp := []byte("export const Button = ({ label, onPress, size = 'md' }) => <button>{label}</button>;\n")
	out, err = ext.Extract("Button.jsx", comp)
	require.NoError(t, err)
	assert.Equal(t, contract.KindComponent, out.Kind)
	require.Len(t, out.Interface.Props, 3)
	assert.Equal(t, contract.Prop{Name: "size", Optional: true}, out.Interface.Props[2])
	assert.Equal(t, []string{"onPress"}, out.Interface.Events)
}

func TestExtract_Failures(t *testing.T) {
	ext, err := NewExtractor()
	require.NoError(t, err)

	_, err = ext.Extract("broken.ts", []byte("export function ( {"))
	assert.Error(t, err)

	_, err = ext.Extract("readme.md", []byte("# hi"))
	assert.Error(t, err)

	assert.False(t, ext.Supports("types.d.ts"))

	_, err = NewExtractor("cobol")
	assert.Error(t, err)
}
