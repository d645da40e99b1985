package engine

import (
	"github.com/recmig/recmig/internal/remote"
	"github.com/recmig/recmig/internal/script"
	"github.com/recmig/recmig/pkg/models"
)

// ScriptedTransformer runs a mapping whose transform is an operator
// script. The script is loaded and validated at construction time, before
// any records are fetched.
type ScriptedTransformer struct {
	runtime *script.Runtime
	mapping *models.EntityMapping
}

func NewScriptedTransformer(m *models.EntityMapping, reporter *Reporter) (*ScriptedTransformer, error) {
	rt, err := script.Load(m.SourceEntity, m.Script, reporter)
	if err != nil {
		return nil, err
	}
	return &ScriptedTransformer{runtime: rt, mapping: m}, nil
}

func (t *ScriptedTransformer) Close() {
	t.runtime.Close()
}

// Declare returns the script's data requirements.
func (t *ScriptedTransformer) Declare() (models.Declaration, error) {
	return t.runtime.Declare()
}

// Transform feeds the fetched record sets to the script and returns its
// operations. Scripts own create-vs-update decisions and orphan handling,
// so everything comes back as record operations.
func (t *ScriptedTransformer) Transform(source, target map[string][]remote.Record) (*TransformResult, error) {
	ops, err := t.runtime.Transform(source, target)
	if err != nil {
		return nil, err
	}
	return &TransformResult{Operations: ops}, nil
}
