package models

import (
	"fmt"
	"strings"
)

// TransformType enumerates the closed set of declarative transform operators.
type TransformType string

const (
	TransformCopy        TransformType = "copy"
	TransformConstant    TransformType = "constant"
	TransformConcat      TransformType = "concat"
	TransformLookup      TransformType = "lookup"
	TransformConditional TransformType = "conditional"
)

// DynamicNow and DynamicGUID are constant values resolved at transform time.
const (
	DynamicNow  = "$now"
	DynamicGUID = "$guid"
)

// TransformSpec describes how one target field value is produced. It is a
// tagged variant serialized as structured data; fields beyond Type are
// meaningful per operator.
type TransformSpec struct {
	Type TransformType `json:"type" yaml:"type"`
	// Source is the source field path for copy, lookup and conditional.
	// Paths allow at most one lookup traversal ("accountid.name").
	Source string `json:"source,omitempty" yaml:"source,omitempty"`
	// Value is the constant operator's value ($now and $guid are dynamic).
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
	// Parts compose a concat result in order.
	Parts []ConcatPart `json:"parts,omitempty" yaml:"parts,omitempty"`
	// Resolver names the resolver used by the lookup operator.
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty"`
	// Condition, Then and Else implement the conditional operator.
	Condition *Condition  `json:"condition,omitempty" yaml:"condition,omitempty"`
	Then      interface{} `json:"then,omitempty" yaml:"then,omitempty"`
	Else      interface{} `json:"else,omitempty" yaml:"else,omitempty"`
}

func (t *TransformSpec) Validate() error {
	switch t.Type {
	case TransformCopy:
		return validatePath(t.Source)
	case TransformConstant:
		if t.Value == nil {
			return fmt.Errorf("constant transform requires a value")
		}
	case TransformConcat:
		if len(t.Parts) == 0 {
			return fmt.Errorf("concat transform requires parts")
		}
		for i, p := range t.Parts {
			if p.Field == "" && p.Literal == "" {
				return fmt.Errorf("concat part %d is empty", i)
			}
			if p.Field != "" {
				if err := validatePath(p.Field); err != nil {
					return fmt.Errorf("concat part %d: %w", i, err)
				}
			}
		}
	case TransformLookup:
		if t.Resolver == "" {
			return fmt.Errorf("lookup transform requires a resolver name")
		}
	case TransformConditional:
		if err := validatePath(t.Source); err != nil {
			return err
		}
		if t.Condition == nil {
			return fmt.Errorf("conditional transform requires a condition")
		}
		return t.Condition.Validate()
	default:
		return fmt.Errorf("unknown transform type %q", t.Type)
	}
	return nil
}

// ConcatPart is one segment of a concat transform: either a source field
// path or a literal string.
type ConcatPart struct {
	Field   string `json:"field,omitempty" yaml:"field,omitempty"`
	Literal string `json:"literal,omitempty" yaml:"literal,omitempty"`
}

// ConditionOp enumerates conditional comparisons.
type ConditionOp string

const (
	CondEquals    ConditionOp = "eq"
	CondNotEquals ConditionOp = "neq"
	CondIsNull    ConditionOp = "isnull"
	CondNotNull   ConditionOp = "notnull"
)

// Condition compares a source value for the conditional operator.
type Condition struct {
	Op    ConditionOp `json:"op" yaml:"op"`
	Value interface{} `json:"value,omitempty" yaml:"value,omitempty"`
}

func (c *Condition) Validate() error {
	switch c.Op {
	case CondEquals, CondNotEquals, CondIsNull, CondNotNull:
		return nil
	default:
		return fmt.Errorf("unknown condition op %q", c.Op)
	}
}

// SplitPath splits a source field path into its segments. Paths have one or
// two segments; two segments mean a lookup traversal into an expanded record.
func SplitPath(path string) ([]string, error) {
	if err := validatePath(path); err != nil {
		return nil, err
	}
	return strings.Split(path, "."), nil
}

func validatePath(path string) error {
	if path == "" {
		return fmt.Errorf("field path cannot be empty")
	}
	segments := strings.Split(path, ".")
	if len(segments) > 2 {
		return fmt.Errorf("field path %q has %d segments, maximum is 2", path, len(segments))
	}
	for _, s := range segments {
		if s == "" {
			return fmt.Errorf("field path %q contains an empty segment", path)
		}
	}
	return nil
}
