package models

import (
	"fmt"
	"strings"
)

// OpKind identifies the variant of an Operation.
type OpKind string

const (
	OpCreate     OpKind = "create"
	OpUpdate     OpKind = "update"
	OpDelete     OpKind = "delete"
	OpDeactivate OpKind = "deactivate"
	OpSkip       OpKind = "skip"
	OpError      OpKind = "error"
)

// ParseOpKind parses an operation kind string (case-insensitive).
func ParseOpKind(s string) (OpKind, error) {
	switch strings.ToLower(s) {
	case "create":
		return OpCreate, nil
	case "update":
		return OpUpdate, nil
	case "delete":
		return OpDelete, nil
	case "deactivate":
		return OpDeactivate, nil
	case "skip":
		return OpSkip, nil
	case "error":
		return OpError, nil
	default:
		return "", fmt.Errorf("invalid operation type: %q", s)
	}
}

// Operation is the single intermediate representation both transform modes
// produce. Every downstream stage (filter, queue, executor) operates only on
// Operations.
type Operation struct {
	Kind   OpKind                 `json:"operation"`
	Entity string                 `json:"entity"`
	ID     string                 `json:"id,omitempty"`
	Fields map[string]interface{} `json:"fields,omitempty"`
	// Reason explains a Skip operation.
	Reason string `json:"reason,omitempty"`
	// Message carries the failure text of an Error operation.
	Message string `json:"error,omitempty"`
}

func NewCreate(entity string, fields map[string]interface{}) Operation {
	return Operation{Kind: OpCreate, Entity: entity, Fields: fields}
}

func NewUpdate(entity, id string, fields map[string]interface{}) Operation {
	return Operation{Kind: OpUpdate, Entity: entity, ID: id, Fields: fields}
}

func NewDelete(entity, id string) Operation {
	return Operation{Kind: OpDelete, Entity: entity, ID: id}
}

func NewDeactivate(entity, id string) Operation {
	return Operation{Kind: OpDeactivate, Entity: entity, ID: id}
}

func NewSkip(entity, id, reason string) Operation {
	return Operation{Kind: OpSkip, Entity: entity, ID: id, Reason: reason}
}

func NewError(entity, id, message string) Operation {
	return Operation{Kind: OpError, Entity: entity, ID: id, Message: message}
}

// Validate checks that the operation carries the fields its kind requires.
func (o Operation) Validate() error {
	if o.Entity == "" {
		return fmt.Errorf("operation missing entity")
	}
	switch o.Kind {
	case OpCreate:
		if len(o.Fields) == 0 {
			return fmt.Errorf("create operation requires fields")
		}
	case OpUpdate:
		if o.ID == "" {
			return fmt.Errorf("update operation requires id")
		}
		if len(o.Fields) == 0 {
			return fmt.Errorf("update operation requires fields")
		}
	case OpDelete, OpDeactivate:
		if o.ID == "" {
			return fmt.Errorf("%s operation requires id", o.Kind)
		}
	case OpSkip, OpError:
		// No required fields beyond entity.
	default:
		return fmt.Errorf("unknown operation kind: %q", o.Kind)
	}
	return nil
}

// Mutates reports whether executing the operation touches the target
// environment. Skip and Error operations carry no side effect.
func (o Operation) Mutates() bool {
	switch o.Kind {
	case OpSkip, OpError:
		return false
	default:
		return true
	}
}

// Descriptor is the untyped operation shape exchanged with transform scripts
// and file exports. Scripts return raw descriptor tables; they are validated
// at the boundary and never propagate past it.
type Descriptor struct {
	Entity    string                 `json:"entity"`
	Operation string                 `json:"operation"`
	ID        string                 `json:"id,omitempty"`
	Fields    map[string]interface{} `json:"fields,omitempty"`
	Reason    string                 `json:"reason,omitempty"`
	Error     string                 `json:"error,omitempty"`
}

// Descriptor encodes the operation into the descriptor shape.
func (o Operation) Descriptor() Descriptor {
	return Descriptor{
		Entity:    o.Entity,
		Operation: string(o.Kind),
		ID:        o.ID,
		Fields:    o.Fields,
		Reason:    o.Reason,
		Error:     o.Message,
	}
}

// FromDescriptor validates a raw descriptor and converts it into an
// Operation. The returned error describes the first violation found.
func FromDescriptor(d Descriptor) (Operation, error) {
	kind, err := ParseOpKind(d.Operation)
	if err != nil {
		return Operation{}, err
	}
	op := Operation{
		Kind:    kind,
		Entity:  d.Entity,
		ID:      d.ID,
		Fields:  d.Fields,
		Reason:  d.Reason,
		Message: d.Error,
	}
	if err := op.Validate(); err != nil {
		return Operation{}, err
	}
	return op, nil
}
