// Package tokens defines the Histograph token vocabulary shared by the queue
// wire format, the router and the storage adapters.
//
// Token strings are part of the wire and storage formats. Renaming one
// requires a migration of every stored table, document and queued message.
package tokens

import (
	"fmt"

	"github.com/histograph/histograph-sink/pkg/apperrors"
)

// General tokens applicable to every entity kind.
const (
	Data        = "data"
	SourceID    = "sourceid"
	Source      = "source" // document key for SourceID
	Type        = "type"
	FieldAction = "action"
	HGID        = "hgid"
	FieldTarget = "target"
	Name        = "name"
)

// PIT tokens.
const (
	PITID           = "id"
	PITType         = Type
	PITName         = Name
	PITURI          = "uri"
	PITGeometry     = "geometry"
	PITHasBeginning = "hasBeginning"
	PITHasEnd       = "hasEnd"
	PITData         = Data
)

// Relation tokens. The identifying-method and rejection fields only exist
// after a relation has failed resolution.
const (
	RelationFrom                   = "from"
	RelationTo                     = "to"
	RelationLabel                  = "label"
	RelationFromIdentifyingMethod  = "from_identifying_method"
	RelationToIdentifyingMethod    = "to_identifying_method"
	RelationRejectionCause         = "rejection_cause"
	RelationRejectionCauseIDMethod = "rejection_cause_id_method"
)

// EntityType is the kind of entity a record describes.
type EntityType string

const (
	TypePIT      EntityType = "pit"
	TypeRelation EntityType = "relation"
)

// Action is the mutation a record requests.
type Action string

const (
	ActionAdd           Action = "add"
	ActionUpdate        Action = "update"
	ActionDelete        Action = "delete"
	ActionAddToRejected Action = "addToRejected"
)

// Target selects which backends receive a record.
type Target string

const (
	TargetRelational Target = "relational"
	TargetDocument   Target = "document"
	TargetBoth       Target = "both"
)

// IdentifyingMethod records how a relation endpoint was resolved to a PIT.
type IdentifyingMethod string

const (
	IdentifyByHGID IdentifyingMethod = "hgid"
	IdentifyByURI  IdentifyingMethod = "uri"
)

func (t EntityType) String() string { return string(t) }
func (a Action) String() string     { return string(a) }
func (t Target) String() string     { return string(t) }

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	switch t {
	case TypePIT, TypeRelation:
		return true
	}
	return false
}

// Valid reports whether a is a known action.
func (a Action) Valid() bool {
	switch a {
	case ActionAdd, ActionUpdate, ActionDelete, ActionAddToRejected:
		return true
	}
	return false
}

// Valid reports whether t is a known target.
func (t Target) Valid() bool {
	switch t {
	case TargetRelational, TargetDocument, TargetBoth:
		return true
	}
	return false
}

// Valid reports whether m is a known identifying method.
func (m IdentifyingMethod) Valid() bool {
	return m == IdentifyByHGID || m == IdentifyByURI
}

// Includes reports whether records routed to t should reach other.
// TargetBoth includes both single-backend targets.
func (t Target) Includes(other Target) bool {
	return t == other || t == TargetBoth
}

// ParseType converts a token string into an EntityType.
func ParseType(s string) (EntityType, error) {
	t := EntityType(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown entity type %q", apperrors.ErrValidation, s)
	}
	return t, nil
}

// ParseAction converts a token string into an Action.
func ParseAction(s string) (Action, error) {
	a := Action(s)
	if !a.Valid() {
		return "", fmt.Errorf("%w: unknown action %q", apperrors.ErrValidation, s)
	}
	return a, nil
}

// ParseTarget converts a token string into a Target. An empty string selects
// TargetBoth.
func ParseTarget(s string) (Target, error) {
	if s == "" {
		return TargetBoth, nil
	}
	t := Target(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown target %q", apperrors.ErrValidation, s)
	}
	return t, nil
}

// ParseIdentifyingMethod converts a token string into an IdentifyingMethod.
func ParseIdentifyingMethod(s string) (IdentifyingMethod, error) {
	m := IdentifyingMethod(s)
	if !m.Valid() {
		return "", fmt.Errorf("%w: unknown identifying method %q", apperrors.ErrValidation, s)
	}
	return m, nil
}
