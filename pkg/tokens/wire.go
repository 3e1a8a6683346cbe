package tokens

// Wire tokens used by messages on the mutation queue. This set is narrower
// than the internal vocabulary; queue.Translate maps one onto the other.
const (
	WireData   = "data"
	WireLayer  = "layer"
	WireType   = "type"
	WireAction = "action"
	WireTarget = "target"
	WireHGID   = "hgID"
)

// Wire PIT tokens.
const (
	WirePITID   = "id"
	WirePITType = "type"
	WirePITName = "name"
)

// Wire relation tokens.
const (
	WireRelationFrom  = "from"
	WireRelationTo    = "to"
	WireRelationLabel = "label"
)

// WireActions lists the actions a queue message may carry. ActionAddToRejected
// is produced internally after validation and never appears on the wire.
var WireActions = []Action{ActionAdd, ActionUpdate, ActionDelete}

// IsWireAction reports whether a may appear in a queue message.
func IsWireAction(a Action) bool {
	for _, w := range WireActions {
		if w == a {
			return true
		}
	}
	return false
}
