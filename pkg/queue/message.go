// Package queue reads mutation messages from the Redis feed and translates
// them from wire tokens into router records.
package queue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/histograph/histograph-sink/pkg/apperrors"
	"github.com/histograph/histograph-sink/pkg/router"
	"github.com/histograph/histograph-sink/pkg/tokens"
)

// DatasetDone is the message type marking the end of a dataset import. It
// carries no mutation and is forwarded to the dataset-done list.
const DatasetDone = "dataset-done"

// Message is one JSON record on the mutation queue.
type Message struct {
	Type   string          `json:"type"`
	Action string          `json:"action"`
	Target string          `json:"target,omitempty"`
	Layer  string          `json:"layer"`
	Data   json.RawMessage `json:"data"`
}

// Decode parses a raw queue payload.
func Decode(raw []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("%w: message is not valid JSON: %w", apperrors.ErrValidation, err)
	}
	return &msg, nil
}

// Translate maps a wire message onto a router record. hgID becomes hgid and
// layer becomes sourceid. PIT and relation fields are copied when present and
// the raw data object is kept as a string under data. Unknown types, actions
// or targets fail with ErrValidation.
func Translate(msg *Message) (router.Record, error) {
	entityType, err := tokens.ParseType(msg.Type)
	if err != nil {
		return router.Record{}, err
	}
	action, err := tokens.ParseAction(msg.Action)
	if err != nil {
		return router.Record{}, err
	}
	if !tokens.IsWireAction(action) {
		return router.Record{}, fmt.Errorf("%w: action %q is not accepted from the queue", apperrors.ErrValidation, action)
	}
	target, err := tokens.ParseTarget(msg.Target)
	if err != nil {
		return router.Record{}, err
	}
	if msg.Layer == "" {
		return router.Record{}, fmt.Errorf("%w: message has no %s", apperrors.ErrValidation, tokens.WireLayer)
	}

	var data map[string]any
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			return router.Record{}, fmt.Errorf("%w: %s is not a JSON object: %w", apperrors.ErrValidation, tokens.WireData, err)
		}
	}
	if data == nil {
		return router.Record{}, fmt.Errorf("%w: message has no %s", apperrors.ErrValidation, tokens.WireData)
	}

	fields := map[string]string{
		tokens.SourceID: msg.Layer,
		tokens.Data:     string(msg.Data),
	}

	switch entityType {
	case tokens.TypePIT:
		copyString(fields, data, tokens.WirePITName, tokens.PITName)
		copyString(fields, data, tokens.WirePITType, tokens.PITType)
		copyString(fields, data, tokens.PITURI, tokens.PITURI)
		copyString(fields, data, tokens.PITGeometry, tokens.PITGeometry)
		copyString(fields, data, tokens.PITHasBeginning, tokens.PITHasBeginning)
		copyString(fields, data, tokens.PITHasEnd, tokens.PITHasEnd)
	case tokens.TypeRelation:
		copyString(fields, data, tokens.WireRelationFrom, tokens.RelationFrom)
		copyString(fields, data, tokens.WireRelationTo, tokens.RelationTo)
		copyString(fields, data, tokens.WireRelationLabel, tokens.RelationLabel)
	}

	hgid, err := resolveHGID(entityType, msg.Layer, data, fields)
	if err != nil {
		return router.Record{}, err
	}
	fields[tokens.HGID] = hgid

	return router.Record{
		Type:   entityType,
		Action: action,
		Target: target,
		Fields: fields,
	}, nil
}

// resolveHGID uses the wire hgID when present. Otherwise a PIT is identified
// as layer/id and a relation as from--label-->to.
func resolveHGID(t tokens.EntityType, layer string, data map[string]any, fields map[string]string) (string, error) {
	if hgid, ok := stringValue(data[tokens.WireHGID]); ok && hgid != "" {
		return hgid, nil
	}

	switch t {
	case tokens.TypePIT:
		if id, ok := stringValue(data[tokens.WirePITID]); ok && id != "" {
			if strings.HasPrefix(id, layer+"/") {
				return id, nil
			}
			return layer + "/" + id, nil
		}
	case tokens.TypeRelation:
		from, to, label := fields[tokens.RelationFrom], fields[tokens.RelationTo], fields[tokens.RelationLabel]
		if from != "" && to != "" && label != "" {
			return from + "--" + label + "-->" + to, nil
		}
	}

	return "", fmt.Errorf("%w: %s message has no %s", apperrors.ErrValidation, t, tokens.WireHGID)
}

func copyString(fields map[string]string, data map[string]any, from, to string) {
	if v, ok := stringValue(data[from]); ok {
		fields[to] = v
	}
}

// stringValue renders a decoded JSON value as a field string. Objects and
// arrays (geometry) are re-encoded as JSON.
func stringValue(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		encoded, err := json.Marshal(val)
		if err != nil {
			return "", false
		}
		return string(encoded), true
	}
}
