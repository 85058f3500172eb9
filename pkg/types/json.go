package types

import "encoding/json"

// operationRecordAlias has the same fields as OperationRecord but none of its
// methods, breaking the infinite recursion that (Un)MarshalJSON would
// otherwise cause by calling itself.
type operationRecordAlias OperationRecord

// MarshalJSON emits the known fields plus anything captured in Extra,
// merged at the top level so an old reader and a new writer agree on shape.
func (r OperationRecord) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(operationRecordAlias(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]any, len(r.Extra)+8)
	for k, v := range r.Extra {
		merged[k] = v
	}
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	return json.Marshal(merged)
}

// UnmarshalJSON decodes the known fields, preserves anything it does not
// recognize into Extra, and accepts the legacy "stack"/"stackFrame" key pair
// as an alias for "callFrames" when the newer key is absent (§9 design
// note). The legacy keys are never emitted on write.
func (r *OperationRecord) UnmarshalJSON(data []byte) error {
	var alias operationRecordAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*r = OperationRecord(alias)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	if len(r.CallFrames) == 0 {
		if legacy, ok := raw["stack"]; ok {
			var frames []CallFrame
			if err := json.Unmarshal(legacy, &frames); err == nil {
				r.CallFrames = frames
			}
		}
	}

	known := knownOperationRecordKeys()
	extra := make(map[string]any)
	for k, v := range raw {
		if known[k] {
			continue
		}
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			continue
		}
		extra[k] = decoded
	}
	if len(extra) > 0 {
		r.Extra = extra
	}
	return nil
}

func knownOperationRecordKeys() map[string]bool {
	return map[string]bool{
		"operationId":       true,
		"status":            true,
		"aborted":           true,
		"startTime":         true,
		"lastHeartbeat":     true,
		"callFrames":        true,
		"stack":             true,
		"tempResources":     true,
		"participants":      true,
		"description":       true,
		"schemaVersion":     true,
		"terminalTickCount": true,
	}
}
