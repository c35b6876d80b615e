package supervisor

import (
	"encoding/json"
	"fmt"

	"github.com/tidwall/gjson"
)

// Wire message type tags. The engine speaks newline-delimited JSON frames
// of the form {"type": <string>, ...fields}; frames never contain newlines.
const (
	msgWarpToLine    = "warp_to_line"
	msgJumpToLabel   = "jump_to_label"
	msgSetAutoReload = "set_autoreload"
	msgCurrentLine   = "current_line"
	msgCurrentLabel  = "current_label"
	msgListLabels    = "list_labels"
)

// Outbound requests (supervisor -> engine). Fire-and-forget: there is no
// per-message response, the engine reports state changes via notifications.

type warpToLineRequest struct {
	Type string `json:"type"`
	File string `json:"file"`
	Line int    `json:"line"`
}

type jumpToLabelRequest struct {
	Type  string `json:"type"`
	Label string `json:"label"`
}

type setAutoReloadRequest struct {
	Type string `json:"type"`
}

// Message is one decoded inbound notification (engine -> supervisor).
type Message interface {
	// MessageType returns the wire type tag.
	MessageType() string
}

// CurrentLine reports where the engine is currently executing.
// Line is 1-indexed.
type CurrentLine struct {
	Path         string `json:"path"`
	RelativePath string `json:"relative_path"`
	Line         int    `json:"line"`
}

func (CurrentLine) MessageType() string { return msgCurrentLine }

// CurrentLabel reports the named section the engine is executing.
type CurrentLabel struct {
	Label string `json:"label"`
}

func (CurrentLabel) MessageType() string { return msgCurrentLabel }

// ListLabels reports the jump targets the engine knows about.
type ListLabels struct {
	Labels []string `json:"labels"`
}

func (ListLabels) MessageType() string { return msgListLabels }

// decodeMessage parses one inbound frame. Frames with an unrecognized type
// return (nil, nil) so a newer engine can speak a newer protocol without
// tearing down the connection; the caller logs and moves on.
func decodeMessage(frame []byte) (Message, error) {
	if !gjson.ValidBytes(frame) {
		return nil, fmt.Errorf("malformed frame: invalid JSON")
	}
	typ := gjson.GetBytes(frame, "type")
	if typ.Type != gjson.String {
		return nil, fmt.Errorf("malformed frame: missing type tag")
	}

	switch typ.String() {
	case msgCurrentLine:
		var m CurrentLine
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgCurrentLine, err)
		}
		return m, nil
	case msgCurrentLabel:
		var m CurrentLabel
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgCurrentLabel, err)
		}
		return m, nil
	case msgListLabels:
		var m ListLabels
		if err := json.Unmarshal(frame, &m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", msgListLabels, err)
		}
		return m, nil
	default:
		return nil, nil
	}
}

// reservedLabel reports whether a label is internal to the engine and
// should never be surfaced as the current section.
func reservedLabel(label string) bool {
	return label == "" || label[0] == '_'
}
