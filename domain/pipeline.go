package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// GroupType buckets pipeline nodes into the phase family they contribute to
type GroupType string

const (
	GroupPrebuild     GroupType = "prebuild"
	GroupBuild        GroupType = "build"
	GroupTest         GroupType = "test"
	GroupNotification GroupType = "notification"
	GroupUtility      GroupType = "utility"
)

// PipelineNode is one typed step of a pipeline flow graph.
// Any key besides the fixed ones ends up in Properties.
type PipelineNode struct {
	BlockID    string
	BlockType  string
	GroupType  GroupType
	OnSuccess  string
	OnFailed   string
	Properties map[string]any
}

var reservedNodeKeys = map[string]struct{}{
	"blockId":   {},
	"blockType": {},
	"groupType": {},
	"onSuccess": {},
	"onFailed":  {},
}

func (n *PipelineNode) UnmarshalJSON(data []byte) error {
	raw := map[string]any{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	n.fromMap(raw)
	return nil
}

func (n PipelineNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.toMap())
}

func (n *PipelineNode) UnmarshalYAML(value *yaml.Node) error {
	raw := map[string]any{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	n.fromMap(raw)
	return nil
}

func (n *PipelineNode) fromMap(raw map[string]any) {
	n.BlockID = stringValue(raw["blockId"])
	n.BlockType = stringValue(raw["blockType"])
	n.GroupType = GroupType(stringValue(raw["groupType"]))
	n.OnSuccess = stringValue(raw["onSuccess"])
	n.OnFailed = stringValue(raw["onFailed"])
	n.Properties = make(map[string]any, len(raw))
	for k, v := range raw {
		if _, reserved := reservedNodeKeys[k]; reserved {
			continue
		}
		n.Properties[k] = v
	}
}

func (n PipelineNode) toMap() map[string]any {
	out := make(map[string]any, len(n.Properties)+5)
	for k, v := range n.Properties {
		out[k] = v
	}
	out["blockId"] = n.BlockID
	out["blockType"] = n.BlockType
	out["groupType"] = string(n.GroupType)
	if n.OnSuccess != "" {
		out["onSuccess"] = n.OnSuccess
	}
	if n.OnFailed != "" {
		out["onFailed"] = n.OnFailed
	}
	return out
}

// Prop returns a property as a trimmed string, "" when absent
func (n PipelineNode) Prop(key string) string {
	return strings.TrimSpace(stringValue(n.Properties[key]))
}

// PropOr returns the property or fallback when it is empty
func (n PipelineNode) PropOr(key, fallback string) string {
	if v := n.Prop(key); v != "" {
		return v
	}
	return fallback
}

// Flag returns a property as a boolean, false when absent or unparsable
func (n PipelineNode) Flag(key string) bool {
	switch v := n.Properties[key].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(strings.TrimSpace(v))
		return b
	case float64:
		return v != 0
	case int:
		return v != 0
	default:
		return false
	}
}

// List returns a list property. A plain string is split on newlines
// (commands) or whitespace/commas when split is true (package lists).
func (n PipelineNode) List(key string, split bool) []string {
	var out []string
	switch v := n.Properties[key].(type) {
	case []any:
		for _, item := range v {
			if s := strings.TrimSpace(stringValue(item)); s != "" {
				out = append(out, s)
			}
		}
	case []string:
		for _, item := range v {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		var parts []string
		if split {
			parts = strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ' ' || r == '\n' || r == '\t' })
		} else {
			parts = strings.Split(v, "\n")
		}
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}

// Pairs returns a map or KEY=VALUE list property as pairs sorted by key
func (n PipelineNode) Pairs(key string) [][2]string {
	values := map[string]string{}
	switch v := n.Properties[key].(type) {
	case map[string]any:
		for k, val := range v {
			values[k] = stringValue(val)
		}
	case map[string]string:
		for k, val := range v {
			values[k] = val
		}
	default:
		for _, item := range n.List(key, false) {
			k, val, ok := strings.Cut(item, "=")
			if !ok {
				continue
			}
			values[strings.TrimSpace(k)] = strings.TrimSpace(val)
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		if strings.TrimSpace(k) == "" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([][2]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, [2]string{k, values[k]})
	}
	return out
}

func stringValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
