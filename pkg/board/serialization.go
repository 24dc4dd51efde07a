package board

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Serialization helpers
//
// Every node has one flat field mapping (NodeToMap). The same mapping is used
// for JSON (event payloads, export files) and for the Redis hash layout, where
// each field value is JSON-encoded into its own hash field so that typed values
// such as versions and the children set survive the string-only hash.

// NodeToMap returns the flat persisted representation of a node.
// Only the link fields meaningful for the node's variant are included.
func NodeToMap(n *Node) map[string]any {
	m := map[string]any{
		"type":             string(n.Type),
		"id":               n.ID,
		"content":          n.Content,
		"version":          n.Version,
		"orig_version":     nullableInt(n.OrigVersion),
		"creator":          nullableString(n.Creator),
		"create_time":      n.CreateTime,
		"last_update_time": n.LastUpdateTime,
	}
	if m["content"] == nil || len(n.Content) == 0 {
		m["content"] = map[string]any{}
	}

	switch n.Type {
	case TypeBoard:
		children := make([]string, len(n.Children))
		copy(children, n.Children)
		sort.Strings(children)
		m["children"] = children
	case TypeColumnHeader:
		m["parent"] = nullableString(n.Parent)
		m["child"] = nullableString(n.Child)
	case TypeContent:
		m["parent"] = nullableString(n.Parent)
		m["child"] = nullableString(n.Child)
		m["column_header"] = nullableString(n.ColumnHeaderID)
	}
	return m
}

// NodeFromMap decodes a flat field mapping into a node. The "type" field
// selects the variant; an unrecognised type yields ErrUnknownNodeType.
func NodeFromMap(m map[string]any) (*Node, error) {
	typeName, _ := m["type"].(string)
	nodeType := NodeType(typeName)
	if err := nodeType.Validate(); err != nil {
		return nil, err
	}

	n := &Node{Type: nodeType}
	var err error
	if n.ID, err = stringField(m, "id"); err != nil {
		return nil, err
	}
	if n.Creator, err = stringField(m, "creator"); err != nil {
		return nil, err
	}
	if n.Version, err = intField(m, "version"); err != nil {
		return nil, err
	}
	if n.OrigVersion, err = intField(m, "orig_version"); err != nil {
		return nil, err
	}
	if n.CreateTime, err = intField(m, "create_time"); err != nil {
		return nil, err
	}
	if n.LastUpdateTime, err = intField(m, "last_update_time"); err != nil {
		return nil, err
	}

	switch c := m["content"].(type) {
	case nil:
		n.Content = Content{}
	case map[string]any:
		n.Content = Content(c)
	case Content:
		n.Content = c
	default:
		return nil, fmt.Errorf("invalid content field: expected object, got %T", c)
	}

	switch nodeType {
	case TypeBoard:
		children, err := stringSliceField(m, "children")
		if err != nil {
			return nil, err
		}
		sort.Strings(children)
		n.Children = children
	case TypeContent:
		if n.ColumnHeaderID, err = stringField(m, "column_header"); err != nil {
			return nil, err
		}
		fallthrough
	case TypeColumnHeader:
		if n.Parent, err = stringField(m, "parent"); err != nil {
			return nil, err
		}
		if n.Child, err = stringField(m, "child"); err != nil {
			return nil, err
		}
	}
	return n, nil
}

// MarshalJSON encodes the node using its flat field mapping.
func (n Node) MarshalJSON() ([]byte, error) {
	return json.Marshal(NodeToMap(&n))
}

// UnmarshalJSON decodes a flat field mapping, rejecting unknown node types.
func (n *Node) UnmarshalJSON(data []byte) error {
	var m map[string]any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&m); err != nil {
		return fmt.Errorf("failed to decode node: %w", err)
	}
	decoded, err := NodeFromMap(m)
	if err != nil {
		return err
	}
	*n = *decoded
	return nil
}

// DecodeNode parses a JSON node.
func DecodeNode(data []byte) (*Node, error) {
	var n Node
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, err
	}
	return &n, nil
}

// NodeToHash converts a node to a Redis hash. Every field value is
// JSON-encoded.
func NodeToHash(n *Node) (map[string]interface{}, error) {
	hash := make(map[string]interface{})
	for field, value := range NodeToMap(n) {
		encoded, err := json.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal field %s: %w", field, err)
		}
		hash[field] = string(encoded)
	}
	return hash, nil
}

// HashToNode converts a Redis hash back into a node.
func HashToNode(hash map[string]string) (*Node, error) {
	m := make(map[string]any, len(hash))
	for field, raw := range hash {
		var value any
		dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
		dec.UseNumber()
		if err := dec.Decode(&value); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field %s: %w", field, err)
		}
		m[field] = value
	}
	return NodeFromMap(m)
}

// EncodeInt renders an integer the way it is stored in a node hash field.
func EncodeInt(v int64) string {
	return strconv.FormatInt(v, 10)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v int64) any {
	if v == 0 {
		return nil
	}
	return v
}

func stringField(m map[string]any, field string) (string, error) {
	switch v := m[field].(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	default:
		return "", fmt.Errorf("invalid %s field: expected string, got %T", field, v)
	}
}

func intField(m map[string]any, field string) (int64, error) {
	switch v := m[field].(type) {
	case nil:
		return 0, nil
	case json.Number:
		i, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, fmt.Errorf("invalid %s field: %w", field, err)
			}
			return int64(f), nil
		}
		return i, nil
	case float64:
		return int64(v), nil
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case string:
		i, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid %s field: %w", field, err)
		}
		return i, nil
	default:
		return 0, fmt.Errorf("invalid %s field: expected number, got %T", field, v)
	}
}

func stringSliceField(m map[string]any, field string) ([]string, error) {
	switch v := m[field].(type) {
	case nil:
		return []string{}, nil
	case []string:
		out := make([]string, len(v))
		copy(out, v)
		return out, nil
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("invalid %s field: expected string items, got %T", field, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("invalid %s field: expected array, got %T", field, v)
	}
}

// contentEqual compares two content maps by their canonical JSON encoding,
// which normalises numeric representations.
func contentEqual(a, b Content) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	ea, errA := json.Marshal(a)
	eb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ea, eb)
}
