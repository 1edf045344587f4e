package scene

import (
	"bytes"
	"encoding/json"
)

// RenameID replaces the identifier from with to everywhere in the scene:
// element ids, group memberships, and every JSON string value or object key
// in pass-through fields that is exactly equal to from (container ids,
// bindings, bound elements, selection state and so on). Substrings are never
// touched. It returns the number of replacements.
func (s *Scene) RenameID(from, to string) int {
	if from == "" || from == to {
		return 0
	}
	quoted, _ := json.Marshal(from)

	n := rewriteFields(s.extra, quoted, from, to)
	for _, el := range s.Elements {
		if el.ID == from {
			el.ID = to
			n++
		}
		for i, g := range el.GroupIDs {
			if g == from {
				el.GroupIDs[i] = to
				n++
			}
		}
		n += rewriteFields(el.extra, quoted, from, to)
	}
	return n
}

func rewriteFields(fields map[string]json.RawMessage, quoted []byte, from, to string) int {
	n := 0
	for key, raw := range fields {
		if !bytes.Contains(raw, quoted) {
			continue
		}
		var v any
		if err := unmarshal(raw, &v); err != nil {
			continue
		}
		v, c := rewriteValue(v, from, to)
		if c == 0 {
			continue
		}
		out, err := json.Marshal(v)
		if err != nil {
			continue
		}
		fields[key] = out
		n += c
	}
	return n
}

func rewriteValue(v any, from, to string) (any, int) {
	switch t := v.(type) {
	case string:
		if t == from {
			return to, 1
		}
		return t, 0
	case []any:
		n := 0
		for i := range t {
			var c int
			t[i], c = rewriteValue(t[i], from, to)
			n += c
		}
		return t, n
	case map[string]any:
		n := 0
		renamed := false
		for k, val := range t {
			nv, c := rewriteValue(val, from, to)
			t[k] = nv
			n += c
			if k == from {
				renamed = true
			}
		}
		if renamed {
			t[to] = t[from]
			delete(t, from)
			n++
		}
		return t, n
	default:
		return v, 0
	}
}
