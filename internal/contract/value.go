// Package contract routes data between workflow nodes through typed,
// lineage-carrying envelopes.
package contract

import (
	"fmt"
	"strings"
)

// Value is an opaque structured value supporting path access
type Value struct {
	data interface{}
}

// NewValue wraps a raw value
func NewValue(data interface{}) Value {
	return Value{data: data}
}

// Raw returns the underlying value
func (v Value) Raw() interface{} { return v.data }

// GetPath resolves a dot-separated path into the value
func (v Value) GetPath(path string) (interface{}, bool) {
	if path == "" {
		return v.data, true
	}

	current := v.data
	for _, part := range strings.Split(path, ".") {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// SetPath writes a dot-separated path, creating intermediate maps
func (v *Value) SetPath(path string, value interface{}) error {
	if path == "" {
		v.data = value
		return nil
	}

	root, ok := v.data.(map[string]interface{})
	if !ok {
		if v.data != nil {
			return fmt.Errorf("cannot set path %q on non-object value", path)
		}
		root = make(map[string]interface{})
		v.data = root
	}

	parts := strings.Split(path, ".")
	current := root
	for _, part := range parts[:len(parts)-1] {
		next, ok := current[part].(map[string]interface{})
		if !ok {
			if _, exists := current[part]; exists {
				return fmt.Errorf("path %q collides with a non-object value", path)
			}
			next = make(map[string]interface{})
			current[part] = next
		}
		current = next
	}
	current[parts[len(parts)-1]] = value
	return nil
}
