package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueGetPath(t *testing.T) {
	v := NewValue(map[string]interface{}{
		"user": map[string]interface{}{
			"name": "ada",
			"address": map[string]interface{}{
				"city": "london",
			},
		},
		"count": 3,
	})

	tests := []struct {
		name  string
		path  string
		want  interface{}
		found bool
	}{
		{"root", "", v.Raw(), true},
		{"top level", "count", 3, true},
		{"nested", "user.name", "ada", true},
		{"deeply nested", "user.address.city", "london", true},
		{"missing key", "user.email", nil, false},
		{"path through scalar", "count.value", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := v.GetPath(tt.path)
			assert.Equal(t, tt.found, ok)
			if tt.found {
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestValueSetPath(t *testing.T) {
	v := NewValue(map[string]interface{}{})

	require.NoError(t, v.SetPath("a.b.c", 42))

	got, ok := v.GetPath("a.b.c")
	require.True(t, ok)
	assert.Equal(t, 42, got)
}

func TestValueSetPathOnNil(t *testing.T) {
	var v Value
	require.NoError(t, v.SetPath("x", "y"))

	got, ok := v.GetPath("x")
	require.True(t, ok)
	assert.Equal(t, "y", got)
}

func TestValueSetPathCollision(t *testing.T) {
	v := NewValue(map[string]interface{}{"a": 1})

	err := v.SetPath("a.b", 2)
	assert.Error(t, err)
}

func TestValueSetPathOnScalar(t *testing.T) {
	v := NewValue("scalar")

	err := v.SetPath("a", 1)
	assert.Error(t, err)

	require.NoError(t, v.SetPath("", "replaced"))
	assert.Equal(t, "replaced", v.Raw())
}
