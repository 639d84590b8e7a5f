package contract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

func TestTransform(t *testing.T) {
	input := map[string]interface{}{
		"result": map[string]interface{}{"sum": 7.0},
		"items":  []interface{}{"a", "b", "c"},
	}

	tests := []struct {
		name       string
		kind       model.TransformKind
		expression string
		want       interface{}
	}{
		{"identity", model.TransformNoTransform, "", input},
		{"empty kind is identity", "", "", input},
		{"jsonpath", model.TransformJSONPath, "$.result.sum", 7.0},
		{"jmespath", model.TransformJMESPath, "items[0]", "a"},
		{"expression", model.TransformExpression, "input.result.sum * 2", 14.0},
		{"template", model.TransformTemplate, "sum={{.result.sum}}", "sum=7"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Transform(tt.kind, tt.expression, input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestTransformErrors(t *testing.T) {
	input := map[string]interface{}{"x": 1}

	tests := []struct {
		name       string
		kind       model.TransformKind
		expression string
	}{
		{"bad jsonpath", model.TransformJSONPath, "$.["},
		{"bad expression", model.TransformExpression, "input +"},
		{"bad template", model.TransformTemplate, "{{.x"},
		{"unknown kind", model.TransformKind("pivot"), "x"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Transform(tt.kind, tt.expression, input)
			assert.Error(t, err)
		})
	}
}

func TestEvalCondition(t *testing.T) {
	env := map[string]interface{}{
		"outputs": map[string]interface{}{"count": 5},
	}

	tests := []struct {
		name       string
		expression string
		want       bool
	}{
		{"empty is true", "", true},
		{"true predicate", "outputs.count > 3", true},
		{"false predicate", "outputs.count > 10", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := EvalCondition(tt.expression, env)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvalConditionNonBoolean(t *testing.T) {
	_, err := EvalCondition("1 + 1", map[string]interface{}{})
	assert.Error(t, err)
}
