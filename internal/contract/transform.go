package contract

import (
	"bytes"
	"fmt"
	"text/template"

	"github.com/PaesslerAG/jsonpath"
	"github.com/expr-lang/expr"
	"github.com/jmespath/go-jmespath"

	"github.com/progrunhq/progrun/internal/workflow/model"
)

// Transform applies a declarative transformation to a value. The input is
// exposed to Expression transforms as `input` and to Template transforms as
// the template's dot.
func Transform(kind model.TransformKind, expression string, input interface{}) (interface{}, error) {
	switch kind {
	case model.TransformNoTransform, "":
		return input, nil

	case model.TransformJSONPath:
		out, err := jsonpath.Get(expression, input)
		if err != nil {
			return nil, fmt.Errorf("jsonpath %q: %w", expression, err)
		}
		return out, nil

	case model.TransformJMESPath:
		out, err := jmespath.Search(expression, input)
		if err != nil {
			return nil, fmt.Errorf("jmespath %q: %w", expression, err)
		}
		return out, nil

	case model.TransformExpression:
		program, err := expr.Compile(expression, expr.Env(map[string]interface{}{"input": input}))
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", expression, err)
		}
		out, err := expr.Run(program, map[string]interface{}{"input": input})
		if err != nil {
			return nil, fmt.Errorf("expression %q: %w", expression, err)
		}
		return out, nil

	case model.TransformTemplate:
		tmpl, err := template.New("transform").Parse(expression)
		if err != nil {
			return nil, fmt.Errorf("template %q: %w", expression, err)
		}
		var buf bytes.Buffer
		if err := tmpl.Execute(&buf, input); err != nil {
			return nil, fmt.Errorf("template %q: %w", expression, err)
		}
		return buf.String(), nil

	default:
		return nil, fmt.Errorf("unknown transformation kind %q", kind)
	}
}

// EvalCondition evaluates a boolean predicate over an environment. Used for
// edge conditions and node conditional execution.
func EvalCondition(expression string, env map[string]interface{}) (bool, error) {
	if expression == "" {
		return true, nil
	}

	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}
	out, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("condition %q: %w", expression, err)
	}

	result, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("condition %q did not evaluate to a boolean", expression)
	}
	return result, nil
}
