package sandbox

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/progrunhq/progrun/internal/program/model"
)

// Stub is a generated UI-binding source file
type Stub struct {
	FileName string
	Source   string
}

// Element is the normalized view of one UI component configuration element
type Element struct {
	ID         string
	Type       string
	Label      string
	Required   bool
	CustomName string
	Cells      []Cell
}

// Cell maps a table cell's custom name to its cell id
type Cell struct {
	CellID     string
	CustomName string
}

// GenerateStub produces the language-specific UI-binding stub for a component
func GenerateStub(language model.Language, component *model.UiComponent) (*Stub, error) {
	elements := parseElements(component)
	className := classNameOf(component.Name)

	switch language {
	case model.LanguagePython:
		return generatePythonStub(className, elements), nil
	case model.LanguageCSharp:
		return generateCSharpStub(className, elements), nil
	default:
		return generateGenericStub(language), nil
	}
}

func parseElements(component *model.UiComponent) []Element {
	var elements []Element
	for _, raw := range component.Elements() {
		e := Element{
			ID:         stringField(raw, "id"),
			Type:       stringField(raw, "type"),
			Label:      stringField(raw, "label"),
			CustomName: stringField(raw, "customName"),
		}
		if required, ok := raw["required"].(bool); ok {
			e.Required = required
		}
		if e.ID == "" {
			continue
		}

		if cells, ok := raw["cells"].([]interface{}); ok {
			for _, rc := range cells {
				cm, ok := rc.(map[string]interface{})
				if !ok {
					continue
				}
				cell := Cell{
					CellID:     stringField(cm, "cellId"),
					CustomName: stringField(cm, "customName"),
				}
				if cell.CellID != "" {
					e.Cells = append(e.Cells, cell)
				}
			}
		}
		elements = append(elements, e)
	}
	return elements
}

func stringField(m map[string]interface{}, key string) string {
	s, _ := m[key].(string)
	return s
}

// classNameOf turns a component name into a PascalCase identifier
func classNameOf(name string) string {
	if name == "" {
		return "UiComponent"
	}

	var b strings.Builder
	upperNext := true
	for _, r := range name {
		switch {
		case r == ' ' || r == '-' || r == '_' || r == '.':
			upperNext = true
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'):
			if upperNext {
				b.WriteString(strings.ToUpper(string(r)))
				upperNext = false
			} else {
				b.WriteRune(r)
			}
		}
	}
	if b.Len() == 0 {
		return "UiComponent"
	}
	out := b.String()
	if out[0] >= '0' && out[0] <= '9' {
		out = "Ui" + out
	}
	return out
}

// identOf turns an element id or custom name into a snake_case identifier
func identOf(s string) string {
	var b strings.Builder
	for i, r := range s {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(r - 'A' + 'a')
		default:
			b.WriteByte('_')
		}
	}
	out := strings.Trim(b.String(), "_")
	if out == "" {
		return "field"
	}
	return out
}

// generateGenericStub emits a minimal shim surfacing the raw JSON argument
func generateGenericStub(language model.Language) *Stub {
	switch language {
	case model.LanguageNodeJS:
		return &Stub{
			FileName: "ui_input.js",
			Source: `// Generated UI input shim. Do not edit.
'use strict';

function load() {
  const raw = process.argv[2] || '{}';
  return JSON.parse(raw);
}

module.exports = { load };
`,
		}
	case model.LanguageJava:
		return &Stub{
			FileName: "UiInput.java",
			Source: `// Generated UI input shim. Do not edit.
public final class UiInput {
    private UiInput() {}

    public static String raw(String[] args) {
        return args.length > 0 ? args[0] : "{}";
    }
}
`,
		}
	default:
		return &Stub{
			FileName: "ui_input.txt",
			Source:   "UI input is passed as the first command-line argument (JSON).\n",
		}
	}
}

func hashOf(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
