package sandbox

import (
	"fmt"
	"strings"
)

// pythonTypeOf maps a UI element type to its Python coercion
func pythonTypeOf(elementType string) string {
	switch elementType {
	case "number_input", "slider":
		return "float"
	case "checkbox":
		return "bool"
	case "multi_select":
		return "list"
	case "map_input":
		return "dict"
	default:
		// text_input, textarea, dropdown, radio, date_input, file_input
		return "str"
	}
}

func generatePythonStub(className string, elements []Element) *Stub {
	var b strings.Builder

	b.WriteString("# Generated UI binding. Do not edit.\n")
	b.WriteString("import json\n")
	b.WriteString("import sys\n\n\n")
	fmt.Fprintf(&b, "class %s:\n", className)

	var required []string
	for _, e := range elements {
		if e.Required {
			required = append(required, fmt.Sprintf("%q", e.ID))
		}
	}
	fmt.Fprintf(&b, "    REQUIRED_FIELDS = [%s]\n\n", strings.Join(required, ", "))

	b.WriteString("    def __init__(self, data=None):\n")
	b.WriteString("        self._data = dict(data or {})\n\n")

	b.WriteString("    @classmethod\n")
	b.WriteString("    def from_json(cls, raw=None):\n")
	b.WriteString("        if raw is None:\n")
	b.WriteString("            raw = sys.argv[1] if len(sys.argv) > 1 else \"{}\"\n")
	b.WriteString("        instance = cls(json.loads(raw))\n")
	b.WriteString("        instance.validate()\n")
	b.WriteString("        return instance\n\n")

	b.WriteString("    def validate(self):\n")
	b.WriteString("        missing = [f for f in self.REQUIRED_FIELDS if self._data.get(f) is None]\n")
	b.WriteString("        if missing:\n")
	b.WriteString("            raise ValueError(\"missing required fields: \" + \", \".join(missing))\n\n")

	b.WriteString("    def to_json(self):\n")
	b.WriteString("        return json.dumps(self._data)\n")

	for _, e := range elements {
		if e.Type == "table" {
			writePythonTableAccessors(&b, e)
			continue
		}

		ident := identOf(preferredName(e))
		coerce := pythonTypeOf(e.Type)

		fmt.Fprintf(&b, "\n    @property\n")
		fmt.Fprintf(&b, "    def %s(self):\n", ident)
		fmt.Fprintf(&b, "        value = self._data.get(%q)\n", e.ID)
		fmt.Fprintf(&b, "        return %s(value) if value is not None else None\n", coerce)

		fmt.Fprintf(&b, "\n    @%s.setter\n", ident)
		fmt.Fprintf(&b, "    def %s(self, value):\n", ident)
		fmt.Fprintf(&b, "        self._data[%q] = %s(value)\n", e.ID, coerce)
	}

	return &Stub{FileName: "ui_component.py", Source: b.String()}
}

func writePythonTableAccessors(b *strings.Builder, e Element) {
	tableIdent := identOf(preferredName(e))

	fmt.Fprintf(b, "\n    def get_%s_cell(self, cell_id):\n", tableIdent)
	fmt.Fprintf(b, "        table = self._data.get(%q) or {}\n", e.ID)
	fmt.Fprintf(b, "        return table.get(cell_id)\n")

	fmt.Fprintf(b, "\n    def set_%s_cell(self, cell_id, value):\n", tableIdent)
	fmt.Fprintf(b, "        self._data.setdefault(%q, {})[cell_id] = value\n", e.ID)

	for _, cell := range e.Cells {
		if cell.CustomName == "" {
			continue
		}
		ident := identOf(cell.CustomName)

		fmt.Fprintf(b, "\n    @property\n")
		fmt.Fprintf(b, "    def %s(self):\n", ident)
		fmt.Fprintf(b, "        return self.get_%s_cell(%q)\n", tableIdent, cell.CellID)

		fmt.Fprintf(b, "\n    @%s.setter\n", ident)
		fmt.Fprintf(b, "    def %s(self, value):\n", ident)
		fmt.Fprintf(b, "        self.set_%s_cell(%q, value)\n", tableIdent, cell.CellID)
	}
}

// preferredName picks the custom name over the raw element id
func preferredName(e Element) string {
	if e.CustomName != "" {
		return e.CustomName
	}
	return e.ID
}
