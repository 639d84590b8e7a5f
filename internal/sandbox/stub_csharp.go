package sandbox

import (
	"fmt"
	"strings"
)

// csharpTypeOf maps a UI element type to its C# property type
func csharpTypeOf(elementType string) string {
	switch elementType {
	case "number_input", "slider":
		return "double?"
	case "checkbox":
		return "bool?"
	case "multi_select":
		return "List<string>"
	case "map_input":
		return "Dictionary<string, object>"
	default:
		return "string"
	}
}

// pascalOf turns an element name into a PascalCase C# identifier
func pascalOf(s string) string {
	parts := strings.FieldsFunc(identOf(s), func(r rune) bool { return r == '_' })
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(strings.ToUpper(p[:1]))
		b.WriteString(p[1:])
	}
	if b.Len() == 0 {
		return "Field"
	}
	return b.String()
}

func generateCSharpStub(className string, elements []Element) *Stub {
	var b strings.Builder

	b.WriteString("// Generated UI binding. Do not edit.\n")
	b.WriteString("using System;\n")
	b.WriteString("using System.Collections.Generic;\n")
	b.WriteString("using System.Text.Json;\n")
	b.WriteString("using System.Text.Json.Serialization;\n\n")
	fmt.Fprintf(&b, "public class %s\n{\n", className)

	for _, e := range elements {
		if e.Type == "table" {
			fmt.Fprintf(&b, "    [JsonPropertyName(%q)]\n", e.ID)
			fmt.Fprintf(&b, "    public Dictionary<string, object> %s { get; set; } = new();\n\n", pascalOf(preferredName(e)))
			continue
		}
		fmt.Fprintf(&b, "    [JsonPropertyName(%q)]\n", e.ID)
		fmt.Fprintf(&b, "    public %s %s { get; set; }\n\n", csharpTypeOf(e.Type), pascalOf(preferredName(e)))
	}

	fmt.Fprintf(&b, "    public static %s FromJson(string[] args)\n", className)
	b.WriteString("    {\n")
	b.WriteString("        var raw = args.Length > 0 ? args[0] : \"{}\";\n")
	fmt.Fprintf(&b, "        var instance = JsonSerializer.Deserialize<%s>(raw) ?? new %s();\n", className, className)
	b.WriteString("        instance.Validate();\n")
	b.WriteString("        return instance;\n")
	b.WriteString("    }\n\n")

	b.WriteString("    public void Validate()\n")
	b.WriteString("    {\n")
	for _, e := range elements {
		if !e.Required || e.Type == "table" {
			continue
		}
		name := pascalOf(preferredName(e))
		fmt.Fprintf(&b, "        if (%s == null) throw new ArgumentException(\"missing required field: %s\");\n", name, e.ID)
	}
	b.WriteString("    }\n")

	// Table cell helpers, honoring custom cell names
	for _, e := range elements {
		if e.Type != "table" {
			continue
		}
		tableName := pascalOf(preferredName(e))

		fmt.Fprintf(&b, "\n    public object Get%sCell(string cellId)\n", tableName)
		b.WriteString("    {\n")
		fmt.Fprintf(&b, "        return %s.TryGetValue(cellId, out var value) ? value : null;\n", tableName)
		b.WriteString("    }\n")

		fmt.Fprintf(&b, "\n    public void Set%sCell(string cellId, object value)\n", tableName)
		b.WriteString("    {\n")
		fmt.Fprintf(&b, "        %s[cellId] = value;\n", tableName)
		b.WriteString("    }\n")

		for _, cell := range e.Cells {
			if cell.CustomName == "" {
				continue
			}
			cellName := pascalOf(cell.CustomName)
			fmt.Fprintf(&b, "\n    [JsonIgnore]\n")
			fmt.Fprintf(&b, "    public object %s\n", cellName)
			b.WriteString("    {\n")
			fmt.Fprintf(&b, "        get => Get%sCell(%q);\n", tableName, cell.CellID)
			fmt.Fprintf(&b, "        set => Set%sCell(%q, value);\n", tableName, cell.CellID)
			b.WriteString("    }\n")
		}
	}

	b.WriteString("}\n")
	return &Stub{FileName: className + ".cs", Source: b.String()}
}
