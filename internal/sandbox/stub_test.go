package sandbox

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/progrunhq/progrun/internal/program/model"
)

func formComponent() *model.UiComponent {
	return &model.UiComponent{
		Name: "invoice-entry form",
		Configuration: map[string]interface{}{
			"elements": []interface{}{
				map[string]interface{}{"id": "customerName", "type": "text_input", "label": "Customer", "required": true},
				map[string]interface{}{"id": "amount", "type": "number_input", "required": true},
				map[string]interface{}{"id": "paid", "type": "checkbox"},
				map[string]interface{}{"id": "lines", "type": "table", "cells": []interface{}{
					map[string]interface{}{"cellId": "c1", "customName": "itemName"},
					map[string]interface{}{"cellId": "c2"},
				}},
				map[string]interface{}{"type": "text_input"}, // no id, skipped
			},
		},
	}
}

func TestGeneratePythonStub(t *testing.T) {
	stub, err := GenerateStub(model.LanguagePython, formComponent())
	require.NoError(t, err)

	assert.Equal(t, "ui_component.py", stub.FileName)
	assert.Contains(t, stub.Source, "class InvoiceEntryForm:")
	assert.Contains(t, stub.Source, `"customerName"`)
	assert.Contains(t, stub.Source, `"amount"`)
	assert.NotContains(t, stub.Source, "REQUIRED_FIELDS = []")
}

func TestGenerateCSharpStub(t *testing.T) {
	stub, err := GenerateStub(model.LanguageCSharp, formComponent())
	require.NoError(t, err)

	assert.Equal(t, "InvoiceEntryForm.cs", stub.FileName)
	assert.Contains(t, stub.Source, "class InvoiceEntryForm")
}

func TestGenerateGenericStub(t *testing.T) {
	stub, err := GenerateStub(model.LanguageNodeJS, formComponent())
	require.NoError(t, err)
	assert.Equal(t, "ui_input.js", stub.FileName)

	stub, err = GenerateStub(model.LanguageJava, formComponent())
	require.NoError(t, err)
	assert.Equal(t, "UiInput.java", stub.FileName)
}

func TestStubGenerationIsDeterministic(t *testing.T) {
	component := formComponent()

	first, err := GenerateStub(model.LanguagePython, component)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := GenerateStub(model.LanguagePython, component)
		require.NoError(t, err)
		assert.Equal(t, first.Source, again.Source, "same component must yield an identical stub")
		assert.Equal(t, first.FileName, again.FileName)
	}
}

func TestClassNameOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"order form", "OrderForm"},
		{"invoice-entry_v2", "InvoiceEntryV2"},
		{"", "UiComponent"},
		{"***", "UiComponent"},
		{"2fast", "Ui2fast"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, classNameOf(tt.in), "classNameOf(%q)", tt.in)
	}
}

func TestIdentOf(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"customerName", "customer_name"},
		{"already_snake", "already_snake"},
		{"with space", "with_space"},
		{"", "field"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, identOf(tt.in), "identOf(%q)", tt.in)
	}
}
