// SPDX-License-Identifier: Apache-2.0

package upstream

import (
	"testing"

	gomcp "github.com/mark3labs/mcp-go/mcp"

	"github.com/labiium/skills/pkg/registry"
)

func TestSchemaFromTool_ConvertsPropertiesAndRequired(t *testing.T) {
	tool := gomcp.Tool{
		Name: "write_file",
		InputSchema: gomcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"path":    map[string]any{"type": "string"},
				"content": map[string]any{"type": "string", "default": ""},
			},
			Required: []string{"path"},
		},
	}
	schema, err := schemaFromTool(tool)
	if err != nil {
		t.Fatalf("schemaFromTool: %v", err)
	}
	if schema.Type != "object" {
		t.Errorf("type = %q, want object", schema.Type)
	}
	if len(schema.Required) != 1 || schema.Required[0] != "path" {
		t.Errorf("required = %v, want [path]", schema.Required)
	}
	if _, ok := schema.Properties["path"]; !ok {
		t.Error("expected a path property")
	}

	sig := registry.DeriveSignature(schema)
	if len(sig.Required) != 1 || sig.Required[0].Name != "path" {
		t.Errorf("signature required = %+v", sig.Required)
	}
	if len(sig.Optional) != 1 || sig.Optional[0].Name != "content" {
		t.Errorf("signature optional = %+v", sig.Optional)
	}
}

func TestInferRiskTier(t *testing.T) {
	cases := map[string]registry.RiskTier{
		"delete_file":  registry.RiskDestructive,
		"write_file":   registry.RiskWrite,
		"http_fetch":   registry.RiskNetwork,
		"list_files":   registry.RiskReadOnly,
		"read_file":    registry.RiskReadOnly,
	}
	for name, want := range cases {
		if got := inferRiskTier(name); got != want {
			t.Errorf("inferRiskTier(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestToolFQN_JoinsAliasAndNameWithSlash(t *testing.T) {
	if got := toolFQN("filesystem", "read_file"); got != "filesystem/read_file" {
		t.Errorf("toolFQN = %q, want filesystem/read_file", got)
	}
}

func TestEnvOrLiteral_FallsBackToLiteralWhenUnset(t *testing.T) {
	if got := envOrLiteral("MCP_TOOLBROKER_TEST_VAR_DOES_NOT_EXIST"); got != "MCP_TOOLBROKER_TEST_VAR_DOES_NOT_EXIST" {
		t.Errorf("envOrLiteral fallback = %q", got)
	}
	if got := envOrLiteral(""); got != "" {
		t.Errorf("envOrLiteral empty = %q, want empty", got)
	}
}
