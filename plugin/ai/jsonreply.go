package ai

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var jsonArrayPattern = regexp.MustCompile(`(?s)\[.*\]`)

// ExtractJSONArray returns the outermost JSON array embedded in a model reply.
// Code fences and surrounding prose are ignored.
func ExtractJSONArray(reply string) (string, bool) {
	raw := jsonArrayPattern.FindString(reply)
	if raw == "" {
		return "", false
	}
	return raw, true
}

// MustCompileSchema compiles an inline JSON schema document. It panics on an
// invalid schema, so it is meant for package-level variables.
func MustCompileSchema(name, source string) *jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(name, strings.NewReader(source)); err != nil {
		panic(fmt.Sprintf("add schema %s: %v", name, err))
	}
	return compiler.MustCompile(name)
}

// DecodeJSONArray extracts the JSON array from reply, validates it against
// schema and decodes it into out.
func DecodeJSONArray(reply string, schema *jsonschema.Schema, out any) error {
	raw, ok := ExtractJSONArray(reply)
	if !ok {
		return fmt.Errorf("no JSON array in reply")
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if schema != nil {
		if err := schema.Validate(doc); err != nil {
			return fmt.Errorf("reply does not match schema: %w", err)
		}
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("decode reply: %w", err)
	}
	return nil
}
