// Package transformer implements the Transformer stage (§4.4.1):
// converting between the client schema and a provider-family schema,
// message-role mapping, tool-definition conversion, and tool-call id
// linkage.
package transformer

import (
	"bytes"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/protorelay/gateway/clientschema"
	"github.com/protorelay/gateway/relayerr"
)

// ValidateToolSchemas compiles every tool definition's JSON-Schema
// parameters to confirm they are well-formed before conversion; a
// malformed schema is a TransformError, never a silent drop (§4.4.1).
func ValidateToolSchemas(tools []clientschema.ToolDefinition) error {
	for _, t := range tools {
		if len(t.InputSchema) == 0 {
			continue
		}
		compiler := jsonschema.NewCompiler()
		url := "inline:///" + t.Name + ".json"
		if err := compiler.AddResource(url, bytes.NewReader(t.InputSchema)); err != nil {
			return relayerr.Wrap(relayerr.KindTransformError, err, fmt.Sprintf("tool %q: adding schema resource", t.Name))
		}
		if _, err := compiler.Compile(url); err != nil {
			return relayerr.Wrap(relayerr.KindTransformError, err, fmt.Sprintf("tool %q: invalid parameter schema", t.Name))
		}
	}
	return nil
}
