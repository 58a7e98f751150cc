// Package citadel embeds the OpenAPI document of the install daemon.
package citadel

import (
	_ "embed"
	"fmt"

	"github.com/getkin/kin-openapi/openapi3"
)

//go:embed openapi.yaml
var OpenAPIYAML []byte

// LoadSwagger parses and validates the embedded OpenAPI document. Servers
// are cleared so request validation matches any host, including the unix
// socket.
func LoadSwagger() (*openapi3.T, error) {
	loader := openapi3.NewLoader()
	doc, err := loader.LoadFromData(OpenAPIYAML)
	if err != nil {
		return nil, fmt.Errorf("load openapi document: %w", err)
	}
	if err := doc.Validate(loader.Context); err != nil {
		return nil, fmt.Errorf("validate openapi document: %w", err)
	}
	doc.Servers = nil
	return doc, nil
}
