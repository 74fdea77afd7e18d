// Package openapi embeds the HTTP API description.
package openapi

import _ "embed"

// APISpec is the OpenAPI 3 document for the catalog API.
//
//go:embed plasticatlas.yaml
var APISpec []byte

// Spec returns a copy of the embedded OpenAPI YAML.
func Spec() []byte {
	return append([]byte(nil), APISpec...)
}
