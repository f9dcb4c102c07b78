package httpapi

import (
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
)

// resolvedSchema wraps a Schema that has already been resolved once at
// package init, since Resolve is not free and every request reuses the same
// schema.
type resolvedSchema struct {
	*jsonschema.Resolved
}

func mustResolve(s *jsonschema.Schema) resolvedSchema {
	r, err := s.Resolve(nil)
	if err != nil {
		panic(fmt.Sprintf("httpapi: invalid schema literal: %v", err))
	}
	return resolvedSchema{r}
}

func minLen(n int) *int { return &n }

var (
	createSessionSchema = mustResolve(&jsonschema.Schema{
		Type: "object",
		Properties: map[string]*jsonschema.Schema{
			"session_id":   {Type: "string"},
			"cwd_path":     {Type: "string"},
			"sandbox_kind": {Type: "string", Enum: []any{"process", "docker"}},
			"env":          {Type: "object"},
			"init_config":  {Type: "object"},
		},
	})

	loadExtensionSchema = mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"name", "source"},
		Properties: map[string]*jsonschema.Schema{
			"name":   {Type: "string", MinLength: minLen(1)},
			"source": {Type: "string"},
			"config": {Type: "object"},
		},
	})

	executeSchema = mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"exec_id", "code"},
		Properties: map[string]*jsonschema.Schema{
			"exec_id": {Type: "string", MinLength: minLen(1)},
			"code":    {Type: "string"},
			"stream":  {Type: "boolean"},
		},
	})

	updateVariablesSchema = mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"bindings"},
		Properties: map[string]*jsonschema.Schema{
			"bindings": {Type: "object"},
		},
	})

	uploadFileSchema = mustResolve(&jsonschema.Schema{
		Type:     "object",
		Required: []string{"filename", "content_base64"},
		Properties: map[string]*jsonschema.Schema{
			"filename":       {Type: "string", MinLength: minLen(1)},
			"content_base64": {Type: "string"},
		},
	})
)
