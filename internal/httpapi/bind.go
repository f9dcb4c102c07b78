package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/HyphaGroup/cesvault/internal/cerrors"
)

// bindAndValidate reads r's body, validates it against schema, and
// unmarshals it into v. Schema-validation failures are BadRequest and the
// body is never passed through to the session layer.
func bindAndValidate(r *http.Request, schema resolvedSchema, v interface{}) error {
	raw, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		return cerrors.BadRequest("reading request body: %v", err)
	}

	var instance interface{}
	if len(raw) == 0 {
		instance = map[string]interface{}{}
	} else if err := json.Unmarshal(raw, &instance); err != nil {
		return cerrors.BadRequest("invalid JSON body: %v", err)
	}

	if err := schema.Validate(instance); err != nil {
		return cerrors.BadRequest("request body failed validation: %v", err)
	}

	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return cerrors.BadRequest("invalid JSON body: %v", err)
	}
	return nil
}
