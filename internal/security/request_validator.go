package security

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// MaxBytes caps request bodies at limit bytes.
func MaxBytes(limit int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body != nil && limit > 0 {
				r.Body = http.MaxBytesReader(w, r.Body, limit)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// SchemaSet holds compiled JSON schemas by name.
type SchemaSet struct {
	schemas map[string]*jsonschema.Schema
}

// CompileSchemas compiles every schema in docs, keyed by name.
func CompileSchemas(docs map[string]string) (*SchemaSet, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	for name, doc := range docs {
		if err := compiler.AddResource(name+".json", strings.NewReader(doc)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	set := &SchemaSet{schemas: make(map[string]*jsonschema.Schema, len(docs))}
	for name := range docs {
		s, err := compiler.Compile(name + ".json")
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		set.schemas[name] = s
	}
	return set, nil
}

// Validate returns middleware that rejects bodies not matching the named
// schema and replays the body for the next handler. It panics on an
// unknown name, which is a wiring mistake.
func (s *SchemaSet) Validate(name string) func(http.Handler) http.Handler {
	schema, ok := s.schemas[name]
	if !ok {
		panic("security: unknown schema " + name)
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Body == nil {
				WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
				return
			}
			body, err := io.ReadAll(r.Body)
			if err != nil {
				var mbe *http.MaxBytesError
				if errors.As(err, &mbe) {
					WriteJSONError(w, r, http.StatusRequestEntityTooLarge, "payload_too_large")
					return
				}
				WriteJSONError(w, r, http.StatusBadRequest, "invalid_request")
				return
			}
			_ = r.Body.Close()

			var payload any
			dec := json.NewDecoder(bytes.NewReader(body))
			dec.UseNumber()
			if err := dec.Decode(&payload); err != nil {
				WriteJSONError(w, r, http.StatusBadRequest, "invalid_json")
				return
			}
			if err := schema.Validate(payload); err != nil {
				WriteJSONErrorMessage(w, r, http.StatusUnprocessableEntity, "validation_error", validationMessage(err))
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// validationMessage reports the first leaf failure with its location.
func validationMessage(err error) string {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return err.Error()
	}
	for len(ve.Causes) > 0 {
		ve = ve.Causes[0]
	}
	loc := ve.InstanceLocation
	if loc == "" {
		loc = "/"
	}
	return loc + ": " + ve.Message
}
