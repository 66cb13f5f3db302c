package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/rl1809/folk-trade/internal/core/domain"
)

const maxBodyBytes = 1 << 20

const schemaPlaceOrder = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["userId", "items"],
  "properties": {
    "userId": { "type": "integer", "minimum": 1 },
    "items": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["artifactId", "quantity"],
        "properties": {
          "artifactId": { "type": "integer", "minimum": 1 },
          "quantity": { "type": "integer", "minimum": 1, "maximum": 2147483647 }
        }
      }
    },
    "simulateFailure": { "type": "boolean" }
  }
}`

const schemaLogin = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["email", "password"],
  "properties": {
    "email": { "type": "string", "minLength": 1 },
    "password": { "type": "string", "minLength": 1 }
  }
}`

const schemaSignup = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["name", "email", "password"],
  "properties": {
    "name": { "type": "string", "minLength": 1 },
    "email": { "type": "string", "minLength": 3 },
    "password": { "type": "string", "minLength": 8 }
  }
}`

var (
	placeOrderLoader = gojsonschema.NewStringLoader(schemaPlaceOrder)
	loginLoader      = gojsonschema.NewStringLoader(schemaLogin)
	signupLoader     = gojsonschema.NewStringLoader(schemaSignup)
)

// decodeBody validates the request body against schema and decodes it into
// dst. Schema violations come back as a validation error with one entry per
// offending field. Bodies over maxBodyBytes are rejected, never truncated.
func decodeBody(w http.ResponseWriter, r *http.Request, schema gojsonschema.JSONLoader, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return domain.NewValidationError(domain.FieldError{
				Field:   "body",
				Message: fmt.Sprintf("body too large: limit is %d bytes", tooLarge.Limit),
			})
		}
		return domain.NewValidationError(domain.FieldError{Field: "body", Message: "could not be read"})
	}
	if len(body) == 0 {
		return domain.NewValidationError(domain.FieldError{Field: "body", Message: "is required"})
	}

	result, err := gojsonschema.Validate(schema, gojsonschema.NewBytesLoader(body))
	if err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "body", Message: "must be valid JSON"})
	}
	if !result.Valid() {
		fields := make([]domain.FieldError, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			fields = append(fields, domain.FieldError{Field: fieldOf(e), Message: e.Description()})
		}
		return domain.NewValidationError(fields...)
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return domain.NewValidationError(domain.FieldError{Field: "body", Message: fmt.Sprintf("could not be decoded: %v", err)})
	}
	return nil
}

// fieldOf returns the dotted path of the offending value. Required errors
// are reported against the missing property rather than its parent.
func fieldOf(e gojsonschema.ResultError) string {
	field := e.Field()
	if e.Type() != "required" {
		return field
	}
	prop, ok := e.Details()["property"].(string)
	if !ok {
		return field
	}
	switch {
	case field == "(root)":
		return prop
	case field == prop, strings.HasSuffix(field, "."+prop):
		return field
	}
	return field + "." + prop
}
