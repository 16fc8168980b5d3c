package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/go-playground/validator/v10"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// requestError is a malformed or invalid request body.
type requestError struct {
	code  string
	field string
	err   error
}

func (e *requestError) Error() string { return e.err.Error() }

// decodeRequest reads a JSON body into v and validates its struct tags.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			err = errors.New("empty body")
		}
		return &requestError{code: "invalid_json_body", err: err}
	}
	if err := validate.Struct(v); err != nil {
		return formatValidationError(err)
	}
	return nil
}

// formatValidationError reports the first failed rule in a readable form.
func formatValidationError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) || len(validationErrs) == 0 {
		return &requestError{code: "invalid_value", err: err}
	}

	e := validationErrs[0]
	field, tag, param := e.Field(), e.Tag(), e.Param()

	var msg error
	switch tag {
	case "required":
		msg = fmt.Errorf("%s: field is required", field)
	case "min":
		msg = fmt.Errorf("%s: must be at least %s", field, param)
	case "max":
		msg = fmt.Errorf("%s: must not exceed %s", field, param)
	case "oneof":
		msg = fmt.Errorf("%s: must be one of %s", field, param)
	case "url":
		msg = fmt.Errorf("%s: must be an absolute url", field)
	default:
		msg = fmt.Errorf("%s: validation failed (%s)", field, tag)
	}
	return &requestError{code: "invalid_value", field: field, err: msg}
}
