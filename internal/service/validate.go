package service

import (
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/tidwall/gjson"
)

// ErrInvalidRequest matches every *InvalidRequestError.
var ErrInvalidRequest = errors.New("invalid request")

// InvalidRequestError is a local validation failure, detected before any
// upstream call.
type InvalidRequestError struct {
	Reason string
}

func (e *InvalidRequestError) Error() string { return e.Reason }

func (e *InvalidRequestError) Is(target error) bool { return target == ErrInvalidRequest }

func invalid(format string, args ...any) error {
	return &InvalidRequestError{Reason: fmt.Sprintf(format, args...)}
}

// TransferRequest is the body of POST /transfers/outgoing.
type TransferRequest struct {
	TargetOperatorID   string `json:"target_operator_id" validate:"required"`
	TargetOperatorName string `json:"target_operator_name" validate:"omitempty,max=200"`
	TargetAPIURL       string `json:"target_api_url" validate:"omitempty,url"`
}

var validate = newValidator()

// newValidator reports fields by their json names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// decodeAndValidate unmarshals body into v and runs its validate tags.
func decodeAndValidate(body []byte, v any) error {
	if err := requireJSONObject(body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return invalid("malformed request body: %v", err)
	}
	if err := validate.Struct(v); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return invalid("%v", err)
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, fe.Field()+": "+formatError(fe))
		}
		return invalid("%s", strings.Join(msgs, "; "))
	}
	return nil
}

func formatError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required field missing"
	case "url":
		return "must be a valid URL"
	case "max":
		return fmt.Sprintf("length must be at most %s", fe.Param())
	}
	return fe.Error()
}

func requireJSONObject(body []byte) error {
	if len(body) == 0 {
		return invalid("request body is required")
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return invalid("request body must be a JSON object")
	}
	return nil
}

// requireSegments rejects empty path segments and ones that would change
// the upstream path.
func requireSegments(segments ...string) error {
	for _, seg := range segments {
		if seg == "" || seg == "." || seg == ".." {
			return invalid("invalid path segment %q", seg)
		}
	}
	return nil
}
