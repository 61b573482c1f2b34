package shared

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// MaxJSONBodyBytes bounds JSON request bodies.
const MaxJSONBodyBytes = 1 << 20

// ErrBodyTooLarge is returned when a request body exceeds its limit.
var ErrBodyTooLarge = errors.New("request body too large")

// Global validator instance for reuse
var validate = validator.New()

// DecodeJSON decodes the request body into v. Bodies over MaxJSONBodyBytes
// are rejected with ErrBodyTooLarge.
func DecodeJSON(r *http.Request, v any) error {
	body := io.LimitReader(r.Body, MaxJSONBodyBytes+1)
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	if len(data) > MaxJSONBodyBytes {
		return ErrBodyTooLarge
	}
	return json.Unmarshal(data, v)
}

// ValidateRequest validates v with its own Validate method when it has one,
// or with the struct tags otherwise.
func ValidateRequest(v any) error {
	if validator, ok := v.(interface{ Validate() error }); ok {
		return validator.Validate()
	}
	return validate.Struct(v)
}

// QueryInt reads an integer query parameter, returning def when it is absent.
func QueryInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}

// FormBool reads a boolean form field, returning def when it is absent.
// It accepts the forms strconv.ParseBool does plus "on"/"off" and "yes"/"no".
func FormBool(r *http.Request, name string, def bool) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(r.FormValue(name)))
	switch raw {
	case "":
		return def, nil
	case "on", "yes":
		return true, nil
	case "off", "no":
		return false, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s must be a boolean", name)
	}
	return b, nil
}

// FormInt reads an integer form field, returning def when it is absent.
func FormInt(r *http.Request, name string, def int) (int, error) {
	raw := strings.TrimSpace(r.FormValue(name))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	return n, nil
}
