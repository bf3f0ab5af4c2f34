package admitkit

// Request binding for protected actions. Every bind runs decode, then
// sanitize.Struct, then struct tag validation with go-playground/validator/v10,
// so handlers only ever see cleaned and validated input.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strconv"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/nhalm/admitkit/sanitize"
)

type bindContextKey string

const bindConfigKey bindContextKey = "bind_config"

var (
	validate          *validator.Validate
	validateMu        sync.RWMutex
	defaultBindConfig = &bindConfig{formatter: defaultFormatter}
)

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form", "query"} {
			if name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]; name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
}

// MessageFormatter generates human-readable message from validation error.
// Parameters: field name, validation tag, tag parameter (e.g., "10" from "min=10")
type MessageFormatter func(field, tag, param string) string

type bindConfig struct {
	formatter MessageFormatter
}

// BindOption configures the bind middleware.
type BindOption func(*bindConfig)

// BindWithFormatter sets a custom message formatter for validation errors.
func BindWithFormatter(fn MessageFormatter) BindOption {
	return func(c *bindConfig) {
		c.formatter = fn
	}
}

// Binder returns middleware that makes bind options available to Bind, BindForm
// and BindQuery further down the chain.
func Binder(opts ...BindOption) func(http.Handler) http.Handler {
	cfg := &bindConfig{formatter: defaultFormatter}
	for _, opt := range opts {
		opt(cfg)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := context.WithValue(r.Context(), bindConfigKey, cfg)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func getBindConfig(ctx context.Context) *bindConfig {
	if cfg, ok := ctx.Value(bindConfigKey).(*bindConfig); ok {
		return cfg
	}
	return defaultBindConfig
}

func defaultFormatter(_, tag, param string) string {
	switch tag {
	case "required":
		return "required"
	case "email":
		return "must be a valid email"
	case "min":
		return "must be at least " + param
	case "max":
		return "must be at most " + param
	case "oneof":
		return "must be one of: " + param
	case "url", "http_url":
		return "must be a valid URL"
	case "uri":
		return "must be a valid URI"
	default:
		if param != "" {
			return tag + "=" + param
		}
		return tag
	}
}

// Bind decodes a JSON request body into dest, sanitizes it and validates it.
// Returns true if all three steps succeeded. On failure an error is set in the
// wrapper state (if available) and the handler should return.
//
// If MaxBodySize is active, a body that exceeds the limit during decode yields
// ErrPayloadTooLarge (413).
//
//	var msg ContactMessage
//	if !admitkit.Bind(r, &msg) {
//		return
//	}
func Bind(r *http.Request, dest any) bool {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			bindFail(r, ErrPayloadTooLarge.With("Request body too large"))
		} else {
			bindFail(r, ErrBadRequest.With("Invalid JSON request body"))
		}
		return false
	}
	return finishBind(r, dest)
}

// BindForm decodes an application/x-www-form-urlencoded body into the fields of
// dest tagged with `form:"name"`, then sanitizes and validates like Bind.
func BindForm(r *http.Request, dest any) bool {
	if err := r.ParseForm(); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			bindFail(r, ErrPayloadTooLarge.With("Request body too large"))
		} else {
			bindFail(r, ErrBadRequest.With("Invalid form body"))
		}
		return false
	}
	if err := decodeValues(r.PostForm, "form", dest); err != nil {
		bindFail(r, ErrBadRequest.With("Invalid form body"))
		return false
	}
	return finishBind(r, dest)
}

// BindQuery decodes query parameters into the fields of dest tagged with
// `query:"name"`, then sanitizes and validates like Bind.
func BindQuery(r *http.Request, dest any) bool {
	if err := decodeValues(r.URL.Query(), "query", dest); err != nil {
		bindFail(r, ErrBadRequest.With("Invalid query parameters"))
		return false
	}
	return finishBind(r, dest)
}

// RegisterValidation registers a custom validation function.
// Must be called at startup before handling requests.
func RegisterValidation(tag string, fn validator.Func) error {
	validateMu.Lock()
	defer validateMu.Unlock()
	return validate.RegisterValidation(tag, fn)
}

func finishBind(r *http.Request, dest any) bool {
	if err := sanitize.Struct(dest); err != nil {
		bindFail(r, ErrInternal)
		return false
	}

	validateMu.RLock()
	err := validate.Struct(dest)
	validateMu.RUnlock()

	if err != nil {
		cfg := getBindConfig(r.Context())
		bindFail(r, NewValidationError(translateErrors(err, cfg.formatter)))
		return false
	}
	return true
}

func bindFail(r *http.Request, apiErr *APIError) {
	if HasState(r.Context()) {
		SetError(r, apiErr)
	}
}

func translateErrors(err error, formatter MessageFormatter) []FieldError {
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return []FieldError{{
			Param:   "",
			Code:    "validation",
			Message: err.Error(),
		}}
	}
	result := make([]FieldError, len(errs))
	for i, e := range errs {
		result[i] = FieldError{
			Param:   e.Field(),
			Code:    e.Tag(),
			Message: formatter(e.Field(), e.Tag(), e.Param()),
		}
	}
	return result
}

func decodeValues(values url.Values, tagName string, dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("dest must be non-nil pointer to struct")
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("dest must be pointer to struct, got pointer to %s", v.Kind())
	}
	t := v.Type()

	for i := range t.NumField() {
		tag := t.Field(i).Tag.Get(tagName)
		if tag == "" || tag == "-" {
			continue
		}

		fieldVal := v.Field(i)
		if !fieldVal.CanSet() {
			continue
		}

		name := strings.SplitN(tag, ",", 2)[0]
		if fieldVal.Kind() == reflect.Slice && fieldVal.Type().Elem().Kind() == reflect.String {
			if vals, ok := values[name]; ok {
				fieldVal.Set(reflect.ValueOf(append([]string(nil), vals...)))
			}
			continue
		}

		value := values.Get(name)
		if value == "" {
			continue
		}
		if err := setField(fieldVal, value); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
	}

	return nil
}

func setField(field reflect.Value, value string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(value, 10, field.Type().Bits())
		if err != nil {
			return err
		}
		field.SetUint(n)
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)
	default:
		return fmt.Errorf("unsupported type: %s", field.Kind())
	}
	return nil
}
