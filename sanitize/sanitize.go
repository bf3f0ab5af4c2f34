// Package sanitize cleans user-submitted text before it is validated and stored.
//
// Protected endpoints run authentication, then rate limiting, then sanitization,
// then persistence. Sanitization here is conservative: markup is removed rather
// than escaped, control characters are dropped and whitespace is normalized.
//
// Fields opt in with a struct tag:
//
//	type ContactMessage struct {
//		Name    string `json:"name" sanitize:"line"`
//		Email   string `json:"email" sanitize:"email"`
//		Message string `json:"message" sanitize:"text"`
//	}
//
//	if err := sanitize.Struct(&msg); err != nil { ... }
package sanitize

import (
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"unicode"
)

var (
	// blockPattern matches script and style elements including their content.
	blockPattern = regexp.MustCompile(`(?is)<(script|style)\b[^>]*>.*?</(script|style)\s*>`)

	// tagPattern matches any remaining markup tag or HTML comment.
	tagPattern = regexp.MustCompile(`(?s)<!--.*?-->|</?[a-zA-Z][^>]*>`)

	// blankLinesPattern matches runs of more than one empty line.
	blankLinesPattern = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
)

// Modes accepted by the sanitize struct tag.
const (
	ModeText  = "text"
	ModeLine  = "line"
	ModeEmail = "email"
	ModeTrim  = "trim"
)

// Text removes markup and control characters from multi-line input.
// Newlines and tabs are kept, CRLF becomes LF, and more than one consecutive blank
// line collapses to one.
func Text(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blockPattern.ReplaceAllString(s, "")
	s = tagPattern.ReplaceAllString(s, "")
	s = stripControl(s)
	s = blankLinesPattern.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// Line is Text for single-line input: all whitespace runs become one space.
func Line(s string) string {
	return strings.Join(strings.Fields(Text(s)), " ")
}

// Email trims, lowercases and removes whitespace and control characters.
func Email(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || unicode.IsControl(r) {
			return -1
		}
		return r
	}, s)
	return strings.ToLower(s)
}

// stripControl drops control and zero-width characters, keeping newlines and tabs.
func stripControl(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case unicode.IsControl(r), r == '\u200b', r == '\ufeff':
			return -1
		}
		return r
	}, s)
}

// Apply sanitizes s with the named mode.
func Apply(mode, s string) (string, error) {
	switch mode {
	case ModeText:
		return Text(s), nil
	case ModeLine:
		return Line(s), nil
	case ModeEmail:
		return Email(s), nil
	case ModeTrim:
		return strings.TrimSpace(s), nil
	default:
		return "", fmt.Errorf("sanitize: unknown mode %q", mode)
	}
}

// Struct sanitizes, in place, every string or []string field of the struct that
// dest points to and that carries a sanitize tag. Nested structs and struct
// pointers are walked. Returns an error for a non-struct dest or an unknown mode.
func Struct(dest any) error {
	rv := reflect.ValueOf(dest)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return fmt.Errorf("sanitize: dest must be non-nil pointer to struct")
	}
	v := rv.Elem()
	if v.Kind() != reflect.Struct {
		return fmt.Errorf("sanitize: dest must be pointer to struct, got pointer to %s", v.Kind())
	}
	return walk(v)
}

func walk(v reflect.Value) error {
	t := v.Type()
	for i := range t.NumField() {
		field := v.Field(i)
		if !field.CanSet() {
			continue
		}

		mode := t.Field(i).Tag.Get("sanitize")
		if mode == "" || mode == "-" {
			if err := walkNested(field); err != nil {
				return err
			}
			continue
		}

		switch {
		case field.Kind() == reflect.String:
			clean, err := Apply(mode, field.String())
			if err != nil {
				return err
			}
			field.SetString(clean)
		case field.Kind() == reflect.Slice && field.Type().Elem().Kind() == reflect.String:
			for j := range field.Len() {
				clean, err := Apply(mode, field.Index(j).String())
				if err != nil {
					return err
				}
				field.Index(j).SetString(clean)
			}
		default:
			return fmt.Errorf("sanitize: field %s has tag on unsupported type %s", t.Field(i).Name, field.Kind())
		}
	}
	return nil
}

func walkNested(field reflect.Value) error {
	switch field.Kind() {
	case reflect.Struct:
		return walk(field)
	case reflect.Ptr:
		if !field.IsNil() && field.Elem().Kind() == reflect.Struct {
			return walk(field.Elem())
		}
	}
	return nil
}
