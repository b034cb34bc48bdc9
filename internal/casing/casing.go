// Package casing converts identifiers and JSON object keys between camelCase and
// snake_case.
package casing

import "github.com/iancoleman/strcase"

// Decamelize converts camelCase to snake_case: "firstName" becomes "first_name" and
// "HTTPServer" becomes "http_server".
func Decamelize(s string) string {
	return strcase.ToSnake(s)
}

// Camelize converts snake_case, kebab-case and space separated words to camelCase.
func Camelize(s string) string {
	return strcase.ToLowerCamel(s)
}

// UpperUnderscore turns a name into a token segment: "getSingle" becomes "GET_SINGLE".
func UpperUnderscore(s string) string {
	return strcase.ToScreamingSnake(s)
}

// CamelizeKeys returns a copy of v with every object key camelized.
func CamelizeKeys(v any) any {
	return convertKeys(v, Camelize)
}

// DecamelizeKeys returns a copy of v with every object key decamelized.
func DecamelizeKeys(v any) any {
	return convertKeys(v, Decamelize)
}

func convertKeys(v any, fn func(string) string) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fn(k)] = convertKeys(val, fn)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, val := range t {
			out[fn(k)] = val
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = convertKeys(val, fn)
		}
		return out
	default:
		return v
	}
}
