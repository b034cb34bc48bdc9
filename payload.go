package apiflow

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/PaesslerAG/jsonpath"
	"github.com/broady/apiflow/internal/casing"
	"github.com/tidwall/gjson"
)

// ParseJSON is the default payload parser. It returns nil for 204 responses,
// empty bodies and non-JSON content types. JSON bodies are decoded into
// map[string]any / []any trees, case converted per the API response options and,
// when a schema is given and the API has a Normalizer, normalized.
func ParseJSON(resp *Response, call *Call, schema any) (any, error) {
	if resp == nil || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if !isJSON(resp.ContentType()) || len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, nil
	}
	if !gjson.ValidBytes(resp.Body) {
		return nil, Errorf(CodeInternal, "invalid JSON response body")
	}
	data := gjson.ParseBytes(resp.Body).Value()

	if call != nil && call.API != nil {
		opts := call.API.Options
		if opts.Camelize.Response {
			data = casing.CamelizeKeys(data)
		}
		if opts.Decamelize.Response {
			data = casing.DecamelizeKeys(data)
		}
		if schema != nil && call.API.Normalizer != nil {
			return call.API.Normalizer.Normalize(data, schema)
		}
	}
	return data, nil
}

// ParseJSONPath returns a parser that decodes the body like ParseJSON and then
// selects the value at a JSONPath expression such as "$.data.items".
// A missing path yields a payload error.
func ParseJSONPath(expr string) ParserFunc {
	return func(resp *Response, call *Call, schema any) (any, error) {
		data, err := ParseJSON(resp, call, nil)
		if err != nil || data == nil {
			return data, err
		}
		v, err := jsonpath.Get(expr, data)
		if err != nil {
			return nil, InternalError(fmt.Errorf("jsonpath %s: %w", expr, err))
		}
		if schema != nil && call != nil && call.API != nil && call.API.Normalizer != nil {
			return call.API.Normalizer.Normalize(v, schema)
		}
		return v, nil
	}
}

// ParseText returns the body as a string.
func ParseText(resp *Response, _ *Call, _ any) (any, error) {
	if resp == nil || resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	return string(resp.Body), nil
}

func isJSON(mediaType string) bool {
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}
