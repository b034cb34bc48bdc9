package decl

import (
	"context"
	"fmt"
	"time"

	"github.com/broady/apiflow"
	"github.com/dop251/goja"
	"github.com/tidwall/gjson"
)

// ScriptTimeout bounds a single script evaluation.
var ScriptTimeout = time.Second

// script is a compiled {js: ...} expression. Every evaluation runs on a fresh
// runtime, so scripts share no state and can run concurrently.
type script struct {
	src  string
	prog *goja.Program
}

func compileScript(name, src string) (*script, error) {
	prog, err := goja.Compile(name, src, false)
	if err != nil {
		return nil, fmt.Errorf("compile script: %w", err)
	}
	return &script{src: src, prog: prog}, nil
}

// eval runs the program with the given globals and exports its completion value.
// undefined and null both export as nil.
func (s *script) eval(globals map[string]any) (any, error) {
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))

	timer := time.AfterFunc(ScriptTimeout, func() {
		vm.Interrupt("execution timeout")
	})
	defer timer.Stop()

	for name, v := range globals {
		if err := vm.Set(name, v); err != nil {
			return nil, fmt.Errorf("failed to set %s: %w", name, err)
		}
	}

	result, err := vm.RunProgram(s.prog)
	if err != nil {
		return nil, fmt.Errorf("script %q: %w", s.src, err)
	}
	if result == nil || goja.IsUndefined(result) || goja.IsNull(result) {
		return nil, nil
	}
	return result.Export(), nil
}

func (s *script) resolver() apiflow.Resolver {
	return func(payload any, call *apiflow.Call) (any, error) {
		return s.eval(map[string]any{
			"payload": payload,
			"call":    callInfo(call),
		})
	}
}

func (s *script) bailout() apiflow.BailoutFunc {
	return func(_ context.Context, call *apiflow.Call, state apiflow.StateReader) (any, error) {
		var st any
		if state != nil {
			st = state()
		}
		return s.eval(map[string]any{
			"payload": call.Payload,
			"call":    callInfo(call),
			"state":   stateInfo(st),
		})
	}
}

func (s *script) parser() apiflow.ParserFunc {
	return func(resp *apiflow.Response, call *apiflow.Call, schema any) (any, error) {
		return s.eval(map[string]any{
			"payload":  call.Payload,
			"call":     callInfo(call),
			"response": responseInfo(resp),
			"schema":   schema,
		})
	}
}

func (s *script) schema() apiflow.SchemaFunc {
	return func(entity apiflow.Schema) (any, error) {
		key := ""
		if entity != nil {
			key = entity.Key()
		}
		return s.eval(map[string]any{"entity": key})
	}
}

func callInfo(call *apiflow.Call) map[string]any {
	if call == nil {
		return map[string]any{}
	}
	info := map[string]any{
		"id":       call.ID,
		"entity":   call.EntityName(),
		"endpoint": call.Endpoint,
		"isEntity": call.IsEntity,
	}
	if call.API != nil {
		info["api"] = call.API.Name
	}
	return info
}

// stateInfo exposes an apiflow.CacheState to scripts as plain objects keyed
// by endpoint, with loading, finished, data and error fields.
func stateInfo(state any) any {
	cs, ok := state.(apiflow.CacheState)
	if !ok {
		return state
	}
	out := make(map[string]any, len(cs))
	for endpoint, slot := range cs {
		var errMsg any
		if slot.Error != nil {
			errMsg = slot.Error.Error()
		}
		out[endpoint] = map[string]any{
			"loading":  slot.Loading,
			"finished": slot.Finished,
			"data":     slot.Data,
			"error":    errMsg,
		}
	}
	return out
}

func responseInfo(resp *apiflow.Response) map[string]any {
	if resp == nil {
		return map[string]any{}
	}
	headers := make(map[string]any, len(resp.Header))
	for k := range resp.Header {
		headers[k] = resp.Header.Get(k)
	}
	info := map[string]any{
		"status":  resp.StatusCode,
		"headers": headers,
		"body":    string(resp.Body),
	}
	if gjson.ValidBytes(resp.Body) && len(resp.Body) > 0 {
		info["json"] = gjson.ParseBytes(resp.Body).Value()
	}
	return info
}
