package apiflow

import (
	"sort"
	"strings"

	"github.com/broady/apiflow/internal/casing"
)

// Stage is one step of an endpoint call lifecycle.
type Stage string

const (
	StageRequest Stage = "REQUEST"
	StageSuccess Stage = "SUCCESS"
	StageFailure Stage = "FAILURE"
)

// Stages lists the lifecycle stages in emission order.
var Stages = []Stage{StageRequest, StageSuccess, StageFailure}

// Token identifies one (api, entity, endpoint, stage) tuple. Tokens are compared
// structurally, so two definitions compiled from the same declaration agree on them.
// Entity is empty for custom endpoints.
type Token struct {
	API      string
	Entity   string
	Endpoint string
	Stage    Stage
}

// String returns the canonical token name, e.g. "API_USERS_GET_SINGLE_REQUEST".
func (t Token) String() string {
	parts := make([]string, 0, 4)
	if t.API != "" {
		parts = append(parts, t.API)
	}
	if t.Entity != "" {
		parts = append(parts, casing.UpperUnderscore(t.Entity))
	}
	if t.Endpoint != "" {
		parts = append(parts, casing.UpperUnderscore(t.Endpoint))
	}
	parts = append(parts, string(t.Stage))
	return strings.Join(parts, "_")
}

// IsZero reports whether t is the zero token.
func (t Token) IsZero() bool {
	return t == Token{}
}

// Markers that never belong to a Definition.
var (
	// InvalidRequestToken types the event emitted for calls to unknown targets.
	InvalidRequestToken = Token{Stage: "INVALID_REQUEST"}

	// ResetToken types the event that restores an endpoint cache slot.
	ResetToken = Token{Stage: "RESET_ENDPOINT"}
)

// StageTokens holds the three tokens of one endpoint.
type StageTokens struct {
	Request Token
	Success Token
	Failure Token
}

func newStageTokens(api, entity, endpoint string) StageTokens {
	return StageTokens{
		Request: Token{API: api, Entity: entity, Endpoint: endpoint, Stage: StageRequest},
		Success: Token{API: api, Entity: entity, Endpoint: endpoint, Stage: StageSuccess},
		Failure: Token{API: api, Entity: entity, Endpoint: endpoint, Stage: StageFailure},
	}
}

// Types holds the tokens of a definition by scope.
type Types struct {
	Entities map[string]map[string]StageTokens
	Custom   map[string]StageTokens
}

// MergedTypes flattens Types for fast lookups.
type MergedTypes struct {
	// All maps token names to tokens.
	All map[string]Token

	Request []Token
	Success []Token
	Failure []Token

	stages map[Token]Stage
}

// StageOf returns the stage of a token if it belongs to the definition.
func (m *MergedTypes) StageOf(t Token) (Stage, bool) {
	s, ok := m.stages[t]
	return s, ok
}

// IsRequest reports whether t is one of the definition's request tokens.
func (m *MergedTypes) IsRequest(t Token) bool {
	s, ok := m.stages[t]
	return ok && s == StageRequest
}

func (m *MergedTypes) add(tokens StageTokens) error {
	for _, t := range []Token{tokens.Request, tokens.Success, tokens.Failure} {
		name := t.String()
		if prev, dup := m.All[name]; dup {
			return ConfigurationError("token name %s is generated by both %s and %s", name, describe(prev), describe(t))
		}
		m.All[name] = t
		m.stages[t] = t.Stage
	}
	m.Request = append(m.Request, tokens.Request)
	m.Success = append(m.Success, tokens.Success)
	m.Failure = append(m.Failure, tokens.Failure)
	return nil
}

func describe(t Token) string {
	if t.Entity != "" {
		return "entity endpoint " + t.Entity + "." + t.Endpoint
	}
	return "endpoint " + t.Endpoint
}

// generateTypes allocates the tokens of every entity endpoint and custom endpoint.
// Names are visited in sorted order so the flat sequences are deterministic.
func generateTypes(api *API) error {
	api.Types = Types{
		Entities: make(map[string]map[string]StageTokens, len(api.Entities)),
		Custom:   make(map[string]StageTokens, len(api.Endpoints)),
	}
	api.MergedTypes = MergedTypes{
		All:    make(map[string]Token),
		stages: make(map[Token]Stage),
	}

	for _, entityName := range sortedKeys(api.Entities) {
		byEndpoint := make(map[string]StageTokens, len(api.EntityEndpoints))
		for _, endpointName := range sortedKeys(api.EntityEndpoints) {
			tokens := newStageTokens(api.Name, entityName, endpointName)
			if err := api.MergedTypes.add(tokens); err != nil {
				return err
			}
			byEndpoint[endpointName] = tokens
		}
		api.Types.Entities[entityName] = byEndpoint
	}

	for _, endpointName := range sortedKeys(api.Endpoints) {
		tokens := newStageTokens(api.Name, "", endpointName)
		if err := api.MergedTypes.add(tokens); err != nil {
			return err
		}
		api.Types.Custom[endpointName] = tokens
	}
	return nil
}

// MergeTypes merges the token tables of several definitions into one name to
// token map. Token names carry their API name, so definitions with distinct names
// never collide.
func MergeTypes(apis ...*API) map[string]Token {
	out := make(map[string]Token)
	for _, api := range apis {
		if api == nil {
			continue
		}
		for name, t := range api.MergedTypes.All {
			out[name] = t
		}
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
