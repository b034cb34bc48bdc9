package apiflow

import "github.com/google/uuid"

// Schema is the entity schema capability. Only its key is used by this package;
// everything else is left to the Normalizer.
type Schema interface {
	Key() string
}

// Normalizer shapes parsed response data according to a schema descriptor.
// It is invoked by ParseJSON on the success branch only.
type Normalizer interface {
	Normalize(data any, schema any) (any, error)
}

// Entity is a compiled entity declaration.
type Entity struct {
	Name       string
	Schema     Schema
	URLPrefix  string
	URLPostfix string
}

// Call describes one dispatched call. It is handed to every resolver, bailout,
// parser and transport involved in that call.
type Call struct {
	ID       string
	API      *API
	IsEntity bool
	Entity   *Entity
	Endpoint string
	Payload  any
}

func newCall(api *API, entity *Entity, endpoint string, payload any) *Call {
	return &Call{
		ID:       uuid.NewString(),
		API:      api,
		IsEntity: entity != nil,
		Entity:   entity,
		Endpoint: endpoint,
		Payload:  payload,
	}
}

// EntityName returns the entity name, or "" for custom endpoints.
func (c *Call) EntityName() string {
	if c.Entity == nil {
		return ""
	}
	return c.Entity.Name
}

// EndpointID returns "API.entity.endpoint" (or "API.endpoint"), used in logs and metrics.
func (c *Call) EndpointID() string {
	name := ""
	if c.API != nil {
		name = c.API.Name
	}
	if c.Entity != nil {
		return name + "." + c.Entity.Name + "." + c.Endpoint
	}
	return name + "." + c.Endpoint
}
