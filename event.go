package apiflow

// Signature marks every action and event produced by this package. Reducers use it
// to skip foreign actions cheaply.
const Signature = "@@apiflow"

// CallAction asks the pipeline to call an endpoint. It is built by an ActionCreator
// and forwarded downstream unchanged as the request-stage event.
type CallAction struct {
	Signature      string
	Type           Token
	API            string
	IsEntity       bool
	Entity         string
	Endpoint       string
	RequestPayload any
}

// Event is emitted by the pipeline for a terminal stage or an invalid request.
type Event struct {
	Signature      string
	Type           Token
	CallID         string
	API            string
	IsEntity       bool
	Entity         string
	Endpoint       string
	RequestPayload any

	// IsError is set on failure and invalid-request events; Error is the primary error.
	IsError bool
	Error   error

	Payload any

	// FromBailout is set on success events answered by a bailout function,
	// without a network request.
	FromBailout bool

	// HasPayloadError reports that the payload parser failed. The primary fields
	// above are unaffected by it.
	HasPayloadError bool
	PayloadError    error
}

// lifecycle is the part of an action the reducer reads.
func lifecycle(action any) (sig string, typ Token, api string, isEntity bool, endpoint string, ok bool) {
	switch a := action.(type) {
	case CallAction:
		return a.Signature, a.Type, a.API, a.IsEntity, a.Endpoint, true
	case *CallAction:
		if a != nil {
			return a.Signature, a.Type, a.API, a.IsEntity, a.Endpoint, true
		}
	case Event:
		return a.Signature, a.Type, a.API, a.IsEntity, a.Endpoint, true
	case *Event:
		if a != nil {
			return a.Signature, a.Type, a.API, a.IsEntity, a.Endpoint, true
		}
	}
	return "", Token{}, "", false, "", false
}

// EndpointID returns "API.entity.endpoint" (or "API.endpoint") for the called endpoint.
func (a CallAction) EndpointID() string {
	if a.IsEntity {
		return a.API + "." + a.Entity + "." + a.Endpoint
	}
	return a.API + "." + a.Endpoint
}
