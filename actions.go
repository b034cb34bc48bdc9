package apiflow

// ActionCreator builds a CallAction for one endpoint.
type ActionCreator func(payload any) CallAction

// Actions holds the action creators of a definition.
type Actions struct {
	// Entities is indexed by entity name, then entity endpoint name.
	Entities  map[string]map[string]ActionCreator
	Endpoints map[string]ActionCreator
}

// CreateActions returns an action creator for every entity endpoint and custom
// endpoint of api. The creators are pure.
func CreateActions(api *API) Actions {
	actions := Actions{
		Entities:  make(map[string]map[string]ActionCreator, len(api.Types.Entities)),
		Endpoints: make(map[string]ActionCreator, len(api.Types.Custom)),
	}
	for entity, endpoints := range api.Types.Entities {
		creators := make(map[string]ActionCreator, len(endpoints))
		for endpoint, tokens := range endpoints {
			creators[endpoint] = newActionCreator(api.Name, true, entity, endpoint, tokens.Request)
		}
		actions.Entities[entity] = creators
	}
	for endpoint, tokens := range api.Types.Custom {
		actions.Endpoints[endpoint] = newActionCreator(api.Name, false, "", endpoint, tokens.Request)
	}
	return actions
}

func newActionCreator(api string, isEntity bool, entity, endpoint string, request Token) ActionCreator {
	return func(payload any) CallAction {
		return CallAction{
			Signature:      Signature,
			Type:           request,
			API:            api,
			IsEntity:       isEntity,
			Entity:         entity,
			Endpoint:       endpoint,
			RequestPayload: payload,
		}
	}
}

// ResetEndpoint returns the event that restores the cache slot of a custom endpoint.
func ResetEndpoint(api *API, endpoint string) Event {
	return Event{
		Signature: Signature,
		Type:      ResetToken,
		API:       api.Name,
		Endpoint:  endpoint,
	}
}
