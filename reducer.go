package apiflow

import "maps"

// EndpointState is the cache slot of one custom endpoint.
type EndpointState struct {
	Loading  bool
	Finished bool
	Data     any
	Error    error
}

// CacheState maps custom endpoint names to their cache slot. A CacheState value is
// never modified after a reducer returns it; each change produces a new map.
type CacheState map[string]EndpointState

// Reducer folds an action into a state snapshot.
type Reducer[S any] func(state S, action any) S

// CreateReducer returns the canonical cache reducer for api.
//
// Only events carrying Signature and belonging to api are considered. Request,
// success and failure events of custom endpoints update the endpoint slot and a
// ResetEndpoint event restores it. Entity events leave the state unchanged.
func CreateReducer(api *API) Reducer[CacheState] {
	return func(state CacheState, action any) CacheState {
		sig, typ, apiName, isEntity, endpoint, ok := lifecycle(action)
		if !ok || sig != Signature || apiName != api.Name {
			return state
		}
		if isEntity {
			return state
		}

		if typ == ResetToken {
			return withSlot(state, endpoint, EndpointState{})
		}
		stage, ok := api.MergedTypes.StageOf(typ)
		if !ok {
			return state
		}

		switch stage {
		case StageRequest:
			return withSlot(state, endpoint, EndpointState{Loading: true})
		case StageSuccess:
			ev := asEvent(action)
			return withSlot(state, endpoint, EndpointState{
				Finished: true,
				Data:     ev.Payload,
				Error:    ev.PayloadError,
			})
		case StageFailure:
			ev := asEvent(action)
			err := ev.Error
			if ev.HasPayloadError {
				err = ev.PayloadError
			}
			return withSlot(state, endpoint, EndpointState{
				Finished: true,
				Data:     ev.Payload,
				Error:    err,
			})
		}
		return state
	}
}

func asEvent(action any) Event {
	switch a := action.(type) {
	case Event:
		return a
	case *Event:
		return *a
	}
	return Event{}
}

func withSlot(state CacheState, endpoint string, slot EndpointState) CacheState {
	next := maps.Clone(state)
	if next == nil {
		next = make(CacheState, 1)
	}
	next[endpoint] = slot
	return next
}
