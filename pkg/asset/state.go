// Package asset applies hosting-provider webhooks to video records.
package asset

import (
	"github.com/vidflow/vidflow/pkg/model"
	"github.com/vidflow/vidflow/pkg/mux"
)

// Outcome classifies how an event relates to the current state.
type Outcome int

const (
	// Applied moves the video forward.
	Applied Outcome = iota
	// Duplicate re-delivers an event whose state was already reached.
	Duplicate
	// Stale arrives after the video moved past it, or after a final state.
	Stale
	// Ignored is an event type this machine does not track.
	Ignored
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "applied"
	case Duplicate:
		return "duplicate"
	case Stale:
		return "stale"
	default:
		return "ignored"
	}
}

var rank = map[model.AssetState]int{
	model.AssetUnprocessed: 0,
	model.AssetWaiting:     1,
	model.AssetProcessing:  2,
	model.AssetReady:       3,
	model.AssetErrored:     3,
}

// Transition computes the asset state an event leads to. It never regresses:
// Ready and Errored are final, and an older event after a newer one is stale.
func Transition(current model.AssetState, eventType string) (model.AssetState, Outcome) {
	var target model.AssetState
	switch eventType {
	case mux.EventAssetCreated:
		target = model.AssetProcessing
	case mux.EventAssetReady:
		target = model.AssetReady
	case mux.EventAssetErrored:
		target = model.AssetErrored
	default:
		return current, Ignored
	}

	if current == "" {
		current = model.AssetUnprocessed
	}
	if current == target {
		return current, Duplicate
	}
	if current == model.AssetReady || current == model.AssetErrored {
		return current, Stale
	}
	if rank[target] < rank[current] {
		return current, Stale
	}
	return target, Applied
}

// TrackTransition is the orthogonal text-track machine.
func TrackTransition(current model.TrackState) (model.TrackState, Outcome) {
	if current == model.TrackReady {
		return current, Duplicate
	}
	return model.TrackReady, Applied
}
