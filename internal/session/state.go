package session

import "livedetect/internal/model"

// transitions lists the legal status edges. Disconnected is only left once,
// when a fresh session starts connecting; error is never left.
var transitions = map[model.Status][]model.Status{
	model.StatusDisconnected: {model.StatusConnecting},
	model.StatusConnecting:   {model.StatusConnected, model.StatusError, model.StatusDisconnected},
	model.StatusConnected:    {model.StatusDisconnected, model.StatusError},
	model.StatusError:        nil,
}

// CanTransition reports whether a session may move from one status to another.
func CanTransition(from, to model.Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
