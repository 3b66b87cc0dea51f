package actor

// Step applies a reducer to a single (state, input) pair and returns the next
// state and effects.
//
// It is a testing utility for reducer-level unit tests; no effects execute.
func Step[S any](state S, input Input, reducer ReducerFunc[S]) (S, []Effect) {
	return reducer(state, input)
}
