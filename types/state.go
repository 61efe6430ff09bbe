package types

import "fmt"

// State is the lifecycle position of a cache entry.
//
//	empty   -> loading            first fetch started
//	loading -> fresh | error      fetch resolved / rejected
//	fresh   -> stale              invalidated or staleness window elapsed
//	stale   -> fresh | error      refetch resolved / rejected
//	error   -> fresh | error      next fetch resolved / rejected
type State uint8

const (
	StateEmpty State = iota
	StateLoading
	StateFresh
	StateStale
	StateError
)

var stateNames = [...]string{
	StateEmpty:   "empty",
	StateLoading: "loading",
	StateFresh:   "fresh",
	StateStale:   "stale",
	StateError:   "error",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", s)
}

// MarshalText lets states appear by name in JSON payloads and logs.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name produced by MarshalText.
func (s *State) UnmarshalText(b []byte) error {
	for i, name := range stateNames {
		if name == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown cache state %q", b)
}
