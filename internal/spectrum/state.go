// SPDX-License-Identifier: MIT
package spectrum

// State is the analyzer lifecycle flag.
type State uint32

const (
	Idle State = iota
	Analyzing
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Analyzing:
		return "analyzing"
	default:
		return "unknown"
	}
}
