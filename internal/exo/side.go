package exo

import (
	"fmt"
	"slices"
)

// Side is the leg a pack is mounted on.
type Side int

const (
	SideNone Side = iota
	SideLeft
	SideRight
)

func (s Side) String() string {
	switch s {
	case SideLeft:
		return "left"
	case SideRight:
		return "right"
	default:
		return "none"
	}
}

func (s Side) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// MotorSign maps hip direction to motor direction on this side.
func (s Side) MotorSign() float64 {
	if s == SideLeft {
		return -1
	}
	return 1
}

// SideFromDevID looks up which leg a pack belongs to. Left is checked first,
// so an ID listed on both sides is left.
func SideFromDevID(devID int) (Side, error) {
	switch {
	case slices.Contains(LeftDevIDs, devID):
		return SideLeft, nil
	case slices.Contains(RightDevIDs, devID):
		return SideRight, nil
	default:
		return SideNone, fmt.Errorf("%w: dev_id %d is not a known left or right pack", ErrConfiguration, devID)
	}
}
