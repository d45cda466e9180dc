// README: Booking status enum and the role-gated transition table.
package booking

import (
	"fmt"

	"cabmarket/internal/types"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusWaiting
	StatusApproved
	StatusPreOngoing
	StatusOngoing
	StatusCompleted
	StatusCancelled
)

var statusNames = [...]string{
	StatusUnknown:    "",
	StatusWaiting:    "waiting",
	StatusApproved:   "approved",
	StatusPreOngoing: "preongoing",
	StatusOngoing:    "ongoing",
	StatusCompleted:  "completed",
	StatusCancelled:  "cancelled",
}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func ParseStatus(v string) (Status, error) {
	for i, name := range statusNames {
		if name != "" && name == v {
			return Status(i), nil
		}
	}
	return StatusUnknown, fmt.Errorf("unknown booking status %q", v)
}

func (s Status) MarshalText() ([]byte, error) {
	if s == StatusUnknown || int(s) >= len(statusNames) {
		return nil, fmt.Errorf("cannot marshal booking status %d", uint8(s))
	}
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(b []byte) error {
	v, err := ParseStatus(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// LiveStatuses are the statuses that hold a driver or vehicle window.
var LiveStatuses = []Status{StatusWaiting, StatusApproved, StatusPreOngoing, StatusOngoing}

// AllowedTransitions represents the booking state flow as code.
var AllowedTransitions = map[Status][]Status{
	StatusWaiting:    {StatusApproved, StatusCancelled},
	StatusApproved:   {StatusPreOngoing, StatusCancelled},
	StatusPreOngoing: {StatusOngoing},
	StatusOngoing:    {StatusCompleted},
}

func CanTransition(from, to Status) bool {
	next, ok := AllowedTransitions[from]
	if !ok {
		return false
	}
	for _, s := range next {
		if s == to {
			return true
		}
	}
	return false
}

type edge struct{ from, to Status }

var transitionActors = map[edge][]types.Role{
	{StatusWaiting, StatusApproved}:    {types.RoleVendor},
	{StatusWaiting, StatusCancelled}:   {types.RoleCustomer, types.RoleSystem},
	{StatusApproved, StatusCancelled}:  {types.RoleCustomer, types.RoleVendor},
	{StatusApproved, StatusPreOngoing}: {types.RoleDriver},
	{StatusPreOngoing, StatusOngoing}:  {types.RoleDriver},
	{StatusOngoing, StatusCompleted}:   {types.RoleDriver, types.RoleVendor},
}

// Permits reports whether role may move a booking from one status to the next.
func Permits(from, to Status, role types.Role) bool {
	if !CanTransition(from, to) {
		return false
	}
	for _, r := range transitionActors[edge{from, to}] {
		if r == role {
			return true
		}
	}
	return false
}
