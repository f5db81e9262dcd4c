package port

import (
	"fmt"

	"github.com/mmr-tortoise/expo-container/internal/model"
)

const (
	maxPort = 65535

	// nearbySearchSpan is how far above the preferred port the allocator
	// looks before giving up on a "close" port.
	nearbySearchSpan = 100

	// IANA dynamic/private range, searched last.
	dynamicRangeStart = 49152
	dynamicRangeEnd   = 65535
)

// Checker reports whether a host port can be bound. *Scanner implements it.
type Checker interface {
	IsPortAvailable(port int, protocol string) bool
}

// Allocator picks host ports. A port is usable when the OS can bind it and
// no other managed container has it recorded in its labels; a stopped
// container still owns its port because starting it again would collide.
type Allocator struct {
	checker  Checker
	reserved map[int]bool
}

// NewAllocator returns an Allocator that probes ports with checker.
func NewAllocator(checker Checker) *Allocator {
	return &Allocator{checker: checker, reserved: make(map[int]bool)}
}

// Reserve marks ports as owned by someone else.
func (a *Allocator) Reserve(ports ...int) {
	for _, p := range ports {
		a.reserved[p] = true
	}
}

// ReserveBindings reserves the host side of every binding.
func (a *Allocator) ReserveBindings(bindings []model.PortBinding) {
	for _, b := range bindings {
		a.reserved[b.HostPort] = true
	}
}

// Allocate returns preferred when it is usable. Otherwise, without
// fallback it returns a CLIError with ExitPortUnavailable; with fallback it
// searches preferred+1 upward for a short span, then the dynamic range.
// The returned port is reserved so a second call never returns it again.
func (a *Allocator) Allocate(preferred int, protocol string, fallback bool) (int, error) {
	if protocol == "" {
		protocol = "tcp"
	}
	if preferred < 1 || preferred > maxPort {
		return 0, model.NewCLIError(model.ExitInvalidArgument,
			fmt.Sprintf("port %d out of range (1-%d)", preferred, maxPort))
	}

	if a.usable(preferred, protocol) {
		a.reserved[preferred] = true
		return preferred, nil
	}
	if !fallback {
		return 0, model.NewCLIError(model.ExitPortUnavailable,
			fmt.Sprintf("host port %d is already in use", preferred))
	}

	end := min(preferred+nearbySearchSpan, maxPort)
	if p, ok := a.search(preferred+1, end, protocol); ok {
		return p, nil
	}
	if p, ok := a.search(dynamicRangeStart, dynamicRangeEnd, protocol); ok {
		return p, nil
	}
	return 0, model.NewCLIError(model.ExitPortUnavailable,
		fmt.Sprintf("no free host port near %d or in %d-%d", preferred, dynamicRangeStart, dynamicRangeEnd))
}

func (a *Allocator) search(start, end int, protocol string) (int, bool) {
	for p := start; p <= end; p++ {
		if a.usable(p, protocol) {
			a.reserved[p] = true
			return p, true
		}
	}
	return 0, false
}

func (a *Allocator) usable(port int, protocol string) bool {
	return !a.reserved[port] && a.checker.IsPortAvailable(port, protocol)
}
