// Package proxy provides pure types and functions for routing environment
// domains to the container serving them.
// This package has no I/O dependencies and is tested with values in/out.
package proxy

import (
	"fmt"

	"github.com/artpar/reflow/internal/core/domain"
)

// ProxyTarget represents the destination for a proxied request.
type ProxyTarget struct {
	Project     string
	Environment domain.Environment

	// Slot is the active slot, empty when the environment is stopped.
	Slot domain.Slot

	// Commit is the commit served by the active slot.
	Commit string

	// Port is the host port the active container is published on.
	Port int
}

// CanRoute returns true if the target can accept traffic.
func (t ProxyTarget) CanRoute() bool {
	return t.Slot != domain.SlotNone && t.Port > 0
}

// Address returns the upstream address on bindHost.
func (t ProxyTarget) Address(bindHost string) string {
	if bindHost == "" || bindHost == "0.0.0.0" {
		bindHost = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", bindHost, t.Port)
}
