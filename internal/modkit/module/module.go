// Package module defines the registry modules publish their ports to
package module

// Module is the minimal contract the registry needs
type Module interface {
	Ports() any
	Name() string
}
