package modkit

// Module is the common surface for pipeline modules
type Module interface {
	// Ports returns the module's port set for cross wiring
	Ports() any
	Name() string
}

// Builder constructs a Module from shared deps
type Builder func(Deps) Module
