// Package handlers implements the §6 HTTP edge: regeneration, rendering,
// and demo-fixture endpoints over the pipeline components. Descriptive,
// not core (§6): a thin JSON-in/out layer with no business logic of its
// own, every decision delegated to regen/coordinator/renderer/seed.
package handlers

import (
	"github.com/google/uuid"

	"docgen.io/pipeline/internal/governance/audit"
	"docgen.io/pipeline/internal/pipeline/coordinator"
	"docgen.io/pipeline/internal/pipeline/regen"
	"docgen.io/pipeline/internal/pipeline/renderer"
	"docgen.io/pipeline/internal/pipeline/seed"
	"docgen.io/pipeline/internal/pipeline/store"
)

// ServerDeps holds every dependency a Server handler needs. ADR-0013 style
// manual DI, no Wire/Dig, mirroring the teacher's handlers.Server.
type ServerDeps struct {
	Store       *store.Store
	Planner     *regen.Planner
	Coordinator *coordinator.Coordinator
	Renderer    *renderer.Renderer
	Seeder      *seed.Seeder
	Audit       *audit.Logger
}

// Server implements the §6 HTTP edge handlers.
type Server struct {
	store       *store.Store
	planner     *regen.Planner
	coordinator *coordinator.Coordinator
	renderer    *renderer.Renderer
	seeder      *seed.Seeder
	audit       *audit.Logger
}

// NewServer builds a Server from its dependencies.
func NewServer(deps ServerDeps) *Server {
	return &Server{
		store:       deps.Store,
		planner:     deps.Planner,
		coordinator: deps.Coordinator,
		renderer:    deps.Renderer,
		seeder:      deps.Seeder,
		audit:       deps.Audit,
	}
}

// correlationID resolves the request's correlation id from the
// X-Correlation-Id header, generating a fresh one when absent.
func correlationID(header string) string {
	if header != "" {
		return header
	}
	return uuid.NewString()
}
