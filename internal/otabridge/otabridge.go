// Package otabridge assembles the firmware update bridge from its parts.
package otabridge

import (
	"context"
	"fmt"

	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/otabridge/server"
	"github.com/autopeer-io/otabridge/pkg/log"
)

type Server struct {
	orchestrator  *ota.Orchestrator
	serverManager *server.Manager
	store         StateStore
}

// Run restores persisted update state, then serves until ctx is done.
func (s *Server) Run(ctx context.Context) error {
	log.Info("Starting otabridge...")
	defer func() {
		if err := s.store.Close(); err != nil {
			log.Warn("Failed to close state store", "error", err)
		}
	}()

	if err := s.orchestrator.Start(ctx); err != nil {
		return fmt.Errorf("failed to restore update state: %w", err)
	}

	return s.serverManager.Start(ctx)
}
