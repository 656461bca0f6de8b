// Package server runs the long-lived parts of a program side by side.
package server

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/barnapet/smartdrive/pkg/log"
)

// Server defines the common interface for everything the manager runs. Start
// blocks until ctx is cancelled or the server fails.
type Server interface {
	Start(ctx context.Context) error
}

// RunFunc adapts a blocking function to Server.
type RunFunc func(ctx context.Context) error

func (f RunFunc) Start(ctx context.Context) error { return f(ctx) }

// Manager manages the lifecycle of all servers.
type Manager struct {
	servers []Server
}

func NewManager(servers ...Server) *Manager {
	return &Manager{servers: servers}
}

// Add registers another server. It must be called before Start.
func (m *Manager) Add(s Server) {
	m.servers = append(m.servers, s)
}

// Start launches all servers in parallel and waits for termination. The first
// failure cancels the others.
func (m *Manager) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, srv := range m.servers {
		g.Go(func() error {
			return srv.Start(ctx)
		})
	}

	log.Info("All servers starting...", "count", len(m.servers))
	return g.Wait()
}
