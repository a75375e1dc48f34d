// Package api implements the service layer behind relay's gRPC contract
// (spec §6). It is deliberately transport-agnostic: handlers here take and
// return plain Go request/response structs that stand in for the protobuf
// messages a real wire layer would decode, since protobuf-to-model glue and
// the embedded HTTP/TLS multiplexer are out of scope. What IS in scope is
// the request validation, dispatch to kernel/storage, and error-to-status
// translation that any transport would need to call through.
package api

import (
	"time"

	"github.com/relayctl/relay/internal/kernel"
	"github.com/relayctl/relay/internal/scheduler"
	"github.com/relayctl/relay/internal/storage"
)

// Service is the full set of operations the relay server exposes.
type Service struct {
	db       *storage.DB
	kernel   *kernel.Kernel
	engine   scheduler.Engine
	buildSHA string
	devMode  bool
	started  time.Time
}

func New(db *storage.DB, k *kernel.Kernel, engine scheduler.Engine, buildSHA string, devMode bool) *Service {
	return &Service{
		db:       db,
		kernel:   k,
		engine:   engine,
		buildSHA: buildSHA,
		devMode:  devMode,
		started:  time.Now(),
	}
}

// SystemInfo is the response shape for GetSystemInfo (spec §4.4: "compile-time
// build metadata and dev-mode flag").
type SystemInfo struct {
	BuildSHA  string
	DevMode   bool
	StartedAt time.Time
}

func (s *Service) GetSystemInfo() SystemInfo {
	return SystemInfo{
		BuildSHA:  s.buildSHA,
		DevMode:   s.devMode,
		StartedAt: s.started,
	}
}
