package docker

import (
	"time"

	"github.com/sakif/agentcoder/internal/config"
)

// Config holds the configuration for Docker execution.
type Config struct {
	// Image is the Docker image to use for execution. It must provide python.
	Image string
	// MemoryLimit is the maximum amount of memory the container can use (in bytes).
	MemoryLimit int64
	// CPULimit is the number of CPUs the container can use.
	CPULimit float64
	// Timeout is the wall-clock limit for one program.
	Timeout time.Duration
	// PoolSize is the number of pre-warmed containers to maintain.
	PoolSize int
	// PidsLimit caps processes inside the container (fork bombs).
	PidsLimit int64
	// TmpfsSize is the size of the writable /tmp, in docker's tmpfs syntax.
	TmpfsSize string
}

// FromSandbox maps the application's sandbox settings onto a Config.
func FromSandbox(s config.Sandbox) Config {
	return Config{
		Image:       s.Image,
		MemoryLimit: s.MemoryLimit,
		CPULimit:    s.CPULimit,
		Timeout:     s.Timeout,
		PoolSize:    s.PoolSize,
		PidsLimit:   64,
		TmpfsSize:   "16m",
	}
}

// DefaultConfig provides sensible defaults for a Python sandbox.
func DefaultConfig() Config {
	return FromSandbox(config.Default().Sandbox)
}
