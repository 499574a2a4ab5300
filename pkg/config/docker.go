package config

import (
	"os"
	"sync"
)

var (
	isDockerOnce   sync.Once
	isDockerResult bool

	// dockerenvPath is replaced in tests.
	dockerenvPath = "/.dockerenv"
)

// IsRunningInDocker reports whether the process runs inside a Docker container.
// The result is cached after the first call.
func IsRunningInDocker() bool {
	isDockerOnce.Do(func() {
		_, err := os.Stat(dockerenvPath)
		isDockerResult = err == nil
	})
	return isDockerResult
}

// ResolveHostForDocker maps loopback hosts of foreign datasources to
// host.docker.internal when running in Docker, so a database on the host
// machine stays reachable for preflight checks and DuckDB ATTACH.
func ResolveHostForDocker(host string) string {
	return resolveHost(host, IsRunningInDocker())
}

func resolveHost(host string, inDocker bool) string {
	if !inDocker {
		return host
	}
	switch host {
	case "localhost", "127.0.0.1", "::1", "[::1]":
		return "host.docker.internal"
	}
	return host
}
