// Author: momentics <momentics@gmail.com>
// SPDX-License-Identifier: MIT

// Package transport locates and connects the display socket.
package transport

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/momentics/hioload-wl/control"
	"golang.org/x/sys/unix"
)

// ErrNoRuntimeDir is returned when a relative display name cannot be resolved.
var ErrNoRuntimeDir = errors.New("transport: " + control.EnvRuntimeDir + " not set")

// SocketPath resolves the display socket from cfg.
func SocketPath(cfg control.Config) (string, error) {
	if filepath.IsAbs(cfg.Display) {
		return cfg.Display, nil
	}
	if cfg.RuntimeDir == "" {
		return "", ErrNoRuntimeDir
	}
	return filepath.Join(cfg.RuntimeDir, cfg.Display), nil
}

// Dial connects a unix stream socket to the display and returns its descriptor.
func Dial(cfg control.Config) (int, error) {
	path, err := SocketPath(cfg)
	if err != nil {
		return -1, err
	}
	return DialPath(path)
}

// DialPath connects to the socket at path.
func DialPath(path string) (int, error) {
	sa := &unix.SockaddrUnix{Name: path}
	if len(path) >= 108 {
		return -1, fmt.Errorf("transport: socket path too long: %s", path)
	}
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return -1, fmt.Errorf("socket create: %w", err)
	}
	for {
		err = unix.Connect(fd, sa)
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return -1, fmt.Errorf("connect %s: %w", path, err)
	}
	return fd, nil
}
