package server

import (
	"net"
	"os"
	"path/filepath"
	"runtime"

	"tunnel-keeper/internal/logger"
)

type ListenAddr struct {
	Network string
	Address string
}

/**
 * Test if the system supports Unix socket network type
 * @returns {bool} Returns true if Unix socket is supported, false otherwise
 * @description
 * - Non-windows systems always support it
 * - On windows a temporary socket is created and removed to find out
 */
func IsUnixSocketSupported() bool {
	if runtime.GOOS != "windows" {
		return true
	}
	testSocketPath := filepath.Join(os.TempDir(), "test_unix_socket.sock")
	os.Remove(testSocketPath)

	listener, err := net.Listen("unix", testSocketPath)
	if err != nil {
		return false
	}
	listener.Close()
	os.Remove(testSocketPath)
	return true
}

/**
 * Create TCP and Unix socket listeners
 * @param {[]ListenAddr} addrs - Listener Address
 * @returns {[]net.Listener} Array of created listeners
 * @returns {error} Last listener creation error, nil if all succeeded
 * @description
 * - A stale socket file from a previous run is removed first
 * - The socket directory is created when missing
 * - Creation failure of one address does not prevent the others
 */
func CreateListeners(addrs []ListenAddr) ([]net.Listener, error) {
	var listeners []net.Listener

	var lastErr error
	for _, addr := range addrs {
		if addr.Network == "unix" {
			if err := os.MkdirAll(filepath.Dir(addr.Address), 0755); err != nil {
				logger.Errorf("Failed to create socket directory: %v", err)
				lastErr = err
				continue
			}
			if err := os.Remove(addr.Address); err != nil && !os.IsNotExist(err) {
				logger.Errorf("Failed to remove existing socket file: %v", err)
				lastErr = err
				continue
			}
		}
		l, err := net.Listen(addr.Network, addr.Address)
		if err != nil {
			logger.Errorf("Failed to create listener on %s://%s: %v", addr.Network, addr.Address, err)
			lastErr = err
			continue
		}
		if addr.Network == "unix" {
			os.Chmod(addr.Address, 0660)
		}
		logger.Infof("Listening on %s://%s", addr.Network, addr.Address)
		listeners = append(listeners, l)
	}
	return listeners, lastErr
}
