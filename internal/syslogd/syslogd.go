// Package syslogd receives raw firewall log payloads over the network.
// The primary transport is UDP syslog; an optional TCP listener covers
// FortiGate's reliable (newline-delimited) syslog mode.
package syslogd

import (
	"strings"

	"github.com/gatewatch/gatewatch/internal/model"
)

const (
	// DefaultQueueSize is the default buffer size for the datagram channel.
	DefaultQueueSize = 10_000

	// DefaultMaxPayloadSize bounds a single payload. 64KiB covers the
	// largest possible UDP datagram.
	DefaultMaxPayloadSize = 64 * 1024
)

// Config holds tunable parameters shared by the listeners.
type Config struct {
	QueueSize      int
	MaxPayloadSize int
}

// Source is a unified interface over the payload listeners.
type Source interface {
	Datagrams() <-chan model.Datagram // read-only channel of received payloads
	Stop()                            // graceful shutdown
	Name() string                     // "udp", "tcp"
}

// StripPriority removes a leading syslog priority/facility prefix ("<134>")
// and surrounding whitespace from a raw payload.
func StripPriority(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "<") {
		if idx := strings.IndexByte(raw, '>'); idx > 0 {
			raw = strings.TrimSpace(raw[idx+1:])
		}
	}
	return raw
}

// decodeText converts raw bytes to a string, replacing undecodable bytes
// instead of failing.
func decodeText(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}

// hostOnly strips the port from a network address when one is present.
func hostOnly(addr string) string {
	if idx := strings.LastIndexByte(addr, ':'); idx > 0 && !strings.Contains(addr[idx:], "]") {
		host := addr[:idx]
		host = strings.TrimPrefix(host, "[")
		host = strings.TrimSuffix(host, "]")
		return host
	}
	return addr
}
