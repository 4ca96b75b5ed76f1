// Package config holds the settings a reliable-udp session needs at
// startup, populated by cmd/reliable-udp's cobra flags.
package config

import (
	"fmt"
	"net"
	"time"

	"github.com/librescoot/reliable-udp/pkg/wire"
)

// Config is the full set of tunables a session needs to start.
type Config struct {
	SourceIP        string
	DestIP          string
	SrcPort         int
	DestPort        int
	MaxFragmentSize int
	SaveDir         string

	RedisAddr string
	RedisPass string
	RedisDB   int

	MetricsAddr string

	HandshakeTimeout    time.Duration
	HeartbeatInterval   time.Duration
	HeartbeatPollWindow time.Duration
	ResponderSleep      time.Duration
	MissThreshold       int
	AckTimeout          time.Duration
}

// Default returns a Config with every tunable at its default value: a
// 4s handshake timeout, 2s heartbeat interval, 3s heartbeat poll
// window, 5s responder sleep, 3 missed heartbeats before declaring the
// peer lost, and the current working directory as the save directory.
func Default() Config {
	return Config{
		MaxFragmentSize:     wire.DefaultMaxFragmentSize,
		SaveDir:             ".",
		RedisDB:             0,
		HandshakeTimeout:    4 * time.Second,
		HeartbeatInterval:   2 * time.Second,
		HeartbeatPollWindow: 3 * time.Second,
		ResponderSleep:      5 * time.Second,
		MissThreshold:       3,
		AckTimeout:          300 * time.Millisecond,
	}
}

// Validate checks the four required endpoint fields and that the
// fragment size is positive and no larger than
// wire.DefaultMaxFragmentSize.
func (c Config) Validate() error {
	if c.SourceIP == "" {
		return fmt.Errorf("config: --source is required")
	}
	if c.DestIP == "" {
		return fmt.Errorf("config: --destination is required")
	}
	if c.SrcPort <= 0 || c.SrcPort > 65535 {
		return fmt.Errorf("config: --src-port %d out of range", c.SrcPort)
	}
	if c.DestPort <= 0 || c.DestPort > 65535 {
		return fmt.Errorf("config: --dest-port %d out of range", c.DestPort)
	}
	if c.MaxFragmentSize <= 0 || c.MaxFragmentSize > wire.DefaultMaxFragmentSize {
		return fmt.Errorf("config: max fragment size %d must be <= %d", c.MaxFragmentSize, wire.DefaultMaxFragmentSize)
	}
	return nil
}

// LocalAddr resolves the configured local endpoint.
func (c Config) LocalAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", c.SourceIP, c.SrcPort))
}

// RemoteAddr resolves the configured remote endpoint.
func (c Config) RemoteAddr() (*net.UDPAddr, error) {
	return net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", c.DestIP, c.DestPort))
}
