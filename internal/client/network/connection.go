// internal/client/network/connection.go
package network

import (
	"context"
	"fmt"
	"net"
	"time"
)

const (
	dialTimeout     = 5 * time.Second
	keepAlivePeriod = 30 * time.Second
)

// Dial opens the TCP connection the handler runs on.
func Dial(ctx context.Context, address string) (net.Conn, error) {
	dialer := net.Dialer{
		Timeout:   dialTimeout,
		KeepAlive: keepAlivePeriod,
	}

	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", address, err)
	}

	// TCP configurations
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		tcpConn.SetKeepAlive(true)
		tcpConn.SetKeepAlivePeriod(keepAlivePeriod)
		tcpConn.SetNoDelay(true)
	}

	return conn, nil
}
