package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// errNotSystemd is returned when the process was not started with Type=notify.
var errNotSystemd = errors.New("NOTIFY_SOCKET not set")

// readyPayload builds the sd_notify datagram announcing readiness.
func readyPayload(status string) string {
	if status == "" {
		return "READY=1"
	}
	return "READY=1\nSTATUS=" + strings.ReplaceAll(status, "\n", " ")
}

// notifySystemd sends READY=1 and a STATUS line to the socket named by
// NOTIFY_SOCKET. The net package maps a leading '@' to the abstract namespace.
func notifySystemd(ctx context.Context, status string) error {
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return errNotSystemd
	}

	var d net.Dialer
	conn, err := d.DialContext(ctx, "unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify: dial: %w", err)
	}
	defer func() { _ = conn.Close() }()

	if _, err := conn.Write([]byte(readyPayload(status))); err != nil {
		return fmt.Errorf("systemd notify: write: %w", err)
	}
	return nil
}
