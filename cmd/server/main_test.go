package main

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestReadyPayload(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		status string
		want   string
	}{
		{"no status", "", "READY=1"},
		{"status", "serving triage on :8080", "READY=1\nSTATUS=serving triage on :8080"},
		{"newline folded", "line one\nline two", "READY=1\nSTATUS=line one line two"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := readyPayload(tt.status); got != tt.want {
				t.Errorf("readyPayload(%q) = %q, want %q", tt.status, got, tt.want)
			}
		})
	}
}

// listenNotify opens a unixgram socket standing in for systemd.
func listenNotify(t *testing.T, addr string) net.PacketConn {
	t.Helper()
	var lc net.ListenConfig
	conn, err := lc.ListenPacket(context.Background(), "unixgram", addr)
	if err != nil {
		t.Fatalf("listen unixgram %q: %v", addr, err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readDatagram(t *testing.T, conn net.PacketConn) string {
	t.Helper()
	if err := conn.SetReadDeadline(time.Now().Add(5 * time.Second)); err != nil {
		t.Fatalf("set deadline: %v", err)
	}
	buf := make([]byte, 512)
	n, _, err := conn.ReadFrom(buf)
	if err != nil {
		t.Fatalf("read from socket: %v", err)
	}
	return string(buf[:n])
}

// NOTIFY_SOCKET is process-wide, so these cases run sequentially.
func TestNotifySystemd(t *testing.T) {
	tests := []struct {
		name    string
		socket  func(t *testing.T) (env string, conn net.PacketConn)
		wantErr string
		isUnset bool
	}{
		{
			name:    "not under systemd",
			socket:  func(*testing.T) (string, net.PacketConn) { return "", nil },
			isUnset: true,
		},
		{
			name: "missing socket file",
			socket: func(t *testing.T) (string, net.PacketConn) {
				return filepath.Join(t.TempDir(), "gone.sock"), nil
			},
			wantErr: "dial",
		},
		{
			name: "filesystem socket",
			socket: func(t *testing.T) (string, net.PacketConn) {
				path := filepath.Join(t.TempDir(), "notify.sock")
				return path, listenNotify(t, path)
			},
		},
		{
			name: "abstract socket",
			socket: func(t *testing.T) (string, net.PacketConn) {
				name := "medtriage-notify-" + strings.ReplaceAll(t.Name(), "/", "-") + "-" + time.Now().Format("150405.000000000")
				return "@" + name, listenNotify(t, "@"+name)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, conn := tt.socket(t)
			if env == "" {
				t.Setenv("NOTIFY_SOCKET", "")
				_ = os.Unsetenv("NOTIFY_SOCKET")
			} else {
				t.Setenv("NOTIFY_SOCKET", env)
			}

			err := notifySystemd(context.Background(), "serving triage on :8080")
			switch {
			case tt.isUnset:
				if !errors.Is(err, errNotSystemd) {
					t.Fatalf("err = %v, want errNotSystemd", err)
				}
				return
			case tt.wantErr != "":
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("err = %v, want substring %q", err, tt.wantErr)
				}
				return
			case err != nil:
				t.Fatalf("notifySystemd() = %v, want nil", err)
			}

			got := readDatagram(t, conn)
			if want := "READY=1\nSTATUS=serving triage on :8080"; got != want {
				t.Errorf("payload = %q, want %q", got, want)
			}
		})
	}
}
