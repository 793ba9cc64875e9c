package capture

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"
)

// startServer accepts connections on a random port and writes lines to each
func startServer(t *testing.T, lines []string, closeAfter bool) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				for _, l := range lines {
					fmt.Fprintf(conn, "%s\r\n", l)
				}
				if closeAfter {
					conn.Close()
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func receive(t *testing.T, c *Capture, n int) []Line {
	t.Helper()
	var got []Line
	timeout := time.After(5 * time.Second)
	for len(got) < n {
		select {
		case l, ok := <-c.Lines():
			if !ok {
				t.Fatalf("Lines channel closed after %d lines", len(got))
			}
			got = append(got, l)
		case <-timeout:
			t.Fatalf("Timed out after %d of %d lines", len(got), n)
		}
	}
	return got
}

func TestNew(t *testing.T) {
	c := New([]string{"localhost:30003", "localhost:30004"})
	if len(c.sources) != 2 {
		t.Errorf("Expected 2 sources, got %d", len(c.sources))
	}
	if c.lines == nil {
		t.Error("Expected lines channel to be initialized")
	}
	if c.reconnectDelay != 5*time.Second {
		t.Errorf("Expected 5s reconnect delay, got %s", c.reconnectDelay)
	}
}

func TestCapture_ReadsLines(t *testing.T) {
	addr := startServer(t, []string{"MSG,1,first", "", "  MSG,3,second  "}, false)

	c := New([]string{addr})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	got := receive(t, c, 2)
	if got[0].Text != "MSG,1,first" || got[1].Text != "MSG,3,second" {
		t.Errorf("Unexpected lines: %+v", got)
	}
	if got[0].Source != addr {
		t.Errorf("Expected source %s, got %s", addr, got[0].Source)
	}
	if got[0].Timestamp.IsZero() || got[0].Timestamp.Location() != time.UTC {
		t.Error("Expected a UTC receive timestamp")
	}

	cancel()
	c.Wait()
}

func TestCapture_Reconnects(t *testing.T) {
	addr := startServer(t, []string{"MSG,8,hello"}, true)

	c := New([]string{addr})
	c.reconnectDelay = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	got := receive(t, c, 3)
	for _, l := range got {
		if l.Text != "MSG,8,hello" {
			t.Errorf("Unexpected line %q", l.Text)
		}
	}
}

func TestCapture_StopsWhileDisconnected(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New([]string{addr})
	c.reconnectDelay = time.Hour
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)

	cancel()
	done := make(chan struct{})
	go func() {
		c.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Capture did not stop after cancel")
	}
}

func TestCapture_IdleTimeout(t *testing.T) {
	addr := startServer(t, []string{"MSG,5,once"}, false)

	c := New([]string{addr})
	c.idleTimeout = 50 * time.Millisecond
	c.reconnectDelay = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c.Start(ctx)

	// the silent connection is dropped and redialed, so the line repeats
	got := receive(t, c, 2)
	if got[1].Text != "MSG,5,once" {
		t.Errorf("Unexpected line %q", got[1].Text)
	}
}

func TestSleepCtx(t *testing.T) {
	if !sleepCtx(context.Background(), time.Millisecond) {
		t.Error("Expected sleep to complete")
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if sleepCtx(ctx, time.Hour) {
		t.Error("Expected cancelled sleep to return false")
	}
}
