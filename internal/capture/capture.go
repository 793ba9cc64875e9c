package capture

import (
	"bufio"
	"context"
	"errors"
	"log"
	"net"
	"strings"
	"sync"
	"time"
)

// Line is one BaseStation line read from a source
type Line struct {
	Source    string
	Text      string
	Timestamp time.Time
}

// Capture reads SBS-1 lines from one or more TCP sources, reconnecting
// after drops
type Capture struct {
	sources        []string
	lines          chan Line
	reconnectDelay time.Duration
	idleTimeout    time.Duration
	dialer         net.Dialer
	wg             sync.WaitGroup
}

// New creates a Capture for sources ("host:port")
func New(sources []string) *Capture {
	return &Capture{
		sources:        sources,
		lines:          make(chan Line, 1000),
		reconnectDelay: 5 * time.Second,
		idleTimeout:    30 * time.Second,
	}
}

// Lines returns the channel of received lines. It is closed once every
// source goroutine has stopped.
func (c *Capture) Lines() <-chan Line {
	return c.lines
}

// Start connects to every source until ctx is done
func (c *Capture) Start(ctx context.Context) {
	for _, source := range c.sources {
		c.wg.Add(1)
		go c.runSource(ctx, source)
	}
	go func() {
		c.wg.Wait()
		close(c.lines)
	}()
}

// Wait blocks until every source goroutine has stopped
func (c *Capture) Wait() {
	c.wg.Wait()
}

func (c *Capture) runSource(ctx context.Context, source string) {
	defer c.wg.Done()

	var disconnectedAt time.Time
	for {
		conn, err := c.dialer.DialContext(ctx, "tcp", source)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			if disconnectedAt.IsZero() {
				disconnectedAt = time.Now()
				log.Printf("Failed to connect to %s: %v. Retrying every %s", source, err, c.reconnectDelay)
			}
			if !sleepCtx(ctx, c.reconnectDelay) {
				return
			}
			continue
		}

		if disconnectedAt.IsZero() {
			log.Printf("Connected to source: %s", source)
		} else {
			log.Printf("Connection to %s reestablished after %s", source, time.Since(disconnectedAt).Round(time.Second))
			disconnectedAt = time.Time{}
		}
		configureTCP(conn, source)

		err = c.readLines(ctx, source, conn)
		if ctx.Err() != nil {
			return
		}
		log.Printf("Source %s disconnected: %v", source, err)
		disconnectedAt = time.Now()
		if !sleepCtx(ctx, c.reconnectDelay) {
			return
		}
	}
}

// readLines forwards complete lines until the connection fails, stays idle
// past the idle timeout, or ctx is done
func (c *Capture) readLines(ctx context.Context, source string, conn net.Conn) error {
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() {
		conn.Close()
	})
	defer stop()

	scanner := bufio.NewScanner(conn)
	for {
		if err := conn.SetReadDeadline(time.Now().Add(c.idleTimeout)); err != nil {
			return err
		}
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return errors.New("connection closed by peer")
		}

		text := strings.TrimSpace(scanner.Text())
		if text == "" {
			continue
		}
		select {
		case c.lines <- Line{Source: source, Text: text, Timestamp: time.Now().UTC()}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func configureTCP(conn net.Conn, source string) {
	tcpConn, ok := conn.(*net.TCPConn)
	if !ok {
		return
	}
	if err := tcpConn.SetKeepAlive(true); err != nil {
		log.Printf("Warning: failed to set keepalive for %s: %v", source, err)
	}
	if err := tcpConn.SetKeepAlivePeriod(2 * time.Second); err != nil {
		log.Printf("Warning: failed to set keepalive period for %s: %v", source, err)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
