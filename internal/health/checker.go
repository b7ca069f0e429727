// Package health periodically self-checks every registered backend and
// reports its liveness to Prometheus.
package health

import (
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/mysqlbouncer/mysqlbouncer/internal/backend"
	"github.com/mysqlbouncer/mysqlbouncer/internal/metrics"
)

// Checker drives backend.Registry.SelfCheck on a fixed tick, probing each
// backend with a raw MySQL handshake read rather than a full login, so a
// backend that is merely slow to authenticate isn't mistaken for down.
type Checker struct {
	registry *backend.Registry
	metrics  *metrics.Collector

	interval          time.Duration
	connectionTimeout time.Duration

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewChecker creates a Checker. interval is how often SelfCheck runs;
// connectionTimeout bounds each individual probe dial+read.
func NewChecker(r *backend.Registry, m *metrics.Collector, interval, connectionTimeout time.Duration) *Checker {
	if interval <= 0 {
		interval = time.Second
	}
	if connectionTimeout <= 0 {
		connectionTimeout = 2 * time.Second
	}
	return &Checker{
		registry:          r,
		metrics:           m,
		interval:          interval,
		connectionTimeout: connectionTimeout,
		stopCh:            make(chan struct{}),
	}
}

// Start begins periodic health checking in the background.
func (c *Checker) Start() {
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.run()
	}()
	slog.Info("health checker started", "interval", c.interval)
}

// Stop stops the health checker. Safe to call multiple times.
func (c *Checker) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopCh)
	})
	c.wg.Wait()
	slog.Info("health checker stopped")
}

func (c *Checker) run() {
	c.checkAll()

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.checkAll()
		case <-c.stopCh:
			return
		}
	}
}

func (c *Checker) checkAll() {
	c.registry.SelfCheck(func(b *backend.Backend) bool {
		prevState := b.State()
		start := time.Now()
		healthy := c.pingMySQL(b.Addr)
		elapsed := time.Since(start)

		if c.metrics != nil {
			c.metrics.SetBackendHealth(b.Addr, b.Role.String(), healthy)
			c.metrics.SetBackendClients(b.Addr, b.Role.String(), b.ConnectedClients())
		}

		newStateName := "down"
		if healthy {
			newStateName = "up"
		}
		if (prevState == backend.StateUp) != healthy {
			slog.Info("backend health transition", "backend", b.Addr, "healthy", healthy, "probe_duration", elapsed)
			if c.metrics != nil {
				c.metrics.BackendStateChanged(b.Addr, newStateName)
			}
		}
		return healthy
	})
}

// pingMySQL dials addr and reads the server's initial HandshakeV10 packet.
// Any well-formed handshake is treated as "reachable"; dial failures,
// timeouts, malformed frames, and an ERR packet in place of the handshake
// all count as down.
func (c *Checker) pingMySQL(addr string) bool {
	conn, err := net.DialTimeout("tcp", addr, c.connectionTimeout)
	if err != nil {
		return false
	}
	defer conn.Close()

	conn.SetDeadline(time.Now().Add(c.connectionTimeout))

	header := make([]byte, 4)
	if _, err := io.ReadFull(conn, header); err != nil {
		return false
	}

	payloadLen := int(header[0]) | int(header[1])<<8 | int(header[2])<<16
	if payloadLen <= 0 || payloadLen > 1<<20 {
		return false
	}

	payload := make([]byte, payloadLen)
	if _, err := io.ReadFull(conn, payload); err != nil {
		return false
	}

	// A leading 0xff is an ERR_Packet: the server answered but refused the
	// connection outright (e.g. max_connections), which we still treat as
	// down since no client could be routed there right now.
	return len(payload) > 0 && payload[0] != 0xff
}
