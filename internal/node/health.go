package node

import (
	"context"
	"time"

	"github.com/hatago/hatago-hub/internal/upstream"
)

// startHealthCheck launches the periodic liveness probe for a freshly
// running node, if its specification configures one. A pure timeout never
// crashes the node; only a definite probe failure does, since transient
// slowness must not oust a working node.
func (n *Node) startHealthCheck() {
	if n.spec.Health.Interval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	n.mu.Lock()
	n.healthCancel = cancel
	n.mu.Unlock()
	go n.healthLoop(ctx)
}

func (n *Node) stopHealthCheck() {
	n.mu.Lock()
	cancel := n.healthCancel
	n.healthCancel = nil
	n.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (n *Node) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(n.spec.Health.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.runHealthCheck(ctx)
		}
	}
}

func (n *Node) runHealthCheck(ctx context.Context) {
	conn := n.Connector()
	if conn == nil {
		return
	}

	timeout := n.spec.Health.Timeout
	if timeout <= 0 {
		timeout = n.spec.Health.Interval
	}
	hctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var err error
	switch n.spec.Health.Method {
	case upstream.HealthCheckListTools:
		_, err = conn.ListTools(hctx)
	default:
		err = conn.Ping(hctx)
	}
	if err == nil {
		return
	}

	if upstream.KindOf(err) == upstream.KindTimeout {
		n.log.Warn("health check timed out, keeping node running", "error", err)
		return
	}

	n.log.Warn("health check failed, marking node crashed", "error", err)
	n.recordFailure(err)
}
