// Package dashboard serves a local status endpoint for a running patient or
// doctor session: JSON status, an SSE state stream and Prometheus metrics.
package dashboard

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Provider is the session the status server reports on.
type Provider interface {
	// Snapshot returns the current session state as a JSON-encodable value.
	Snapshot() any
	Connect()
	Disconnect()
	// OnChange registers fn for every state change and returns its disposer.
	OnChange(fn func()) func()
}

// StartOpts holds configuration for the status server.
type StartOpts struct {
	Provider Provider
	// Metrics serves /metrics when set.
	Metrics http.Handler
	Port    int
	Out     io.Writer
}

// Handler builds the status server's router.
func Handler(opts StartOpts) (http.Handler, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("dashboard: provider is required")
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	registerRoutes(router, opts)
	return router, nil
}

// Start launches the status server. It blocks until ctx is cancelled, then
// shuts down gracefully. A zero port disables the server and Start returns
// immediately.
func Start(ctx context.Context, opts StartOpts) error {
	if opts.Port == 0 {
		return nil
	}
	handler, err := Handler(opts)
	if err != nil {
		return err
	}

	ln, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", opts.Port))
	if err != nil {
		return fmt.Errorf("dashboard: %w", err)
	}
	return serve(ctx, ln, handler, opts.Out)
}

func serve(ctx context.Context, ln net.Listener, handler http.Handler, out io.Writer) error {
	srv := &http.Server{Handler: handler}

	// Graceful shutdown on context cancellation.
	go func() {
		<-ctx.Done()
		srv.Shutdown(context.Background())
	}()

	if out != nil {
		fmt.Fprintf(out, "Status server running at http://%s\n", ln.Addr())
	}

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("dashboard: %w", err)
	}
	return nil
}
