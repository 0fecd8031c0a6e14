package master

import (
	"context"
	"net/http"
	"time"

	"github.com/cubefs/cubefs/blobstore/common/profile"
	"github.com/cubefs/cubefs/blobstore/common/rpc"
	"github.com/cubefs/cubefs/blobstore/util/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/zmyer/tera/metrics"
)

const (
	defaultShutdownTimeoutS      = 10
	defaultReadRequestTimeoutS   = 30
	defaultWriteResponseTimeoutS = 30
)

// HTTPServer serves the rpc routes plus profiling and metrics.
type HTTPServer struct {
	httpServer *http.Server
	rpcServer  *RPCServer
}

// NewHTTPServer wraps the rpc server.
func NewHTTPServer(rpcServer *RPCServer) *HTTPServer {
	return &HTTPServer{rpcServer: rpcServer}
}

// Serve starts listening on addr.
func (h *HTTPServer) Serve(addr string) {
	ph := profile.NewProfileHandler(addr)
	router := h.rpcServer.NewHandler()
	router.Handle(http.MethodGet, "/metrics", func(c *rpc.Context) {
		promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}).
			ServeHTTP(c.Writer, c.Request)
	})

	httpServer := &http.Server{
		Addr:         addr,
		Handler:      rpc.MiddlewareHandlerWith(router, ph),
		ReadTimeout:  defaultReadRequestTimeoutS * time.Second,
		WriteTimeout: defaultWriteResponseTimeoutS * time.Second,
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("http server exits:", err)
		}
	}()
	h.httpServer = httpServer

	log.Info("master http server is running at:", addr)
}

// Stop drains and shuts the listener down.
func (h *HTTPServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeoutS*time.Second)
	defer cancel()
	h.httpServer.Shutdown(ctx)
}
