package server

import (
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/park285/deck-orchestrator-go/internal/config"
)

const (
	readHeaderTimeout    = 5 * time.Second
	readTimeout          = 30 * time.Second
	idleTimeout          = 120 * time.Second
	maxConcurrentStreams = 250
)

// NewHTTPServer 는 HTTP 서버를 생성한다.
// 생성 요청은 큐 대기와 재시도 때문에 오래 걸리므로 WriteTimeout 은 두지 않는다.
func NewHTTPServer(cfg *config.Config, handler http.Handler) *http.Server {
	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		IdleTimeout:       idleTimeout,
	}

	if cfg.HTTP.HTTP2Enabled {
		server.Handler = h2c.NewHandler(handler, &http2.Server{
			MaxConcurrentStreams: maxConcurrentStreams,
			IdleTimeout:          idleTimeout,
		})
	}

	return server
}
