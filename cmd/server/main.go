package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"github.com/park285/deck-orchestrator-go/internal/config"
	"github.com/park285/deck-orchestrator-go/internal/di"
)

const shutdownTimeout = 10 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := di.InitializeApp(ctx)
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}

	err = serve(ctx, app)
	app.Close()
	if err != nil {
		app.Logger.Error("server_failed", "err", err)
		os.Exit(1)
	}
}

// serve 는 HTTP 와 gRPC 서버를 띄우고, 신호를 받거나 한쪽이 실패하면 둘 다 내린다.
func serve(ctx context.Context, app *di.App) error {
	config.LogEnvStatus(app.Config, app.Logger)
	group, groupCtx := errgroup.WithContext(ctx)

	app.Logger.Info("http_server_start",
		"addr", app.Server.Addr,
		"http2", app.Config.HTTP.HTTP2Enabled,
	)
	group.Go(func() error {
		if err := app.Server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	if app.GRPCServer != nil {
		app.Logger.Info("grpc_server_start", "addr", app.GRPCListener.Addr().String())
		app.Readiness.Start()
		group.Go(func() error {
			if err := app.GRPCServer.Serve(app.GRPCListener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				return err
			}
			return nil
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		app.Logger.Info("server_shutdown", "cause", context.Cause(groupCtx))

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.Shutdown(shutdownCtx); err != nil {
			app.Logger.Error("http_server_shutdown_failed", "err", err)
		}
		return nil
	})

	return group.Wait()
}
