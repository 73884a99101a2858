package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/FrLars21/bioacoustics/pkg/pipeline"
	"github.com/FrLars21/bioacoustics/pkg/transport/wshost"
)

var (
	serveAddr string
	servePath string
	serveInit bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the prediction message contract over WebSocket",
	Long: `Serve init and predict messages over WebSocket. Text frames carry JSON,
binary frames carry msgpack. Requests from all connections are processed
one at a time.

Examples:
  birdnet serve
  birdnet serve --addr 127.0.0.1:9000 --init`,
	RunE: func(cmd *cobra.Command, args []string) error {
		svc, err := loadService()
		if err != nil {
			return err
		}
		addr := svc.Server.Addr
		if cmd.Flags().Changed("addr") || addr == "" {
			addr = serveAddr
		}
		path := svc.Server.Path
		if cmd.Flags().Changed("path") || path == "" {
			path = servePath
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(svc)
		if err != nil {
			return err
		}
		p, err := rt.newPipeline(ctx)
		if err != nil {
			rt.Close()
			return err
		}
		defer closeAll(p.Engine(), rt)

		runErr := make(chan error, 1)
		go func() { runErr <- p.Run(ctx) }()

		if serveInit {
			if err := initPipeline(ctx, p); err != nil {
				stop()
				<-runErr
				return err
			}
		}

		srv, err := wshost.New(wshost.Config{Pipeline: p, Path: path, Logger: rt.logger})
		if err != nil {
			return err
		}
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", addr, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Listening on ws://%s%s\n", ln.Addr(), srv.Path())

		err = srv.Serve(ctx, ln)
		stop()
		if rerr := <-runErr; err == nil && !errors.Is(rerr, context.Canceled) {
			err = rerr
		}
		return err
	},
}

// initPipeline loads the classifier through the worker queue.
func initPipeline(ctx context.Context, p *pipeline.Pipeline) error {
	var failure error
	err := p.Submit(ctx, pipeline.Message{Type: pipeline.TypeInit}, func(ev pipeline.Event) error {
		if ev.Type == pipeline.TypeError {
			failure = fmt.Errorf("init: %s", ev.Message)
		}
		return nil
	})
	if err != nil {
		return err
	}
	return failure
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")
	serveCmd.Flags().StringVar(&servePath, "path", wshost.DefaultPath, "WebSocket endpoint path")
	serveCmd.Flags().BoolVar(&serveInit, "init", false, "load the classifier before accepting connections")

	rootCmd.AddCommand(serveCmd)
}
