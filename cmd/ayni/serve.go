package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/danielpatrickdp/adaptive-state/ayni/internal/config"
	"github.com/danielpatrickdp/adaptive-state/ayni/internal/oracle"
)

var (
	serveAddr   string
	serveOracle string
)

// serveOracleCmd exposes one configured oracle over the judgment gRPC service,
// so remote engines can use it as a grpc-kind oracle.
var serveOracleCmd = &cobra.Command{
	Use:   "serve-oracle",
	Short: "Serve a configured oracle over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		oc, ok := cfg.Oracle(serveOracle)
		if !ok {
			return &config.Error{Problems: []string{fmt.Sprintf("oracle %q is not defined", serveOracle)}}
		}
		if oc.Kind == oracle.KindGRPC {
			return &config.Error{Problems: []string{fmt.Sprintf("oracle %q is itself remote", serveOracle)}}
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, closeFn, err := oracle.Open(ctx, oc.Spec())
		if err != nil {
			return err
		}
		defer closeFn()

		lis, err := net.Listen("tcp", serveAddr)
		if err != nil {
			return fmt.Errorf("listen %s: %w", serveAddr, err)
		}
		srv := grpc.NewServer()
		oracle.RegisterOracle(srv, o)

		go func() {
			<-ctx.Done()
			srv.GracefulStop()
		}()
		logger.Info("serving oracle", zap.String("oracle", oc.ID), zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	},
}

func init() {
	serveOracleCmd.Flags().StringVar(&serveAddr, "addr", "127.0.0.1:7070", "listen address")
	serveOracleCmd.Flags().StringVar(&serveOracle, "oracle", "", "id of the oracle to serve")
	_ = serveOracleCmd.MarkFlagRequired("oracle")
}
