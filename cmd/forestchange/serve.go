package main

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/forest-guardian/forest-change-detection/internal/ml"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

var (
	listenAddress string
	maxModels     int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the Random Forest classifier over gRPC",
	Long: `Starts the classifier service used by the remote model backend
(model.backend: remote). Forest parameters come from the model section of the
configuration; the seed is supplied by each training request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		lis, err := net.Listen("tcp", listenAddress)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", listenAddress, err)
		}

		srv := grpc.NewServer(
			grpc.MaxRecvMsgSize(64*1024*1024),
			grpc.MaxSendMsgSize(64*1024*1024),
		)
		opts := ml.TrainOptions{Workers: cfg.Processing.Workers}
		ml.RegisterClassifierServer(srv, ml.NewClassifierService(forestParams(cfg), opts, maxModels, logger))

		go func() {
			<-ctx.Done()
			logger.Info("Received shutdown signal")
			srv.GracefulStop()
		}()

		logger.Info("classifier service listening", zap.String("address", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("classifier service stopped: %w", err)
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&listenAddress, "listen", ":50051", "Address to listen on")
	serveCmd.Flags().IntVar(&maxModels, "max-models", ml.DefaultMaxModels, "Trained forests kept in memory; the least recently used is dropped")
}
