package run

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/identity"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/router"
	"github.com/trustwire/tcpmux/server"
)

var (
	serverCmd = &cobra.Command{
		Use:   "server",
		Short: "Start the tcpmux server",
		Args:  cobra.NoArgs,
		RunE:  runServer,
	}

	// echoIdentifier is a reference application packet handled by the demo
	// server: it echoes its string payload back to the sender.
	echoIdentifier = mustIdentifier(101)
)

func mustIdentifier(id int) protocol.PacketIdentifier {
	pid, err := protocol.NewPacketIdentifier(id)
	if err != nil {
		panic(err)
	}
	return pid
}

func runServer(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "server-cmd").Logger()

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadServerConfig(configFile)
	if err != nil {
		return err
	}

	ident, err := identity.Load(cfg.IdentityFile)
	if err != nil {
		return fmt.Errorf("load server identity: %w", err)
	}
	logger.Info().Str("fingerprint", ident.Fingerprint()).Msg("server identity ready")

	rtr := router.New(logger)
	rtr.Register(echoIdentifier, func(ctx context.Context, client router.Client, pkt *protocol.Packet) error {
		reply := protocol.NewPacket(echoIdentifier, true, pkt.Payload)
		return client.Send(reply)
	})

	srv := server.New(cfg, ident, rtr)
	srv.OnClientDisconnected = func(id string) {
		logger.Info().Str("client_id", id).Msg("client disconnected")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", cfg.Listen.Addr()).Msg("starting tcpmux server")
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	shutdownCh := make(chan struct{}, 1)
	go watchInteractiveShutdown(shutdownCh)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-shutdownCh:
		logger.Info().Msg("shutdown requested from console")
	case err := <-errCh:
		logger.Error().Err(err).Msg("server error")
		return err
	}

	cancel()
	srv.Shutdown()
	logger.Info().Msg("server stopped")
	return nil
}

// watchInteractiveShutdown reads lines from stdin and signals shutdownCh
// when it sees the "shutdown" command, satisfying the reference CLI's
// interactive shutdown surface.
func watchInteractiveShutdown(shutdownCh chan<- struct{}) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if strings.TrimSpace(scanner.Text()) == "shutdown" {
			shutdownCh <- struct{}{}
			return
		}
	}
}
