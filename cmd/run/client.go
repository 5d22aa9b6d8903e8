package run

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/trustwire/tcpmux/client"
	"github.com/trustwire/tcpmux/config"
	"github.com/trustwire/tcpmux/protocol"
	"github.com/trustwire/tcpmux/router"
	"github.com/trustwire/tcpmux/trust"
)

var (
	clientCmd = &cobra.Command{
		Use:   "client",
		Short: "Start client commands",
		Args:  cobra.NoArgs,
	}

	connectCmd = &cobra.Command{
		Use:   "connect <host> <port>",
		Short: "Connect to a tcpmux server and exchange one demo packet",
		Args:  cobra.ExactArgs(2),
		RunE:  runConnect,
	}
)

func init() {
	clientCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	logger := log.With().Str("com", "client-cmd").Logger()

	host := args[0]
	port, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("invalid port %q: %w", args[1], err)
	}

	logger.Info().Str("config", configFile).Msg("loading configuration")
	cfg, err := config.LoadClientConfig(configFile)
	if err != nil {
		return err
	}

	trustStore, err := trust.Load(cfg.TrustFile)
	if err != nil {
		return fmt.Errorf("load trust store: %w", err)
	}

	rtr := router.New(logger)
	rtr.Register(echoIdentifier, func(ctx context.Context, c router.Client, pkt *protocol.Packet) error {
		logger.Info().Str("payload", string(pkt.Payload)).Msg("received echo reply")
		return nil
	})

	c := client.New(cfg, trustStore, rtr)
	c.OnDisconnected = func(reason string) {
		logger.Warn().Str("reason", reason).Msg("disconnected from server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.Connect(ctx, host, port); err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	logger.Info().Str("server", fmt.Sprintf("%s:%d", host, port)).Msg("connected")

	hello := protocol.NewPacket(echoIdentifier, true, []byte("Hello"))
	if err := c.Send(hello); err != nil {
		return fmt.Errorf("send demo packet: %w", err)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")

	c.Disconnect("client exiting")
	return nil
}
