package commands

import (
	"fmt"
	"net"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/poprelay/relaycache/internal/discovery"
	"github.com/poprelay/relaycache/internal/ui"
)

var announceCmd = &cobra.Command{
	Use:   "announce",
	Short: "Answer discovery requests, acting as a relay server",
	Long: `Listen for discovery broadcasts and answer each one with a hostname, the way a
relay server does. Useful for testing discovery on a network without a server.`,
	RunE: runAnnounce,
}

func init() {
	announceCmd.Flags().String("hostname", "", "Hostname to reply with (default: config, then os hostname)")
	announceCmd.Flags().String("listen", "", "Listen address (default: 0.0.0.0:<discovery port>)")
}

func runAnnounce(cmd *cobra.Command, args []string) error {
	hostname, _ := cmd.Flags().GetString("hostname")
	if hostname == "" {
		hostname = cfg.Discovery.Hostname
	}
	if hostname == "" {
		h, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("failed to get hostname: %w", err)
		}
		hostname = h
	}

	listen, _ := cmd.Flags().GetString("listen")
	if listen == "" {
		listen = net.JoinHostPort(net.IPv4zero.String(), strconv.Itoa(cfg.Discovery.Port))
	}

	responder := discovery.NewResponder(listen, hostname, logger)
	if err := responder.Start(); err != nil {
		return err
	}
	defer responder.Stop()

	fmt.Print(ui.RenderPanel("relaycache announce", []ui.Field{
		{Label: "listen", Value: responder.Addr().String()},
		{Label: "hostname", Value: hostname},
	}))

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	fmt.Println(ui.RenderDim(fmt.Sprintf("answered %d requests", responder.Answered())))
	return nil
}
