package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/poprelay/relaycache/internal/discovery"
	"github.com/poprelay/relaycache/internal/ui"
)

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Broadcast for relay servers and print the ones that answer",
	Long: `Broadcast discovery requests on the local network and print every relay
server that replies. Stops at the first server unless --all is set.`,
	RunE: runDiscover,
}

func init() {
	discoverCmd.Flags().Duration("timeout", 10*time.Second, "Give up after this long")
	discoverCmd.Flags().Bool("all", false, "Keep listening until the timeout and list every server")
	discoverCmd.Flags().Duration("every", 0, "Broadcast interval (default from config)")
}

func runDiscover(cmd *cobra.Command, args []string) error {
	timeout, _ := cmd.Flags().GetDuration("timeout")
	all, _ := cmd.Flags().GetBool("all")

	dcfg := cfg.DiscoveryConfig()
	dcfg.AutoConnect = false
	dcfg.DisableOnDiscovery = !all
	if cmd.Flags().Changed("every") {
		dcfg.BroadcastEvery, _ = cmd.Flags().GetDuration("every")
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	svc := discovery.NewService(dcfg, nil, logger)
	spinner := ui.NewSpinner("Looking for relay servers on " + dcfg.BroadcastAddr)

	seen := make(map[string]bool)
	svc.AddListener(func(host string) error {
		if seen[host] {
			return nil
		}
		seen[host] = true
		spinner.Stop()
		fmt.Println(ui.RenderHost(host))
		if all {
			spinner.Start()
		}
		return nil
	})

	if err := svc.Start(); err != nil {
		return err
	}
	defer svc.Stop()

	spinner.Start()
	err := svc.Run(ctx, discoveryTick)
	spinner.Stop()
	if err != nil {
		return err
	}

	stats := svc.Stats()
	if len(seen) == 0 {
		return fmt.Errorf("no relay server answered after %d broadcasts", stats.Broadcasts)
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	fmt.Println(ui.RenderDim(fmt.Sprintf("%d broadcasts, %d replies (%s), discovery ",
		stats.Broadcasts, stats.Replies, strings.Join(hosts, ", "))) + ui.RenderState(svc.State().String()))
	return nil
}
