package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/poprelay/relaycache/internal/cache"
	"github.com/poprelay/relaycache/internal/ui"
)

var clearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Truncate the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSink(cfg)
		if err != nil {
			return err
		}
		defer s.Close()

		if err := cache.NewWriter(cfg.WriterConfig(), s, nil, logger).ClearCache(); err != nil {
			return err
		}
		fmt.Println(ui.RenderSuccess("Cleared " + cacheLocation(cfg)))
		return nil
	},
}
