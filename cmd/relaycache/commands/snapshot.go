package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/capture"
	"github.com/poprelay/relaycache/internal/ui"
)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Capture the screen and cache it as an image packet",
	Long: `Capture one or more frames of a display and cache them. Frames are queued as
raw RGBA pixels and compressed to JPEG by the cache writer.`,
	RunE: runSnapshot,
}

func init() {
	snapshotCmd.Flags().Int("display", 0, "Display index")
	snapshotCmd.Flags().Float64("scale", 0.5, "Downscale factor (0..1], 1 keeps full resolution")
	snapshotCmd.Flags().Int("count", 1, "Number of frames")
	snapshotCmd.Flags().Duration("every", time.Second, "Delay between frames")
}

func runSnapshot(cmd *cobra.Command, args []string) error {
	display, _ := cmd.Flags().GetInt("display")
	scale, _ := cmd.Flags().GetFloat64("scale")
	count, _ := cmd.Flags().GetInt("count")
	every, _ := cmd.Flags().GetDuration("every")
	if count < 1 {
		return fmt.Errorf("--count must be at least 1")
	}

	writer, closeWriter, err := newWriter(nil)
	if err != nil {
		return err
	}

	captured := 0
	for i := 0; i < count; i++ {
		if i > 0 {
			time.Sleep(every)
		}
		img, err := capture.Grab(display, scale)
		if err != nil {
			closeWriter()
			return err
		}
		doc, pix, err := capture.Packet(img, display, time.Now())
		if err != nil {
			closeWriter()
			return err
		}
		writer.EnqueueJSONAndBinary(doc, pix)
		writer.Flush()
		captured++
		logger.Debug("frame cached", zap.Int("frame", i), zap.Stringer("bounds", img.Bounds()))
	}

	if err := closeWriter(); err != nil {
		return err
	}
	fmt.Println(ui.RenderSuccess(fmt.Sprintf("Cached %d frame(s) to %s", captured, cacheLocation(cfg))))
	return nil
}
