package commands

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/poprelay/relaycache/internal/relay"
	"github.com/poprelay/relaycache/internal/ui"
)

// maxLineSize bounds a single ingested packet
const maxLineSize = 16 * 1024 * 1024

var ingestCmd = &cobra.Command{
	Use:   "ingest [file]",
	Short: "Cache decoded packets, one per line, from a file or stdin",
	Long: `Read packets one per line and cache them. Each line is published as a
binary packet (a JSON header, optionally followed by tail bytes) unless --text
is set. Reads stdin when no file is given.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().Bool("text", false, "Publish lines as text messages")
}

func runIngest(cmd *cobra.Command, args []string) error {
	asText, _ := cmd.Flags().GetBool("text")

	in := io.Reader(os.Stdin)
	if len(args) == 1 {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open %s: %w", args[0], err)
		}
		defer f.Close()
		in = f
	}

	bus := relay.NewBus()
	writer, closeWriter, err := newWriter(bus)
	if err != nil {
		return err
	}

	n, readErr := publishLines(in, bus, asText)
	pending := writer.Size()
	if err := closeWriter(); err != nil {
		return err
	}
	if readErr != nil {
		return readErr
	}

	logger.Debug("ingest finished", zap.Int("packets", n), zap.Int("flushed", pending))
	fmt.Println(ui.RenderSuccess(fmt.Sprintf("Cached %d packets to %s", n, cacheLocation(cfg))))
	return nil
}

// publishLines publishes every non-empty line of r on bus and returns how many were sent
func publishLines(r io.Reader, bus *relay.Bus, asText bool) (int, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if asText {
			bus.PublishDecoded(relay.TextMessage{Data: string(line)})
		} else {
			bus.PublishDecoded(relay.BinaryMessage{Data: append([]byte(nil), line...)})
		}
		n++
	}
	if err := scanner.Err(); err != nil {
		return n, fmt.Errorf("failed to read packets: %w", err)
	}
	return n, nil
}
