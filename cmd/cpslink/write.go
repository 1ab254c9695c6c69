package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/config"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/session"
)

var writeFlags = struct {
	imageFile string
	partition int
}{}

var writeCmd = &cobra.Command{
	Use:   "write",
	Short: "Write a codeplug image to the radio",
	Long: `Write a complete codeplug image to the radio.

The radio is switched into programming mode, the image is transferred in
blocks, checksummed and committed. Whatever happens, the partition is
locked and programming mode exited before the command returns.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if writeFlags.imageFile == "" {
			return fmt.Errorf("--image is required")
		}
		return withSession(runWrite)
	},
}

func init() {
	writeCmd.Flags().StringVarP(&writeFlags.imageFile, "image", "i", "", "Codeplug image file to write")
	writeCmd.Flags().IntVar(&writeFlags.partition, "partition", -1, "Partition to write (overrides config)")
	rootCmd.AddCommand(writeCmd)
}

func runWrite(ctx context.Context, cfg *config.Config, log *logger.Logger, met *metrics.Collector, sess *session.Session) error {
	image, err := os.ReadFile(writeFlags.imageFile)
	if err != nil {
		return fmt.Errorf("reading image file: %w", err)
	}

	partition := cfg.Write.Partition
	if writeFlags.partition >= 0 {
		partition = writeFlags.partition
	}

	writer := codeplug.NewWriter(sess, log,
		codeplug.WithPartition(uint16(partition)),
		codeplug.WithBlockSize(cfg.Write.BlockSize),
		codeplug.WithWriterMetrics(met))

	fmt.Printf("Writing %d bytes to partition %d\n", len(image), partition)

	err = writer.Write(ctx, image, func(u codeplug.ProgressUpdate) {
		fmt.Printf("\rradio progress: %3d%%", u.Percent)
	})
	fmt.Println()
	if err != nil {
		return fmt.Errorf("writing codeplug: %w", err)
	}

	fmt.Println("Write committed")
	return nil
}
