package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/config"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/session"
)

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Connect to the radio and show its session identity and available records",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(runInfo)
	},
}

func init() {
	rootCmd.AddCommand(infoCmd)
}

func runInfo(ctx context.Context, cfg *config.Config, log *logger.Logger, met *metrics.Collector, sess *session.Session) error {
	id := sess.Identity()
	fmt.Printf("Session state:   %s\n", id.State)
	fmt.Printf("Local address:   0x%04X\n", id.LocalAddress)
	fmt.Printf("Peer address:    0x%04X\n", id.PeerAddress)
	fmt.Printf("Session prefix:  0x%02X\n", id.SessionPrefix)

	reader := codeplug.NewReader(sess, log, codeplug.WithReaderMetrics(met))
	ids, err := reader.ListAvailableRecords(ctx)
	if err != nil {
		return fmt.Errorf("listing records: %w", err)
	}

	fmt.Printf("\nAvailable records (%d):\n", len(ids))
	for _, recordID := range ids {
		fmt.Printf("  0x%04X\n", recordID)
	}
	return nil
}
