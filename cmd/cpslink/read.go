package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dbehnke/cpslink/pkg/codeplug"
	"github.com/dbehnke/cpslink/pkg/config"
	"github.com/dbehnke/cpslink/pkg/logger"
	"github.com/dbehnke/cpslink/pkg/metrics"
	"github.com/dbehnke/cpslink/pkg/protocol"
	"github.com/dbehnke/cpslink/pkg/record"
	"github.com/dbehnke/cpslink/pkg/session"
)

var readFlags = struct {
	records        []string
	decodeChannels bool
}{}

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Read codeplug records from the radio",
	Long: `Read codeplug records and print them as hex dumps.

By default every record the radio advertises is read. Specific records
can be selected with --record, as "id" or "id:index" in hex or decimal,
for example --record 0x0100:1.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(runRead)
	},
}

func init() {
	readCmd.Flags().StringSliceVar(&readFlags.records, "record", nil, "Record to read, id or id:index (repeatable)")
	readCmd.Flags().BoolVar(&readFlags.decodeChannels, "decode-channels", false, "Pretty-print records that match the sample channel layout")
	rootCmd.AddCommand(readCmd)
}

func runRead(ctx context.Context, cfg *config.Config, log *logger.Logger, met *metrics.Collector, sess *session.Session) error {
	reader := codeplug.NewReader(sess, log,
		codeplug.WithBatchSize(cfg.Read.BatchSize),
		codeplug.WithReaderMetrics(met))

	var descriptors []protocol.RecordDescriptor
	if len(readFlags.records) > 0 {
		for _, spec := range readFlags.records {
			desc, err := parseRecordSpec(spec)
			if err != nil {
				return err
			}
			descriptors = append(descriptors, desc)
		}
	} else {
		ids, err := reader.ListAvailableRecords(ctx)
		if err != nil {
			return fmt.Errorf("listing records: %w", err)
		}
		for _, id := range ids {
			descriptors = append(descriptors, protocol.RecordDescriptor{RecordID: id})
		}
	}

	results, err := reader.ReadRecords(ctx, descriptors)
	if err != nil {
		return fmt.Errorf("reading records: %w", err)
	}

	ordered := make([]protocol.RecordDescriptor, 0, len(results))
	for desc := range results {
		ordered = append(ordered, desc)
	}
	sort.Slice(ordered, func(i, j int) bool {
		if ordered[i].RecordID != ordered[j].RecordID {
			return ordered[i].RecordID < ordered[j].RecordID
		}
		return ordered[i].Index < ordered[j].Index
	})

	for _, desc := range ordered {
		data := results[desc]
		fmt.Printf("record 0x%04X index %d (%d bytes)\n", desc.RecordID, desc.Index, len(data))

		if readFlags.decodeChannels && len(data) == record.ChannelRecordSize {
			if ch, err := record.DecodeChannel(data); err == nil {
				printChannel(ch)
				continue
			}
		}
		fmt.Println(hex.Dump(data))
	}
	return nil
}

func printChannel(ch *record.ChannelInfo) {
	mode := "analog"
	if ch.Mode == record.ChannelModeDigital {
		mode = "digital"
	}
	fmt.Printf("  name:       %s\n", ch.Name)
	fmt.Printf("  mode:       %s\n", mode)
	fmt.Printf("  rx:         %.6f MHz\n", float64(ch.RxHz)/1e6)
	fmt.Printf("  tx:         %.6f MHz\n", float64(ch.TxHz)/1e6)
	if ch.Mode == record.ChannelModeDigital {
		fmt.Printf("  color code: %d\n", ch.ColorCode)
	} else {
		if ch.RxToneHz > 0 {
			fmt.Printf("  rx tone:    %.1f Hz\n", ch.RxToneHz)
		}
		if ch.TxToneHz > 0 {
			fmt.Printf("  tx tone:    %.1f Hz\n", ch.TxToneHz)
		}
	}
	fmt.Printf("  power:      %d\n", ch.Power)
}

// parseRecordSpec parses "id" or "id:index" with hex or decimal values.
func parseRecordSpec(spec string) (protocol.RecordDescriptor, error) {
	idPart, indexPart, hasIndex := strings.Cut(spec, ":")

	id, err := strconv.ParseUint(idPart, 0, 16)
	if err != nil {
		return protocol.RecordDescriptor{}, fmt.Errorf("invalid record id %q: %w", idPart, err)
	}

	var index uint64
	if hasIndex {
		index, err = strconv.ParseUint(indexPart, 0, 16)
		if err != nil {
			return protocol.RecordDescriptor{}, fmt.Errorf("invalid record index %q: %w", indexPart, err)
		}
	}

	return protocol.RecordDescriptor{RecordID: uint16(id), Index: uint16(index)}, nil
}
