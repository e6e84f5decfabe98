package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/checkpoint"
	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/source"
	pkgconfig "github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/invopop/jsonschema"
	"github.com/spf13/cobra"
)

var (
	abiFiles   []string
	replayFile string
	exportFrom uint64
	exportTo   uint64
	exportOut  string
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List the log types the decoder recognizes",
	Long:  `List every logged type of the embedded vault ABI, or of the ABI files given with --abi.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		table, err := abi.LoadTable(abiFiles)
		if err != nil {
			return err
		}

		fmt.Println("Registered log types:")
		for _, e := range table.Entries() {
			fmt.Printf("  - %-20s log id %s\n", e.Name, e.LogID)
		}
		return nil
	},
}

var schemaCmd = &cobra.Command{
	Use:   "schema",
	Short: "Print the JSON schema of the configuration file",
	RunE: func(cmd *cobra.Command, args []string) error {
		r := &jsonschema.Reflector{FieldNameTag: "json", RequiredFromJSONSchemaTags: true}
		schema := r.Reflect(&pkgconfig.Config{})

		out, err := json.MarshalIndent(schema, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	},
}

var checkpointCmd = &cobra.Command{
	Use:   "checkpoint",
	Short: "Inspect or move the processing checkpoint",
}

var checkpointShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the stored checkpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withCheckpoints(false, func(ctx context.Context, cps *checkpoint.Store) error {
			cp, err := cps.Load(ctx)
			if err != nil {
				return err
			}

			if !cp.HasHeight {
				fmt.Printf("process %s: no blocks processed yet\n", cp.Process)
				return nil
			}
			fmt.Printf("process:    %s\nheight:     %d\nblock hash: %s\nupdated at: %s\n",
				cp.Process, cp.Height, cp.BlockHash.Hex(), cp.UpdatedAt.Format("2006-01-02 15:04:05 MST"))
			return nil
		})
	},
}

var checkpointResetCmd = &cobra.Command{
	Use:   "reset [height]",
	Short: "Move the checkpoint to height, or clear it when no height is given",
	Long: `Move the checkpoint so the next run resumes after height. Without a height the
checkpoint is cleared and the next run starts from source.start_block.

Reset only rewinds the read position. Entities and processed receipt markers are
kept, so receipts that were already committed are skipped on the way and are never
applied again. Only receipts that failed or were skipped before are retried. To
rebuild entities from scratch, start from an empty database instead.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var height *uint64
		if len(args) == 1 {
			h, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid height %q: %w", args[0], err)
			}
			height = &h
		}

		return withCheckpoints(true, func(ctx context.Context, cps *checkpoint.Store) error {
			if err := cps.Reset(ctx, height); err != nil {
				return err
			}
			if height == nil {
				fmt.Println("checkpoint cleared")
			} else {
				fmt.Printf("checkpoint moved to %d\n", *height)
			}
			return nil
		})
	},
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Process a newline delimited JSON block file and exit",
	Long: `Replay blocks exported with the export command. The configured database,
checkpoint and handlers are used; only the block source is replaced.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		cfg.Source.Type = pkgconfig.SourceTypeFile
		cfg.Source.Path = replayFile
		if err := cfg.Source.Validate(); err != nil {
			return err
		}

		return run(cfg, true)
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Fetch a block range from the configured source into a JSON block file",
	RunE: func(cmd *cobra.Command, args []string) error {
		if exportTo < exportFrom {
			return fmt.Errorf("--to (%d) is before --from (%d)", exportTo, exportFrom)
		}

		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx, cancel := signalContext()
		defer cancel()

		src, err := source.New(cfg.Source, logger.NewComponentLoggerFromConfig(common.ComponentSource, cfg.Logging))
		if err != nil {
			return err
		}
		defer src.Close()

		out, err := os.Create(exportOut)
		if err != nil {
			return err
		}
		defer out.Close()

		exported := 0
		for next := exportFrom; next <= exportTo; {
			limit := min(cfg.Source.BatchSize, exportTo-next+1)
			blocks, err := src.Fetch(ctx, next, limit)
			if err != nil {
				return fmt.Errorf("fetch from %d: %w", next, err)
			}
			if len(blocks) == 0 {
				break
			}
			if err := source.WriteBlocks(out, blocks); err != nil {
				return err
			}
			exported += len(blocks)
			next = blocks[len(blocks)-1].Height + 1
		}

		fmt.Printf("exported %d blocks to %s\n", exported, exportOut)
		return nil
	},
}

// withCheckpoints opens the checkpoint store of the configured process. With
// lease set the lease is taken for the duration of fn.
func withCheckpoints(lease bool, fn func(ctx context.Context, cps *checkpoint.Store) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	log := logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging)

	sqlDB, err := openDatabase(cfg, log)
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	cps, err := checkpoint.New(cfg.Checkpoint, cfg.Processor.Name, sqlDB, log)
	if err != nil {
		return err
	}
	defer cps.Close()

	if lease {
		if err := cps.Acquire(ctx); err != nil {
			return fmt.Errorf("failed to acquire checkpoint lease (is an indexer running?): %w", err)
		}
		defer func() {
			if err := cps.Release(context.Background()); err != nil {
				log.Warnf("Failed to release checkpoint lease: %v", err)
			}
		}()
	}

	return fn(ctx, cps)
}

func init() {
	listCmd.Flags().StringSliceVar(&abiFiles, "abi", nil, "ABI JSON files (defaults to the embedded vault ABI)")

	replayCmd.Flags().StringVar(&replayFile, "file", "", "newline delimited JSON block file")
	_ = replayCmd.MarkFlagRequired("file")

	exportCmd.Flags().Uint64Var(&exportFrom, "from", 0, "first block height")
	exportCmd.Flags().Uint64Var(&exportTo, "to", 0, "last block height")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "blocks.ndjson", "output file")
	_ = exportCmd.MarkFlagRequired("to")

	checkpointCmd.AddCommand(checkpointShowCmd, checkpointResetCmd)
	rootCmd.AddCommand(listCmd, schemaCmd, checkpointCmd, replayCmd, exportCmd)
}
