package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/store"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect stored board history",
	}
	cmd.AddCommand(newHistoryDumpCmd(v))
	return cmd
}

func newHistoryDumpCmd(v *viper.Viper) *cobra.Command {
	var (
		boardID  string
		output   string
		compress bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a board's events as JSON lines in sequence order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := bindFlags(v, cmd, map[string]string{config.KeyStorePath: "store-path"}); err != nil {
				return err
			}

			envFile, _ := cmd.Flags().GetString("env-file")
			cfg, err := config.Load(v, envFile)
			if err != nil {
				return err
			}
			if cfg.Store.Driver != config.DriverSQLite {
				return errors.New("history dump needs the sqlite store")
			}

			backend, err := store.OpenSQLite(store.SQLiteConfig{Path: cfg.Store.Path, PoolSize: 1})
			if err != nil {
				return err
			}
			defer backend.Close()

			w := cmd.OutOrStdout()
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return fmt.Errorf("create %s: %w", output, err)
				}
				defer f.Close()
				w = f
			}

			return dumpHistory(cmd.Context(), backend, boardID, w, compress)
		},
	}

	cmd.Flags().StringVar(&boardID, "board", "", "board id")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output file, - for stdout")
	cmd.Flags().BoolVar(&compress, "compress", false, "zstd-compress the output")
	cmd.Flags().String("store-path", "", "sqlite database path")
	cmd.MarkFlagRequired("board")

	return cmd
}

// dumpHistory writes one JSON record per line.
func dumpHistory(ctx context.Context, backend store.Backend, boardID string, w io.Writer, compress bool) (err error) {
	records, err := backend.OrderedSelect(ctx, boardID)
	if err != nil {
		return err
	}

	if compress {
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("zstd writer: %w", err)
		}
		defer func() {
			if closeErr := enc.Close(); err == nil {
				err = closeErr
			}
		}()
		w = enc
	}

	lines := json.NewEncoder(w)
	for _, rec := range records {
		if err := lines.Encode(rec); err != nil {
			return fmt.Errorf("write %s#%d: %w", rec.BoardID, rec.Sequence, err)
		}
	}
	return nil
}
