package app

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"time"

	"github.com/gosuri/uitable"
	"github.com/spf13/cobra"
	utilerrors "k8s.io/apimachinery/pkg/util/errors"
	"k8s.io/component-base/version"

	"github.com/autopeer-io/otabridge/internal/ota"
	"github.com/autopeer-io/otabridge/internal/store"
	"github.com/autopeer-io/otabridge/pkg/options"
)

// newStateCommand prints the persisted update ledger.
func newStateCommand() *cobra.Command {
	opts := options.NewRedisOptions()
	opts.Addr = "localhost:6379"

	cmd := &cobra.Command{
		Use:   "state",
		Short: "Print the persisted update state of every device",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := utilerrors.NewAggregate(opts.Validate()); err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			s, err := store.NewRedis(ctx, opts)
			if err != nil {
				return err
			}
			defer s.Close()

			records, err := s.Load(ctx)
			if err != nil {
				return err
			}
			return renderState(cmd.OutOrStdout(), records)
		},
	}
	opts.AddFlags(cmd.Flags())
	return cmd
}

func renderState(w io.Writer, records map[string]ota.Record) error {
	ids := make([]string, 0, len(records))
	for id := range records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	table := uitable.New()
	table.MaxColWidth = 40
	table.AddRow("DEVICE", "STATE", "INSTALLED", "LATEST", "PROGRESS")
	for _, id := range ids {
		r := records[id]
		progress := "-"
		if r.Progress != nil {
			progress = fmt.Sprintf("%.2f%%", *r.Progress)
		}
		table.AddRow(id, string(r.State), version64(r.InstalledVersion), version64(r.LatestVersion), progress)
	}

	_, err := fmt.Fprintln(w, table)
	return err
}

func version64(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version.Get().String())
		},
	}
}
