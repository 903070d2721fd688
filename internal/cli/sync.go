package cli

import (
	"context"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/canvasvault/internal/blobsync"
	"github.com/dmitrijs2005/canvasvault/internal/config"
	"github.com/spf13/cobra"
)

// newObjectStore is a test seam for the S3 client.
var newObjectStore = func(ctx context.Context, cfg config.S3Config) (blobsync.ObjectStore, error) {
	return blobsync.NewS3Store(ctx, cfg)
}

func newSyncCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Exchange collection snapshots with S3-compatible storage",
	}

	syncer := func(cmd *cobra.Command) (*App, *blobsync.Syncer, error) {
		app, err := s.App()
		if err != nil {
			return nil, nil, err
		}
		if _, err := app.Storage(cmd.Context()); err != nil {
			return nil, nil, err
		}
		remote, err := newObjectStore(cmd.Context(), app.cfg.S3)
		if err != nil {
			return nil, nil, err
		}
		return app, blobsync.New(remote, app.cfg.S3.Prefix, blobsync.WithLogger(app.log)), nil
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Upload a snapshot of every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, sy, err := syncer(cmd)
			if err != nil {
				return err
			}
			pushed, err := sy.Push(cmd.Context(), app.svc, app.cfg.Persona)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d collections\n", len(pushed))
			return nil
		},
	}, &cobra.Command{
		Use:   "pull",
		Short: "Download snapshots and upsert their records",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, sy, err := syncer(cmd)
			if err != nil {
				return err
			}
			restored, err := sy.Pull(cmd.Context(), app.svc, app.cfg.Persona)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(restored))
			for n := range restored {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", n, restored[n])
			}
			return nil
		},
	})
	return cmd
}
