package cli

import (
	"errors"
	"fmt"

	"github.com/dmitrijs2005/canvasvault/internal/migration"
	"github.com/spf13/cobra"
)

func newMigrateCmd(s *session) *cobra.Command {
	var (
		status   bool
		rollback bool
		purge    bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Move legacy key/value data into the encrypted collections",
		Long: `Without flags, migrate runs the legacy migration for the active persona.
It can be repeated: migrated keys are skipped and failed keys retried.
Every migrated value keeps a backup_ copy until --purge removes the
originals; --rollback restores them instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if countTrue(status, rollback, purge) > 1 {
				return errors.New("--status, --rollback and --purge are exclusive")
			}
			app, err := s.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			switch {
			case status:
				rep, err := app.migrator().Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(w, rep)
			case rollback:
				n, err := app.migrator().Rollback(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Restored %d legacy keys\n", n)
				return nil
			}

			if _, err := app.Storage(ctx); err != nil {
				return err
			}
			m := app.migrator()
			if purge {
				n, err := m.PurgeLegacy(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "Purged %d migrated legacy keys\n", n)
				return nil
			}

			res, err := m.Run(ctx, app.cfg.Persona, func(p migration.Progress) {
				fmt.Fprintf(w, "[%3d%%] %d/%d %s\n", p.Percentage, p.Completed, p.Total, p.CurrentItem)
			})
			if res != nil {
				for _, it := range res.Items {
					if it.Err != nil {
						fmt.Fprintf(w, "failed: %v\n", it.Err)
					}
				}
				fmt.Fprintf(w, "%s: %d migrated, %d failed, %d already migrated, %d records written\n",
					res.State, res.Migrated, res.Failed, res.AlreadyMigrated, res.Records)
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "show the migration status")
	cmd.Flags().BoolVar(&rollback, "rollback", false, "restore legacy keys from their backup copies")
	cmd.Flags().BoolVar(&purge, "purge", false, "delete legacy originals that have a backup copy")
	return cmd
}

func countTrue(flags ...bool) int {
	n := 0
	for _, f := range flags {
		if f {
			n++
		}
	}
	return n
}
