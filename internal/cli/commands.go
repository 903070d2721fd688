package cli

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dmitrijs2005/canvasvault/internal/identity"
	"github.com/spf13/cobra"
)

var ErrNotConfirmed = errors.New("aborted: confirmation required")

func newInitCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create or open the database and verify encryption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			svc, err := app.Storage(ctx)
			if err != nil {
				return err
			}
			// Initialize is idempotent and reports the stack it built.
			res, err := svc.Initialize(ctx)
			if err != nil {
				return err
			}
			id, err := app.identity.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "backend: %s\nschema version: %d\npath: %s\nidentity: %s\n",
				res.Backend, res.SchemaVersion, res.Path, id.Source)
			return nil
		},
	}
}

func newLoginCmd(s *session) *cobra.Command {
	var idToken string
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Use an account email as the encryption identity",
		Long: `Sign in with --id-token (an OpenID Connect ID token carrying an email
claim) or with the global --email flag.

Records written under a different identity, including the device identity
used before the first sign-in, cannot be read until that identity is active
again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			switch {
			case idToken != "":
				err = app.identity.AuthenticateIDToken(ctx, idToken)
			case app.cfg.Email != "":
				err = app.identity.Authenticate(ctx, app.cfg.Email)
			default:
				return errors.New("login needs --id-token or --email")
			}
			if err != nil {
				return err
			}
			id, err := app.identity.Current(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s\n", id.Value)
			return nil
		},
	}
	cmd.Flags().StringVar(&idToken, "id-token", "", "OpenID Connect ID token")
	return cmd
}

func newLogoutCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the account email and fall back to the device identity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			if err := app.identity.SignOut(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
			return nil
		},
	}
}

func newWhoamiCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show where the encryption identity comes from",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			id, err := app.identity.Current(cmd.Context())
			if err != nil {
				return err
			}
			switch id.Source {
			case identity.SourceDevice:
				fmt.Fprintln(cmd.OutOrStdout(), "device identity (not signed in)")
			default:
				fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n", id.Value, id.Source)
			}
			return nil
		},
	}
}

func newUsageCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "usage",
		Short: "Report storage consumption",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			svc, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			u, err := svc.Usage(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), u)
		},
	}
}

func newCountsCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "counts",
		Short: "Count the active persona's records per collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			svc, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			counts, err := svc.Counts(cmd.Context(), app.cfg.Persona)
			if err != nil {
				return err
			}
			names := make([]string, 0, len(counts))
			for n := range counts {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%-12s %d\n", n, counts[n])
			}
			return nil
		},
	}
}

func newResetCmd(s *session) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Delete every record in every collection",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			if !yes && !confirm(app.in, cmd.OutOrStdout(), "This deletes all records.") {
				return ErrNotConfirmed
			}
			svc, err := app.Storage(cmd.Context())
			if err != nil {
				return err
			}
			if err := svc.ClearAll(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "All collections cleared")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "do not ask for confirmation")
	return cmd
}

func newDeleteDBCmd(s *session) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "delete-db",
		Short: "Remove the database file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			if !yes && !confirm(app.in, cmd.OutOrStdout(), "This removes the database file.") {
				return ErrNotConfirmed
			}
			if err := app.svc.DeleteDatabase(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Database deleted")
			return nil
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "do not ask for confirmation")
	return cmd
}
