package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/dmitrijs2005/canvasvault/internal/backup"
	"github.com/dmitrijs2005/canvasvault/internal/storage"
	"github.com/spf13/cobra"
)

func newExportCmd(s *session) *cobra.Command {
	var (
		out      string
		withKeys bool
		sealed   bool
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Write the active persona to a backup file",
		Long: `Export writes a flat version 4 backup. API keys are only included with
--include-api-keys and are sealed with a password you choose. --encrypted
seals the whole document instead.`,
		Args: cobra.NoArgs,
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
			w := cmd.OutOrStdout()

			var password string
			if withKeys || sealed {
				if password, err = GetNewPassword(w); err != nil {
					return err
				}
			}

			if sealed {
				eb, err := svc.CreateEncryptedBackup(ctx, app.cfg.Persona, password)
				if err != nil {
					return err
				}
				if err := backup.WriteFile(out, eb); err != nil {
					return err
				}
				fmt.Fprintf(w, "Encrypted backup written to %s\n", out)
				return nil
			}

			f, err := svc.ExportAll(ctx, app.cfg.Persona, storage.ExportOptions{Password: password, IncludeAPIKeys: withKeys})
			if err != nil {
				return err
			}
			for _, sk := range f.Skipped {
				fmt.Fprintf(w, "warning: skipped %s/%s: %s\n", sk.Collection, sk.Key, sk.Reason)
			}
			if err := backup.WriteFile(out, f); err != nil {
				return err
			}
			fmt.Fprintf(w, "Backup written to %s (%d experiences, %d stories)\n", out, len(f.Experiences), len(f.Stories))
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "backup file to write")
	cmd.Flags().BoolVar(&withKeys, "include-api-keys", false, "include password-sealed API keys")
	cmd.Flags().BoolVar(&sealed, "encrypted", false, "seal the whole backup with a password")
	_ = cmd.MarkFlagRequired("out")
	return cmd
}

func newImportCmd(s *session) *cobra.Command {
	var (
		in          string
		restoreKeys bool
	)
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Load a backup file into the active persona",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			app, err := s.App()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			w := cmd.OutOrStdout()

			data, err := os.ReadFile(in)
			if err != nil {
				return err
			}
			svc, err := app.Storage(ctx)
			if err != nil {
				return err
			}

			var res *storage.ImportResult
			if backup.IsEncryptedBackup(data) {
				eb, err := backup.ParseEncrypted(data)
				if err != nil {
					return err
				}
				password, err := GetPassword(w, "Backup password")
				if err != nil {
					return err
				}
				res, err = svc.RestoreEncryptedBackup(ctx, eb, password, app.cfg.Persona)
				if err != nil {
					return err
				}
			} else {
				f, err := backup.Parse(data)
				if err != nil {
					return err
				}
				opts := storage.ImportOptions{RestoreAPIKeys: restoreKeys && f.APIKeys != nil}
				if opts.RestoreAPIKeys {
					if opts.Password, err = GetPassword(w, "Backup password"); err != nil {
						return err
					}
				}
				res, err = svc.ImportAll(ctx, f, app.cfg.Persona, opts)
				if err != nil {
					return err
				}
			}
			return printJSON(w, res)
		},
	}
	cmd.Flags().StringVarP(&in, "in", "i", "", "backup file to read")
	cmd.Flags().BoolVar(&restoreKeys, "restore-api-keys", false, "decrypt and restore the API keys in the backup")
	_ = cmd.MarkFlagRequired("in")
	return cmd
}

func newVerifyBackupCmd(_ *session) *cobra.Command {
	return &cobra.Command{
		Use:   "verify-backup FILE",
		Short: "Check that a backup carries no plaintext API keys",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			v := backup.Verify(data)
			if err := printJSON(cmd.OutOrStdout(), v); err != nil {
				return err
			}
			return v.Err()
		},
	}
}

func newConvertBackupCmd(_ *session) *cobra.Command {
	return &cobra.Command{
		Use:   "convert-backup IN OUT",
		Short: "Rewrite a legacy nested backup in the flat version 4 layout",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			var doc map[string]any
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("%w: %w", backup.ErrMalformed, err)
			}
			if backup.IsEncryptedBackup(data) {
				return errors.New("encrypted backups cannot be converted; import them instead")
			}
			converted := backup.ConvertToV4(doc)
			if err := backup.WriteFile(args[1], converted); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Converted %s -> %s (version %v)\n", args[0], args[1], converted["version"])
			return nil
		},
	}
}
