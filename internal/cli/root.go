package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/dmitrijs2005/canvasvault/internal/config"
	"github.com/spf13/cobra"
)

// Version is overridden at link time.
var Version = "dev"

// session carries what the commands share: the raw arguments and
// environment config is loaded from, and the lazily built App.
type session struct {
	args []string
	env  config.LookupFunc
	in   io.Reader
	out  io.Writer
	opts []Option

	app *App
}

func (s *session) App() (*App, error) {
	if s.app != nil {
		return s.app, nil
	}
	cfg, err := config.Load(s.args, s.env)
	if err != nil {
		return nil, err
	}
	app, err := NewApp(cfg, s.in, s.out, s.opts...)
	if err != nil {
		return nil, err
	}
	s.app = app
	return app, nil
}

func (s *session) close() error {
	if s.app == nil {
		return nil
	}
	err := s.app.Close()
	s.app = nil
	return err
}

// Execute runs canvasctl with args (without the program name). env is
// typically os.LookupEnv.
func Execute(ctx context.Context, args []string, env config.LookupFunc, in io.Reader, out io.Writer, opts ...Option) error {
	s := &session{args: args, env: env, in: in, out: out, opts: opts}
	defer s.close()

	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetIn(in)
	root.SetOut(out)
	root.SetErr(out)
	return root.ExecuteContext(ctx)
}

func newRootCmd(s *session) *cobra.Command {
	root := &cobra.Command{
		Use:           "canvasctl",
		Short:         "Encrypted local-first career data store",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Declared for help and validation; values are read by config.Load.
	pf := root.PersistentFlags()
	pf.StringP("config", "c", "", "config file (JSON or YAML)")
	pf.String(config.FlagDB, "", "database file")
	pf.String(config.FlagPrefs, "", "preference store file")
	pf.String(config.FlagPersona, "", "active persona")
	pf.String(config.FlagEmail, "", "user email (identity for login)")
	pf.String(config.FlagLogLevel, "", "log level (debug, info, warn, error)")
	pf.String(config.FlagLogFormat, "", "log format (text or json)")
	pf.String(config.FlagLogFile, "", "rotated log file")
	pf.String(config.FlagMetricsFile, "", "prometheus textfile written on exit")
	pf.Bool(config.FlagAutoMigrate, false, "migrate legacy data before running the command")

	root.AddCommand(
		newInitCmd(s),
		newLoginCmd(s),
		newLogoutCmd(s),
		newWhoamiCmd(s),
		newExportCmd(s),
		newImportCmd(s),
		newVerifyBackupCmd(s),
		newConvertBackupCmd(s),
		newMigrateCmd(s),
		newUsageCmd(s),
		newCountsCmd(s),
		newResetCmd(s),
		newDeleteDBCmd(s),
		newSyncCmd(s),
		newShellCmd(s),
	)
	return root
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
