package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/canvasvault/internal/backend"
	"github.com/dmitrijs2005/canvasvault/internal/models"
	"github.com/dmitrijs2005/canvasvault/internal/schema"
	"github.com/spf13/cobra"
)

// shellIface is the command surface the REPL dispatches to. *shell
// implements it; tests provide a stub.
type shellIface interface {
	List(ctx context.Context, collection string) error
	Get(ctx context.Context, collection, id string) error
	Delete(ctx context.Context, collection, id string) error
	Usage(ctx context.Context) error
	Counts(ctx context.Context) error
}

const shellHelp = "Available commands: list <collection>, get <collection> <id>, delete <collection> <id>, usage, counts, collections, exit"

// runREPL reads one command per line and dispatches it to sh until EOF or
// exit. Handler errors are printed and the loop continues.
func runREPL(ctx context.Context, sh shellIface, collections []string, scanner *bufio.Scanner, w io.Writer) {
	report := func(err error) {
		if err != nil {
			fmt.Fprintln(w, "error:", err)
		}
	}

	for {
		fmt.Fprint(w, "canvas> ")
		if !scanner.Scan() {
			fmt.Fprintln(w)
			return
		}
		parts := strings.Fields(scanner.Text())
		if len(parts) == 0 {
			continue
		}
		cmd, args := parts[0], parts[1:]

		switch cmd {
		case "help", "?":
			fmt.Fprintln(w, shellHelp)

		case "collections":
			fmt.Fprintln(w, strings.Join(collections, " "))

		case "l", "list":
			if len(args) != 1 {
				fmt.Fprintln(w, "Usage: list <collection>")
				continue
			}
			report(sh.List(ctx, args[0]))

		case "get":
			if len(args) != 2 {
				fmt.Fprintln(w, "Usage: get <collection> <id>")
				continue
			}
			report(sh.Get(ctx, args[0], args[1]))

		case "delete", "rm":
			if len(args) != 2 {
				fmt.Fprintln(w, "Usage: delete <collection> <id>")
				continue
			}
			report(sh.Delete(ctx, args[0], args[1]))

		case "usage":
			report(sh.Usage(ctx))

		case "counts":
			report(sh.Counts(ctx))

		case "exit", "quit":
			fmt.Fprintln(w, "Bye!")
			return

		default:
			fmt.Fprintln(w, "Unknown command:", cmd)
		}
	}
}

// shell runs REPL commands against an initialized App.
type shell struct {
	app *App
	w   io.Writer
}

func (s *shell) List(ctx context.Context, collection string) error {
	recs, err := s.app.svc.GetAll(ctx, collection, backend.QueryOptions{})
	if err != nil {
		return err
	}
	pk := models.FieldID
	if c, ok := schema.Lookup(collection); ok {
		pk = c.PrimaryKey
	}
	for _, r := range recs {
		key, _ := r.Key(pk)
		fmt.Fprintf(s.w, "%s\t%s\n", key, summary(r))
	}
	fmt.Fprintf(s.w, "(%d records)\n", len(recs))
	return nil
}

// summary picks the first human-readable field of r.
func summary(r models.Record) string {
	for _, f := range []string{"name", "title", "organizationName", "company", "email", "type"} {
		if v := r.String(f); v != "" {
			return v
		}
	}
	return ""
}

func (s *shell) Get(ctx context.Context, collection, id string) error {
	rec, err := s.app.svc.Get(ctx, collection, id)
	if err != nil {
		return err
	}
	if rec == nil {
		fmt.Fprintln(s.w, "not found")
		return nil
	}
	return printJSON(s.w, rec)
}

func (s *shell) Delete(ctx context.Context, collection, id string) error {
	if err := s.app.svc.Delete(ctx, collection, id); err != nil {
		return err
	}
	fmt.Fprintln(s.w, "deleted")
	return nil
}

func (s *shell) Usage(ctx context.Context) error {
	u, err := s.app.svc.Usage(ctx)
	if err != nil {
		return err
	}
	return printJSON(s.w, u)
}

func (s *shell) Counts(ctx context.Context) error {
	counts, err := s.app.svc.Counts(ctx, s.app.cfg.Persona)
	if err != nil {
		return err
	}
	return printJSON(s.w, counts)
}

func newShellCmd(s *session) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Browse collections interactively",
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
			w := cmd.OutOrStdout()
			fmt.Fprintln(w, "canvasvault shell (type 'help' for commands)")
			runREPL(cmd.Context(), &shell{app: app, w: w}, svc.Collections(), bufio.NewScanner(app.in), w)
			return nil
		},
	}
}
