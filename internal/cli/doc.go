// Package cli implements canvasctl, the command-line front end of the
// encrypted career data store.
//
// Commands share one App per invocation. It opens the preference store and
// identity resolver up front and initializes the database on first use, so
// identity commands (login, logout, whoami) and file-only commands
// (verify-backup, convert-backup) never open it.
//
//	canvasctl init
//	canvasctl login --email me@example.com
//	canvasctl export -o backup.json --include-api-keys
//	canvasctl import -i backup.json --restore-api-keys
//	canvasctl migrate --status
//	canvasctl sync push
//	canvasctl shell
package cli
