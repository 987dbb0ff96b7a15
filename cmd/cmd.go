// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func (r *Runner) register() []*cli.Command {
	commands := []*cli.Command{}
	for _, fn := range [](func(*Runner) *cli.Command){
		setupCommand, sessionCommand, libraryCommand, matchCommand, syncCommand, statusCommand,
	} {
		commands = append(commands, fn(r))
	}

	return commands
}

// setupCommand handles setup operations for the database.
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Setup and configuration commands",
		Commands: []*cli.Command{
			{
				Name:  "database",
				Usage: "Create config if missing, initialize database and run migrations",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "config",
						Aliases: []string{"c"},
						Usage:   "Path to configuration file",
						Value:   "config.toml",
					},
					&cli.BoolFlag{
						Name:  "rollback",
						Usage: "Roll back the most recent migration instead of applying pending ones",
					},
				},
				Action: r.SetupDatabase,
			},
		},
	}
}

// sessionCommand manages the harvested Amazon browser session.
func sessionCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "session",
		Usage: "Manage the Amazon browser session",
		Commands: []*cli.Command{
			{
				Name:  "login",
				Usage: "Open the Manage Your Content page to sign in and copy a request as cURL",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-browser",
						Usage: "Print the URL instead of opening it",
					},
				},
				Action: r.SessionLogin,
			},
			{
				Name:  "import",
				Usage: "Store session cookies from a browser cURL command or a cookie header",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "curl",
						Usage: "cURL command from browser DevTools (Copy as cURL)",
					},
					&cli.StringFlag{
						Name:  "curl-file",
						Usage: "Path to .sh file containing cURL command",
					},
					&cli.StringFlag{
						Name:  "cookies",
						Usage: "Raw Cookie header value",
					},
					&cli.BoolFlag{
						Name:  "env",
						Usage: "Read the Cookie header from AMAZON_SESSION_COOKIES",
					},
					&cli.StringFlag{
						Name:  "csrf-token",
						Usage: "anti-csrftoken-a2z value, when not part of the cURL command",
					},
					&cli.BoolFlag{
						Name:  "enable",
						Usage: "Also switch on per-book sync",
					},
				},
				Action: r.SessionImport,
			},
			{
				Name:  "show",
				Usage: "Show cookie names, token presence and heartbeat health",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SessionShow,
			},
			{
				Name:   "enable",
				Usage:  "Switch on per-book sync",
				Action: r.SessionEnable,
			},
			{
				Name:   "disable",
				Usage:  "Switch off per-book sync",
				Action: r.SessionDisable,
			},
			{
				Name:   "clear",
				Usage:  "Delete the stored session and heartbeat health",
				Action: r.SessionClear,
			},
			{
				Name:  "heartbeat",
				Usage: "Refresh the session once, or on an interval with --watch",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "watch",
						Usage: "Keep running and refresh on every interval",
					},
					&cli.DurationFlag{
						Name:  "interval",
						Usage: "Refresh interval for --watch (default: heartbeat.interval_min)",
					},
				},
				Action: r.SessionHeartbeat,
			},
		},
	}
}

// libraryCommand handles remote library operations.
func libraryCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "library",
		Usage: "Amazon library operations",
		Commands: []*cli.Command{
			{
				Name:  "fetch",
				Usage: "Enumerate ebooks and personal documents on Amazon",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "output",
						Aliases: []string{"o"},
						Usage:   "Output file path (default: stdout)",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: json, yaml or csv",
						Value:   "json",
					},
				},
				Action: r.LibraryFetch,
			},
		},
	}
}

// matchCommand runs the matcher offline against a saved library dump.
func matchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "match",
		Usage: "Match a title and author against a saved library dump",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "title",
				Usage:    "Book title",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "author",
				Usage: "First author",
			},
			&cli.StringFlag{
				Name:     "library",
				Aliases:  []string{"l"},
				Usage:    "Path to a JSON dump from 'library fetch'",
				Required: true,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Match,
	}
}

// syncCommand reconciles the local library with Amazon.
func syncCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "sync",
		Usage: "Reconcile local books with the Amazon library",
		Commands: []*cli.Command{
			{
				Name:  "book",
				Usage: "Sync a single local book",
				Flags: []cli.Flag{
					&cli.IntFlag{
						Name:     "id",
						Usage:    "Calibre book id",
						Required: true,
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SyncBook,
			},
			{
				Name:  "all",
				Usage: "Sync every local book against one library fetch",
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SyncAll,
			},
			{
				Name:  "send",
				Usage: "Email books missing from Kindle to the eReader address",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "address",
						Usage: "eReader address (default: delivery.address)",
					},
					&cli.BoolFlag{
						Name:  "json",
						Usage: "Output raw JSON",
					},
				},
				Action: r.SyncSend,
			},
		},
	}
}

// statusCommand reports stored sync state.
func statusCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Show stored sync status",
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List per-book sync status",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "status",
						Usage: "Only show pending, confirmed, not_found or error",
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: table, json, yaml or csv",
						Value:   "table",
					},
				},
				Action: r.StatusList,
			},
			{
				Name:  "runs",
				Usage: "List recent bulk sync and send runs",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "kind",
						Usage: "Only show mass_sync or send_unsynced runs",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of runs to show",
						Value: 20,
					},
					&cli.StringFlag{
						Name:    "format",
						Aliases: []string{"f"},
						Usage:   "Output format: table, json, yaml or csv",
						Value:   "table",
					},
				},
				Action: r.StatusRuns,
			},
		},
	}
}
