// submodule cmd contains command definitions
package main

import "github.com/urfave/cli/v3"

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "Path to configuration file",
		Value:   defaultConfigPath,
	}
}

// credentialFlags override [credentials.mangadex] from the config file.
func credentialFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "username",
			Aliases: []string{"u"},
			Usage:   "MangaDex username",
			Sources: cli.EnvVars("MDX_USERNAME"),
		},
		&cli.StringFlag{
			Name:    "password",
			Aliases: []string{"p"},
			Usage:   "MangaDex password",
			Sources: cli.EnvVars("MDX_PASSWORD"),
		},
		&cli.StringFlag{
			Name:    "client-id",
			Usage:   "MangaDex personal API client id",
			Sources: cli.EnvVars("MDX_CLIENT_ID"),
		},
		&cli.StringFlag{
			Name:    "client-secret",
			Usage:   "MangaDex personal API client secret",
			Sources: cli.EnvVars("MDX_CLIENT_SECRET"),
		},
	}
}

func sessionFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "session",
		Aliases:  []string{"s"},
		Usage:    "Session id returned when the import was submitted",
		Required: true,
	}
}

// setupCommand handles first-run initialization
func setupCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "setup",
		Usage: "Initialize configuration and the job log database",
		Commands: []*cli.Command{
			{
				Name:   "config",
				Usage:  "Write a config.toml from the built-in template",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupConfig,
			},
			{
				Name:   "database",
				Usage:  "Create the job log database and run migrations",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupDatabase,
			},
			{
				Name:   "rollback",
				Usage:  "Revert the most recent job log migration",
				Flags:  []cli.Flag{configFlag()},
				Action: r.SetupRollback,
			},
		},
	}
}

// importCommand submits a list and streams progress as plain lines
func importCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "import",
		Usage: "Submit a manga list and follow its progress until it finishes",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "CSV or MyAnimeList XML export to import",
				Required: true,
			},
		}, credentialFlags()...),
		Action: r.Import,
	}
}

// watchCommand is import with the interactive view
func watchCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Submit a manga list and follow it in an interactive view",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "CSV or MyAnimeList XML export to import",
				Required: true,
			},
			&cli.StringFlag{
				Name:  "log-file",
				Usage: "Where to write logs while the view is open",
				Value: "./tmp/mdx-watch.log",
			},
		}, credentialFlags()...),
		Action: r.Watch,
	}
}

func queueCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "queue",
		Usage: "Show a session's position in the server queue",
		Flags: []cli.Flag{
			sessionFlag(),
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
		},
		Action: r.Queue,
	}
}

func cancelCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:   "cancel",
		Usage:  "Ask the server to drop or stop a session",
		Flags:  []cli.Flag{sessionFlag()},
		Action: r.Cancel,
	}
}

// serveCommand runs the development import server
func serveCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Run the development import server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "addr",
				Usage: "Listen address (defaults to [server] host and port)",
			},
			&cli.DurationFlag{
				Name:  "step-delay",
				Usage: "Pause between simulated follows (defaults to [server] step_delay)",
			},
			&cli.DurationFlag{
				Name:  "job-retention",
				Usage: "Prune finished jobs older than this (0 keeps everything)",
			},
			&cli.BoolFlag{
				Name:  "no-db",
				Usage: "Run without recording jobs",
			},
		},
		Action: r.Serve,
	}
}

func jobsCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "jobs",
		Usage: "List imports recorded by the development server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "status",
				Usage: "Only show jobs in this status (queued, running, complete, failed, cancelled)",
			},
			&cli.StringFlag{
				Name:  "username",
				Usage: "Only show jobs submitted by this user",
			},
			&cli.IntFlag{
				Name:  "limit",
				Usage: "Maximum number of jobs to show",
				Value: 20,
			},
			&cli.BoolFlag{
				Name:  "json",
				Usage: "Output raw JSON",
			},
			&cli.BoolFlag{
				Name:  "pretty",
				Usage: "Pretty-print output",
			},
		},
		Action: r.Jobs,
	}
}

func convertCommand(r *Runner) *cli.Command {
	return &cli.Command{
		Name:  "convert",
		Usage: "Convert a MyAnimeList XML export to the CSV import format",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "CSV or MyAnimeList XML export to read",
				Required: true,
			},
			&cli.StringFlag{
				Name:    "output",
				Aliases: []string{"o"},
				Usage:   "Output file path (defaults to stdout)",
			},
		},
		Action: r.Convert,
	}
}
