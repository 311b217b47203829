package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/franksops/filestore/config"
	"github.com/franksops/filestore/provider"
	"github.com/franksops/filestore/serializer"
	"github.com/franksops/filestore/storage"
)

var flagConfig *cli.StringFlag = &cli.StringFlag{
	Name:    "config",
	Aliases: []string{"c"},
	Usage:   "Path to a YAML config file",
	EnvVars: []string{"FILESTORE_CONFIG"},
}
var flagBackend *cli.StringFlag = &cli.StringFlag{
	Name:    "backend",
	Aliases: []string{"b"},
	Usage:   "Backend location (mem://, file:///dir, bolt:///file.db, s3://bucket/prefix, gs://bucket/prefix, azblob://container/prefix)",
}
var flagLogDebug *cli.BoolFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Usage: "Log at debug level",
}
var flagLogJSON *cli.BoolFlag = &cli.BoolFlag{
	Name:  "log-json",
	Usage: "Log in JSON format",
}
var flagJSON *cli.BoolFlag = &cli.BoolFlag{
	Name:  "json",
	Usage: "Print entries as JSON",
}

// env is the state shared by every command once the config is loaded.
type env struct {
	cfg      *config.Config
	log      *slog.Logger
	registry *prometheus.Registry
}

func main() {
	e := &env{registry: prometheus.NewRegistry()}

	app := &cli.App{
		Name:  "filestore",
		Usage: "path-addressed file operations against interchangeable storage backends",
		Flags: []cli.Flag{
			flagConfig,
			flagBackend,
			flagLogDebug,
			flagLogJSON,
		},
		Before: func(cCtx *cli.Context) error {
			cfg, err := config.Load(cCtx.String(flagConfig.Name))
			if err != nil {
				return err
			}
			if b := cCtx.String(flagBackend.Name); b != "" {
				cfg.Backend = b
			}
			if cCtx.Bool(flagLogDebug.Name) {
				cfg.Log.Level = "debug"
			}
			if cCtx.Bool(flagLogJSON.Name) {
				cfg.Log.Format = "json"
			}
			e.cfg = cfg
			e.log = config.NewLogger(cfg.Log, os.Stderr)
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List entries matching a pattern",
				ArgsUsage: "[pattern]",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "limit", Usage: "Maximum number of entries (0 = all)"},
					&cli.IntFlag{Name: "skip", Usage: "Number of matching entries to skip"},
					flagJSON,
				},
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					pattern := provider.AllFiles
					if cCtx.NArg() > 0 {
						pattern = provider.Match(cCtx.Args().First())
					}
					specs, err := s.GetFileList(ctx, provider.ListOptions{
						Pattern: pattern,
						Limit:   cCtx.Int("limit"),
						Skip:    cCtx.Int("skip"),
					})
					if err != nil {
						return err
					}
					if cCtx.Bool(flagJSON.Name) {
						return printJSON(cCtx.App.Writer, specs)
					}
					return printSpecs(cCtx.App.Writer, specs)
				}),
			},
			{
				Name:      "stat",
				Usage:     "Show the metadata of one entry",
				ArgsUsage: "<path>",
				Flags:     []cli.Flag{flagJSON},
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					path, err := arg(cCtx, 0, "path")
					if err != nil {
						return err
					}
					spec, err := s.GetFileInfo(ctx, path)
					if err != nil {
						return err
					}
					if spec == nil {
						return cli.Exit(fmt.Sprintf("%s: not found", path), 1)
					}
					if cCtx.Bool(flagJSON.Name) {
						return printJSON(cCtx.App.Writer, spec)
					}
					fmt.Fprintln(cCtx.App.Writer, spec)
					return nil
				}),
			},
			{
				Name:      "cat",
				Usage:     "Write the contents of an entry to stdout",
				ArgsUsage: "<path>",
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					path, err := arg(cCtx, 0, "path")
					if err != nil {
						return err
					}
					data, err := s.GetFileContentsAsBytes(ctx, path)
					if err != nil {
						return err
					}
					if data == nil {
						return cli.Exit(fmt.Sprintf("%s: not found", path), 1)
					}
					_, err = cCtx.App.Writer.Write(data)
					return err
				}),
			},
			{
				Name:      "put",
				Usage:     "Store a local file, or stdin when the file is - or omitted",
				ArgsUsage: "<path> [local-file]",
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					path, err := arg(cCtx, 0, "path")
					if err != nil {
						return err
					}
					var r io.Reader = os.Stdin
					if local := cCtx.Args().Get(1); local != "" && local != "-" {
						f, err := os.Open(local)
						if err != nil {
							return err
						}
						defer f.Close()
						r = f
					}
					_, err = s.SaveFile(ctx, path, r)
					return err
				}),
			},
			{
				Name:      "cp",
				Usage:     "Copy an entry",
				ArgsUsage: "<path> <target-path>",
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					return twoPaths(ctx, cCtx, s.CopyFile)
				}),
			},
			{
				Name:      "mv",
				Usage:     "Rename an entry, replacing the target",
				ArgsUsage: "<path> <new-path>",
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					return twoPaths(ctx, cCtx, s.RenameFile)
				}),
			},
			{
				Name:      "rm",
				Usage:     "Delete entries",
				ArgsUsage: "<path>...",
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					if cCtx.NArg() == 0 {
						return cli.Exit("at least one path is required", 2)
					}
					missing := 0
					for _, path := range cCtx.Args().Slice() {
						ok, err := s.DeleteFile(ctx, path)
						if err != nil {
							return err
						}
						if !ok {
							missing++
							fmt.Fprintf(cCtx.App.ErrWriter, "%s: not found\n", path)
						}
					}
					if missing > 0 {
						return cli.Exit("", 1)
					}
					return nil
				}),
			},
			{
				Name:      "rm-all",
				Usage:     "Delete every entry matching a pattern",
				ArgsUsage: "<pattern>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "all", Usage: "Delete every entry of the backend"},
				},
				Action: e.withStorage(func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error {
					pattern := provider.AllFiles
					switch {
					case cCtx.NArg() > 0:
						pattern = provider.Match(cCtx.Args().First())
					case !cCtx.Bool("all"):
						return cli.Exit("a pattern or --all is required", 2)
					}
					return s.DeleteFiles(ctx, pattern)
				}),
			},
			mirrorCommand(e),
		},
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "filestore:", err)
		stop()
		os.Exit(exitCode(err))
	}
}

// withStorage opens the configured backend around a command action.
func (e *env) withStorage(fn func(ctx context.Context, cCtx *cli.Context, s *storage.Storage) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		ctx := cCtx.Context
		s, err := e.cfg.OpenStorage(ctx, e.log, e.registry)
		if err != nil {
			return err
		}
		defer func() {
			if err := s.Close(); err != nil {
				e.log.Warn("Failed to close backend", "err", err)
			}
		}()
		return fn(ctx, cCtx, s)
	}
}

func arg(cCtx *cli.Context, i int, name string) (string, error) {
	if v := cCtx.Args().Get(i); v != "" {
		return v, nil
	}
	return "", cli.Exit(fmt.Sprintf("missing argument <%s>", name), 2)
}

func twoPaths(ctx context.Context, cCtx *cli.Context, op func(context.Context, string, string) (bool, error)) error {
	src, err := arg(cCtx, 0, "path")
	if err != nil {
		return err
	}
	dst, err := arg(cCtx, 1, "target")
	if err != nil {
		return err
	}
	ok, err := op(ctx, src, dst)
	if err != nil {
		return err
	}
	if !ok {
		return cli.Exit(fmt.Sprintf("%s: not found", src), 1)
	}
	return nil
}

func printSpecs(w io.Writer, specs []provider.FileSpec) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, s := range specs {
		fmt.Fprintf(tw, "%d\t%s\t%s\n", s.Size, s.Modified.Format(time.RFC3339), s.Path)
	}
	return tw.Flush()
}

func printJSON(w io.Writer, v any) error {
	data, err := serializer.JSON{Indent: "  "}.Serialize(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// exitCode maps contract errors onto process exit codes.
func exitCode(err error) int {
	switch {
	case errors.Is(err, provider.ErrInvalidArgument):
		return 2
	case errors.Is(err, context.Canceled):
		return 130
	default:
		return 1
	}
}
