package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
	"tuy-site/config"
	"tuy-site/devgate"
	"tuy-site/feedview"
	"tuy-site/poll"
	"tuy-site/search"
	"tuy-site/server"

	"github.com/spf13/cobra"
)

// Version and Commit are set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "none"
)

var errEmptyPassword = errors.New("password must not be empty")

// overrides holds flag values that take precedence over the environment.
type overrides struct {
	backend string
	port    string
}

func (o overrides) load() (config.Config, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	if o.backend == "" && o.port == "" {
		return cfg, nil
	}
	if o.backend != "" {
		cfg.Backend = strings.ToLower(o.backend)
	}
	if o.port != "" {
		cfg.Port = o.port
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

func newRootCmd() *cobra.Command {
	var flags overrides
	var warmEvery time.Duration

	serve := func(cmd *cobra.Command, _ []string) error {
		cfg, err := flags.load()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := newApp(ctx, cfg, cmd.ErrOrStderr())
		if err != nil {
			return err
		}
		defer a.close()
		return a.serve(ctx, warmEvery)
	}

	root := &cobra.Command{
		Use:           "tuy-site",
		Short:         "Serve the Municipality of Tuy website",
		Long:          "tuy-site serves the municipality's website with the latest announcements from its Facebook page.",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          serve,
	}
	root.PersistentFlags().StringVar(&flags.backend, "backend", "", "cache backend: memory, local, sqlite, gcs (overrides CACHE_BACKEND)")
	root.PersistentFlags().StringVar(&flags.port, "port", "", "HTTP port (overrides PORT)")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE:  serve,
	}
	for _, c := range []*cobra.Command{root, serveCmd} {
		c.Flags().DurationVar(&warmEvery, "warm-every", 0, "refresh the post cache in the background at this period (0 disables)")
	}

	root.AddCommand(
		serveCmd,
		newFetchCmd(&flags),
		newClearCacheCmd(&flags),
		newHashPasswordCmd(),
		newVersionCmd(),
	)
	return root
}

func newFetchCmd(flags *overrides) *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch the latest posts through the cache and print them as JSON",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			posts, err := a.fetcher.GetPosts(cmd.Context(), force)
			if err != nil {
				return fmt.Errorf("fetch posts: %w", err)
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(posts)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "bypass the cache")
	return cmd
}

func newClearCacheCmd(flags *overrides) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-cache",
		Short: "Remove the cached posts",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := flags.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer a.close()

			a.fetcher.ClearCache(cmd.Context())
			fmt.Fprintln(cmd.OutOrStdout(), "Cache cleared")
			return nil
		},
	}
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password [password]",
		Short: "Print a bcrypt hash for DEV_PASSWORD_HASH",
		Long:  "hash-password prints a bcrypt hash for DEV_PASSWORD_HASH. Without an argument the password is read from the first line of stdin.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var password string
			if len(args) == 1 {
				password = args[0]
			} else {
				var err error
				if password, err = readLine(cmd.InOrStdin()); err != nil {
					return err
				}
			}
			if password == "" {
				return errEmptyPassword
			}
			hash, err := devgate.HashPassword(password)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}

func readLine(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)
	if sc.Scan() {
		return strings.TrimRight(sc.Text(), "\r"), nil
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return "", nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "tuy-site %s (%s)\n", Version, Commit)
		},
	}
}

// serve runs the HTTP server until ctx is cancelled.
func (a *app) serve(ctx context.Context, warmEvery time.Duration) error {
	var gate *devgate.Gate
	if a.cfg.DevGateEnabled() {
		var err error
		gate, err = devgate.New(a.cfg.DevPasswordHash, a.cfg.DevSessionSecret, !a.cfg.CookieInsecure, a.logger)
		if err != nil {
			return fmt.Errorf("dev gate: %w", err)
		}
	} else {
		a.logger.Info("DEV_PASSWORD_HASH not set, developer preview disabled")
	}
	if !a.cfg.HasCredentials() {
		a.logger.Warn("Facebook credentials not set, serving fallback announcements")
	}

	warmer := poll.New(a.fetcher, a.cfg.CacheTTL, a.logger)
	if warmEvery > 0 {
		go warmer.Loop(ctx, warmEvery)
	}

	srv := server.New(&server.Config{
		Feed:   feedview.New(a.fetcher, nil, a.logger),
		Cache:  a.fetcher,
		Warmer: warmer,
		Search: search.Default(),
		Gate:   gate,
		Logger: a.logger,
	})
	return srv.ListenAndServe(ctx, a.cfg.Port)
}
