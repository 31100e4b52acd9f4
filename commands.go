package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/novusedge/envato-oauth/auth"
	"github.com/novusedge/envato-oauth/callback"
	"github.com/novusedge/envato-oauth/market"
	"github.com/novusedge/envato-oauth/tui"
)

// Execute runs the root command with the given context and arguments.
func Execute(ctx context.Context, args []string) error {
	return newRootCommand().Run(ctx, args)
}

func newRootCommand() *cli.Command {
	return &cli.Command{
		Name:  "envato-oauth",
		Usage: "Envato marketplace OAuth login and token helper",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "path to TOML config file",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "log level (debug|info|warn|error)",
				Value: slog.LevelInfo.String(),
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "log format (text|json)",
				Value: string(DefaultConfigLogFormat),
			},
		},
		Commands: []*cli.Command{
			loginCommand(),
			statusCommand(),
			tokenCommand(),
			logoutCommand(),
			apiCommand(),
		},
	}
}

// setup loads configuration, installs the default logger and creates the
// token manager.
func setup(cmd *cli.Command, tuiActive bool) (*Config, *auth.Manager, error) {
	cfg, err := loadConfig(cmd.String("config"), cmd, os.Environ)
	if err != nil {
		return nil, nil, err
	}

	logger := setupLogging(cmd.Root().ErrWriter, cfg.LogLevel, cfg.LogFormat, tuiActive)

	m, err := auth.NewManager(cfg.ManagerConfig(), auth.WithLogger(logger))
	if err != nil {
		return nil, nil, err
	}
	return cfg, m, nil
}

func loginCommand() *cli.Command {
	return &cli.Command{
		Name:  "login",
		Usage: "authenticate in the browser and store tokens",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "force",
				Usage: "re-authenticate without asking when already logged in",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "how long to wait for the browser redirect",
				Value: DefaultConfigCallbackTimeout,
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "callback listener port",
				Value: callback.DefaultPort,
			},
			&cli.BoolFlag{
				Name:  "no-browser",
				Usage: "print the authorization URL instead of opening a browser",
			},
		},
		Action: loginAction,
	}
}

func loginAction(ctx context.Context, cmd *cli.Command) error {
	errw := cmd.Root().ErrWriter
	useTUI := isTTY(errw)

	cfg, m, err := setup(cmd, useTUI)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if m.IsAuthenticated(ctx) {
		proceed, err := confirmReauthentication(cmd, m)
		if err != nil {
			return err
		}
		if !proceed {
			return nil
		}
	}

	opts := loginOptions{
		Port:      cfg.OAuthPort,
		Timeout:   cfg.CallbackTimeout,
		NoBrowser: cmd.Bool("no-browser"),
	}

	err = runWithDisplay(errw, useTUI, func(d tui.Displayer) error {
		_, err := authenticateWithBrowser(ctx, m, opts, d)
		return err
	})
	if err != nil {
		return err
	}

	fmt.Fprintln(errw, "\nAll done! You can now use the Envato API.")
	return nil
}

// confirmReauthentication asks whether to replace the current tokens and
// clears them when the user agrees. --force skips the question.
func confirmReauthentication(cmd *cli.Command, m *auth.Manager) (bool, error) {
	errw := cmd.Root().ErrWriter

	if !cmd.Bool("force") {
		fmt.Fprintln(errw, "You are already authenticated!")
		if rec := m.Record(); rec != nil {
			fmt.Fprintf(errw, "Current token: %s\n", auth.Preview(rec.AccessToken, 20))
		}

		fmt.Fprint(errw, "\nDo you want to authenticate again? (y/N): ")
		if !readYes(cmd.Root().Reader) {
			fmt.Fprintln(errw, "Keeping existing authentication.")
			return false, nil
		}
	}

	fmt.Fprintln(errw, "Clearing existing authentication...")
	if err := m.Revoke(); err != nil {
		return false, fmt.Errorf("failed to clear tokens: %w", err)
	}
	return true, nil
}

// readYes reads one line from r and reports whether it is "y" or "yes".
// EOF counts as no.
func readYes(r io.Reader) bool {
	if r == nil {
		return false
	}
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && line == "" {
		return false
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true
	default:
		return false
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "show authentication status",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:  "json",
				Usage: "print status as JSON",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, m, err := setup(cmd, false)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			info := m.Info(ctx)
			w := cmd.Root().Writer

			if cmd.Bool("json") {
				return writeIndentedJSON(w, info)
			}
			printInfo(w, info, time.Now())
			return nil
		},
	}
}

func printInfo(w io.Writer, info auth.Info, now time.Time) {
	authenticated := "no"
	if info.Authenticated {
		authenticated = "yes"
	}
	fmt.Fprintf(w, "Authenticated: %s\n", authenticated)
	fmt.Fprintf(w, "Token file:    %s\n", info.TokenFile)
	fmt.Fprintf(w, "Client ID:     %s\n", info.ClientID)
	if info.TokenPreview != "" {
		fmt.Fprintf(w, "Access token:  %s\n", info.TokenPreview)
	}
	if info.ExpiresAt != nil {
		fmt.Fprintf(w, "Expires at:    %s (in %s)\n",
			info.ExpiresAt.Local().Format(time.RFC3339),
			max(info.ExpiresAt.Sub(now), 0).Round(time.Second))
	}
	refresh := "absent"
	if info.HasRefreshToken {
		refresh = "present"
	}
	fmt.Fprintf(w, "Refresh token: %s\n", refresh)
}

func tokenCommand() *cli.Command {
	return &cli.Command{
		Name:  "token",
		Usage: "print a valid access token, refreshing it if needed",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, m, err := setup(cmd, false)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			token, ok := m.ValidToken(ctx)
			if !ok {
				return fmt.Errorf("%w, run: envato-oauth login", auth.ErrNotAuthenticated)
			}
			fmt.Fprintln(cmd.Root().Writer, token)
			return nil
		},
	}
}

func logoutCommand() *cli.Command {
	return &cli.Command{
		Name:  "logout",
		Usage: "forget the stored tokens",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			_, m, err := setup(cmd, false)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			if err := m.Revoke(); err != nil {
				return fmt.Errorf("failed to clear tokens: %w", err)
			}
			fmt.Fprintf(cmd.Root().ErrWriter, "Authentication cleared, removed %s\n", m.TokenFile())
			return nil
		},
	}
}

func siteFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "site",
		Usage: "marketplace site (themeforest, codecanyon, ...)",
		Value: market.DefaultSite,
	}
}

func apiCommand() *cli.Command {
	return &cli.Command{
		Name:  "api",
		Usage: "call the Envato marketplace API with the stored tokens",
		Commands: []*cli.Command{
			{
				Name:  "username",
				Usage: "print the account username",
				Action: apiAction(func(ctx context.Context, c *market.Client, _ *cli.Command) (any, error) {
					return c.Username(ctx)
				}),
			},
			{
				Name:  "email",
				Usage: "print the account email",
				Action: apiAction(func(ctx context.Context, c *market.Client, _ *cli.Command) (any, error) {
					return c.Email(ctx)
				}),
			},
			{
				Name:  "account",
				Usage: "print the private account details",
				Action: apiAction(func(ctx context.Context, c *market.Client, _ *cli.Command) (any, error) {
					return c.Account(ctx)
				}),
			},
			{
				Name:  "items",
				Usage: "list your items on a site",
				Flags: []cli.Flag{siteFlag()},
				Action: apiAction(func(ctx context.Context, c *market.Client, cmd *cli.Command) (any, error) {
					return c.UserItemsBySite(ctx, cmd.String("site"))
				}),
			},
			{
				Name:  "collections",
				Usage: "list your collections",
				Action: apiAction(func(ctx context.Context, c *market.Client, _ *cli.Command) (any, error) {
					return c.Collections(ctx)
				}),
			},
			{
				Name:      "item",
				Usage:     "show one catalog item",
				ArgsUsage: "ID",
				Action: apiAction(func(ctx context.Context, c *market.Client, cmd *cli.Command) (any, error) {
					if cmd.Args().Len() != 1 {
						return nil, errors.New("expected exactly one item ID")
					}
					return c.Item(ctx, cmd.Args().First())
				}),
			},
			{
				Name:      "search",
				Usage:     "search the catalog",
				ArgsUsage: "TERM",
				Flags: []cli.Flag{
					siteFlag(),
					&cli.StringFlag{Name: "category", Usage: "restrict to a category"},
				},
				Action: apiAction(func(ctx context.Context, c *market.Client, cmd *cli.Command) (any, error) {
					if cmd.Args().Len() == 0 {
						return nil, errors.New("expected a search term")
					}
					term := strings.Join(cmd.Args().Slice(), " ")
					return c.Search(ctx, term, cmd.String("site"), cmd.String("category"))
				}),
			},
			{
				Name:  "popular",
				Usage: "list best-selling items on a site",
				Flags: []cli.Flag{siteFlag()},
				Action: apiAction(func(ctx context.Context, c *market.Client, cmd *cli.Command) (any, error) {
					return c.Popular(ctx, cmd.String("site"))
				}),
			},
		},
	}
}

type apiCall func(ctx context.Context, c *market.Client, cmd *cli.Command) (any, error)

// apiAction wraps a marketplace call with config loading, an authentication
// check and JSON output.
func apiAction(call apiCall) cli.ActionFunc {
	return func(ctx context.Context, cmd *cli.Command) error {
		cfg, m, err := setup(cmd, false)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if !m.IsAuthenticated(ctx) {
			return fmt.Errorf("%w, run: envato-oauth login", auth.ErrNotAuthenticated)
		}

		client, err := market.New(m,
			market.WithBaseURL(cfg.APIBaseURL),
			market.WithLogger(slog.Default()),
		)
		if err != nil {
			return err
		}

		result, err := call(ctx, client, cmd)
		if err != nil {
			var apiErr *market.APIError
			if errors.As(err, &apiErr) && apiErr.Suggestion != "" {
				fmt.Fprintf(cmd.Root().ErrWriter, "Hint: %s\n", apiErr.Suggestion)
			}
			return err
		}

		w := cmd.Root().Writer
		if s, ok := result.(string); ok {
			fmt.Fprintln(w, s)
			return nil
		}
		return writeIndentedJSON(w, result)
	}
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
