package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"draftcal/internal/api"
	"draftcal/internal/config"
	"draftcal/internal/google"
	"draftcal/internal/icloud"
	"draftcal/internal/ics"
	"draftcal/internal/live"
	"draftcal/internal/logging"
	"draftcal/internal/models"
	"draftcal/internal/publish"
	"draftcal/internal/store"

	"github.com/urfave/cli/v2"
	"golang.org/x/oauth2"
)

// env is what every command needs, built once in Before.
type env struct {
	cfg    config.Config
	logger *slog.Logger
	client *api.Client
	store  *store.Store
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		slog.Error("Application failed", "error", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	e := &env{}

	return &cli.App{
		Name:  "draftcal",
		Usage: "Manage draft events and publish validated ones to your calendars.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "user", Usage: "Act as this user id (defaults to DRAFTS_USER_ID)."},
			&cli.StringFlag{Name: "env-file", Value: ".env", Usage: "Load settings from this file if it exists."},
		},
		Before: func(c *cli.Context) error {
			return e.init(c)
		},
		Commands: []*cli.Command{
			listCommand(e),
			showCommand(e),
			createCommand(e),
			updateCommand(e),
			validateCommand(e),
			deleteCommand(e),
			exportCommand(e),
			publishCommand(e),
			authCommand(e),
			serveCommand(e),
		},
	}
}

func (e *env) init(c *cli.Context) error {
	cfg, err := config.Load(c.String("env-file"))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("user") {
		cfg.UserID = c.String("user")
	}
	e.cfg = cfg
	e.logger = logging.Setup(cfg.LogLevel)

	client, err := api.NewClient(e.logger, api.Config{
		BaseURL: cfg.APIURL,
		Token:   cfg.APIToken,
		Timeout: cfg.Timeout,
	})
	if err != nil {
		return fmt.Errorf("failed to create drafts client: %w", err)
	}
	e.client = client
	e.store = store.New(e.logger, client, store.Options{FanOutLimit: cfg.FanOutLimit})
	return nil
}

func listCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "list",
		Usage: "List the user's drafts.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "Print drafts as JSON."},
		},
		Action: func(c *cli.Context) error {
			e.store.FetchUserDrafts(c.Context, e.cfg.UserID)
			st := e.store.State()
			if st.Err != "" {
				return fmt.Errorf("failed to fetch drafts: %s", st.Err)
			}
			if c.Bool("json") {
				return printJSON(c.App.Writer, st.Drafts)
			}
			return printTable(c.App.Writer, st.Drafts)
		},
	}
}

func showCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "show",
		Usage:     "Show one draft.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			e.store.SelectDraft(c.Context, id)
			st := e.store.State()
			if st.Current == nil {
				return fmt.Errorf("failed to fetch draft %s: %s", id, st.Err)
			}
			return printJSON(c.App.Writer, st.Current)
		},
	}
}

func createCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "create",
		Usage: "Create a draft event.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title", Required: true},
			&cli.StringFlag{Name: "start", Required: true, Usage: "Start time (RFC3339)."},
			&cli.StringFlag{Name: "end", Required: true, Usage: "End time (RFC3339)."},
			&cli.StringFlag{Name: "location"},
			&cli.StringSliceFlag{Name: "attendee", Usage: "Attendee user id (repeatable)."},
			&cli.StringSliceFlag{Name: "tag", Usage: "Tag (repeatable)."},
		},
		Action: func(c *cli.Context) error {
			created, err := e.store.CreateDraft(c.Context, e.cfg.UserID, models.NewDraft{
				Title:     c.String("title"),
				StartTime: c.String("start"),
				EndTime:   c.String("end"),
				Location:  c.String("location"),
				Attendees: c.StringSlice("attendee"),
				Tags:      c.StringSlice("tag"),
			})
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, created)
		},
	}
}

func updateCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "update",
		Usage:     "Update fields of a draft.",
		ArgsUsage: "<id>",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "title"},
			&cli.StringFlag{Name: "start"},
			&cli.StringFlag{Name: "end"},
			&cli.StringFlag{Name: "location"},
			&cli.StringSliceFlag{Name: "attendee"},
			&cli.StringSliceFlag{Name: "tag"},
		},
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			patch := patchFromFlags(c)
			if patch.Empty() {
				return errors.New("nothing to update: set at least one field flag")
			}
			updated, err := e.store.UpdateDraft(c.Context, e.cfg.UserID, id, patch)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, updated)
		},
	}
}

func validateCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "validate",
		Usage:     "Mark a draft as validated.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			validated, err := e.store.ValidateDraft(c.Context, e.cfg.UserID, id)
			if err != nil {
				return err
			}
			return printJSON(c.App.Writer, validated)
		},
	}
}

func deleteCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:      "delete",
		Usage:     "Delete a draft.",
		ArgsUsage: "<id>",
		Action: func(c *cli.Context) error {
			id, err := requireID(c)
			if err != nil {
				return err
			}
			if err := e.store.DeleteDraft(c.Context, e.cfg.UserID, id); err != nil {
				return err
			}
			e.logger.Info("Draft deleted.", "id", id, "remaining", len(e.store.State().Drafts))
			return nil
		},
	}
}

func exportCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "export",
		Usage: "Write the user's drafts as an iCalendar file.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "Output file (default stdout)."},
			&cli.BoolFlag{Name: "validated-only", Usage: "Only export validated drafts."},
		},
		Action: func(c *cli.Context) error {
			e.store.FetchUserDrafts(c.Context, e.cfg.UserID)
			st := e.store.State()
			if st.Err != "" {
				return fmt.Errorf("failed to fetch drafts: %s", st.Err)
			}

			drafts := st.Drafts
			if c.Bool("validated-only") {
				drafts = nil
				for _, d := range st.Drafts {
					if d.IsValidated() {
						drafts = append(drafts, d)
					}
				}
			}

			cal, skipped := ics.Calendar(drafts, time.Now())
			for _, s := range skipped {
				e.logger.Warn("Skipping draft with invalid times", "id", s.ID, "error", s.Err)
			}

			w := c.App.Writer
			if path := c.String("output"); path != "" {
				f, err := os.Create(path)
				if err != nil {
					return fmt.Errorf("failed to create %s: %w", path, err)
				}
				defer f.Close()
				w = f
			}
			if err := ics.Encode(w, cal); err != nil {
				return err
			}
			e.logger.Info("Exported drafts.", "count", len(cal.Children), "skipped", len(skipped))
			return nil
		},
	}
}

func publishCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "publish",
		Usage: "Publish validated drafts to the configured calendars.",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "dry-run", Usage: "Log what would be published without making changes."},
			&cli.IntFlag{Name: "watch", Value: 300, Usage: "Publish every N seconds instead of once."},
		},
		Action: func(c *cli.Context) error {
			var every time.Duration
			if c.IsSet("watch") {
				var err error
				if every, err = seconds(c, "watch"); err != nil {
					return err
				}
			}
			if c.Bool("dry-run") {
				e.logger.Info("Performing a dry run. No changes will be made.")
			}

			targets, err := buildTargets(c.Context, e)
			if err != nil {
				return err
			}
			if len(targets) == 0 {
				return errors.New("no publish targets configured: set GOOGLE_CALENDAR_ID or the ICLOUD_* variables")
			}

			p, err := publish.NewPublisher(e.logger, e.store, e.client, targets, e.cfg.PublishStateFile, c.Bool("dry-run"))
			if err != nil {
				return fmt.Errorf("failed to create publisher: %w", err)
			}

			// --watch runs until interrupted
			if c.IsSet("watch") {
				ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
				defer stop()

				e.logger.Info("Starting watcher.", "interval", every)
				ticker := time.NewTicker(every)
				defer ticker.Stop()
				for {
					if err := p.Sync(ctx, e.cfg.UserID); err != nil {
						e.logger.Error("Publish cycle failed", "error", err)
					}
					select {
					case <-ticker.C:
					case <-ctx.Done():
						return nil
					}
				}
			}

			e.logger.Info("Running a single publish cycle.")
			if err := p.Sync(c.Context, e.cfg.UserID); err != nil {
				return fmt.Errorf("publish cycle failed: %w", err)
			}
			return nil
		},
	}
}

func buildTargets(ctx context.Context, e *env) ([]publish.Target, error) {
	var targets []publish.Target

	if e.cfg.GoogleEnabled() {
		account := e.cfg.GoogleAccount
		if account == "" {
			accounts, err := google.GetTokenAccounts(".")
			if err != nil || len(accounts) == 0 {
				return nil, fmt.Errorf("no google accounts found. Run the 'auth' command first")
			}
			account = accounts[0]
		}
		gClient, err := google.NewClient(ctx, e.logger, e.cfg.GoogleClientID, e.cfg.GoogleClientSecret, account, e.cfg.GoogleCalendarID)
		if err != nil {
			return nil, fmt.Errorf("failed to create google client for account %s: %w", account, err)
		}
		targets = append(targets, gClient)
	}

	if e.cfg.ICloudEnabled() {
		iClient, err := icloud.NewClient(ctx, e.logger, e.cfg.ICloudUsername, e.cfg.ICloudPassword, e.cfg.ICloudCalendarName)
		if err != nil {
			return nil, fmt.Errorf("failed to create icloud client: %w", err)
		}
		targets = append(targets, iClient)
	}

	e.logger.Info("Initialized publish targets.", "count", len(targets))
	return targets, nil
}

func authCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "auth",
		Usage: "Authenticate with a Google account to publish into its calendars.",
		Action: func(c *cli.Context) error {
			e.logger.Info("Starting Google authentication flow.")

			oauthConfig, err := google.GetOAuthConfigForAuthFlow(e.cfg.GoogleClientID, e.cfg.GoogleClientSecret)
			if err != nil {
				return fmt.Errorf("failed to get google oauth config: %w", err)
			}

			authURL := oauthConfig.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
			fmt.Fprintf(c.App.Writer, "Go to the following link in your browser then type the "+
				"authorization code: \n%v\n", authURL)

			fmt.Fprint(c.App.Writer, "Enter Authorization Code: ")
			reader := bufio.NewReader(os.Stdin)
			authCode, _ := reader.ReadString('\n')
			authCode = strings.TrimSpace(authCode)

			token, err := google.TokenFromWeb(c.Context, oauthConfig, authCode)
			if err != nil {
				return fmt.Errorf("unable to retrieve token from web: %w", err)
			}

			fmt.Fprint(c.App.Writer, "Enter a name for this account (e.g., 'personal', 'work'): ")
			accountName, _ := reader.ReadString('\n')
			accountName = strings.TrimSpace(accountName)
			tokenFile := "token-" + accountName + ".json"

			if err := google.SaveToken(tokenFile, token); err != nil {
				return fmt.Errorf("failed to save token: %w", err)
			}
			e.logger.Info("Successfully authenticated and saved token.", "file", tokenFile)

			gClient, err := google.NewClient(c.Context, e.logger, e.cfg.GoogleClientID, e.cfg.GoogleClientSecret, accountName, "")
			if err != nil {
				return fmt.Errorf("failed to create google client: %w", err)
			}
			ids, err := gClient.DiscoverGoogleCalendars(c.Context)
			if err != nil {
				e.logger.Warn("Could not list calendars", "error", err)
				return nil
			}
			fmt.Fprintln(c.App.Writer, "Writable calendars (use one as GOOGLE_CALENDAR_ID):")
			for _, id := range ids {
				fmt.Fprintln(c.App.Writer, "  "+id)
			}
			return nil
		},
	}
}

func serveCommand(e *env) *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the draft store to UIs over a websocket feed.",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (defaults to DRAFTS_LISTEN_ADDR)."},
			&cli.IntFlag{Name: "refresh", Value: 60, Usage: "Refresh drafts every N seconds."},
		},
		Action: func(c *cli.Context) error {
			every, err := seconds(c, "refresh")
			if err != nil {
				return err
			}
			addr := e.cfg.ListenAddr
			if c.IsSet("addr") {
				addr = c.String("addr")
			}

			ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer stop()

			hub := live.NewHub(e.logger)
			hub.Attach(e.store)

			httpServer := &http.Server{
				Addr:        addr,
				Handler:     live.Handler(hub, e.store),
				ReadTimeout: 5 * time.Second,
				IdleTimeout: 120 * time.Second,
			}

			go func() {
				e.logger.Info("Serving draft feed.", "addr", addr)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					e.logger.Error("Server error", "error", err)
					stop()
				}
			}()

			ticker := time.NewTicker(every)
			defer ticker.Stop()
			for {
				e.store.FetchUserDrafts(ctx, e.cfg.UserID)
				select {
				case <-ticker.C:
				case <-ctx.Done():
					e.logger.Info("Shutting down.")
					shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					return httpServer.Shutdown(shutdownCtx)
				}
			}
		},
	}
}

func requireID(c *cli.Context) (string, error) {
	id := c.Args().First()
	if id == "" {
		return "", fmt.Errorf("%s: missing draft id", c.Command.Name)
	}
	return id, nil
}

// patchFromFlags includes only the flags the user actually passed.
func patchFromFlags(c *cli.Context) models.DraftPatch {
	var p models.DraftPatch
	str := func(name string) *string {
		if !c.IsSet(name) {
			return nil
		}
		v := c.String(name)
		return &v
	}
	list := func(name string) *[]string {
		if !c.IsSet(name) {
			return nil
		}
		v := c.StringSlice(name)
		return &v
	}
	p.Title = str("title")
	p.StartTime = str("start")
	p.EndTime = str("end")
	p.Location = str("location")
	p.Attendees = list("attendee")
	p.Tags = list("tag")
	return p
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printTable(w io.Writer, drafts []models.DraftEvent) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tSTART\tTITLE\tLOCATION")
	for _, d := range drafts {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.ID, d.Status, d.StartTime, d.Title, d.Location)
	}
	return tw.Flush()
}

// seconds reads a positive interval in seconds from the named flag.
func seconds(c *cli.Context, name string) (time.Duration, error) {
	n := c.Int(name)
	if n <= 0 {
		return 0, fmt.Errorf("--%s must be a positive number of seconds, got %d", name, n)
	}
	return time.Duration(n) * time.Second, nil
}
