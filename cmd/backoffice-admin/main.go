package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/target/congress-backoffice/config"
	"github.com/target/congress-backoffice/internal/bootstrap"
	domainauth "github.com/target/congress-backoffice/internal/domain/auth"
	"github.com/target/congress-backoffice/internal/ports"
)

// passwordEnv lets scripts supply the password without a prompt.
const passwordEnv = "BACKOFFICE_PASSWORD"

const defaultWaitTimeout = 30 * time.Second

var (
	errUsage       = errors.New("usage")
	errNotSignedIn = errors.New("not signed in")
)

type commandFn func(ctx *commandContext, args []string) error

type command struct {
	name        string
	description string
	run         commandFn
}

type commandContext struct {
	Ctx    context.Context
	Logger *slog.Logger
	Config config.AppConfig
	Stdin  io.Reader
	Stdout io.Writer
	Getenv func(string) string

	// slot replaces the configured token slot (tests).
	slot ports.TokenSlot
}

func main() {
	logger := bootstrap.NewLogger(os.Stderr, slog.LevelWarn)

	if len(os.Args) < 2 {
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when no command is provided
	}

	cmdName := os.Args[1]
	cmd, ok := commands()[cmdName]
	if !ok {
		if err := writef(os.Stderr, "unknown command %q\n\n", cmdName); err != nil {
			logger.Error("print unknown command message failed", "error", err)
		}
		if err := printUsage(os.Stderr); err != nil {
			logger.Error("print usage failed", "error", err)
		}
		os.Exit(2) //nolint:forbidigo // CLI must exit with failure status when command is unknown
	}

	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		logger.ErrorContext(context.Background(), "load config", "error", err)
		os.Exit(1) //nolint:forbidigo // CLI must signal configuration load failure to shell scripts
	}

	cmdCtx := &commandContext{
		Ctx:    context.Background(),
		Logger: logger,
		Config: cfg,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Getenv: os.Getenv,
	}
	if runErr := cmd.run(cmdCtx, os.Args[2:]); runErr != nil {
		if errors.Is(runErr, errUsage) {
			os.Exit(2) //nolint:forbidigo // CLI must exit with usage status on bad arguments
		}
		logger.ErrorContext(cmdCtx.Ctx, "command failed", "command", cmdName, "error", runErr)
		os.Exit(1) //nolint:forbidigo // CLI must propagate command execution failure to callers
	}
}

func commands() map[string]command {
	return map[string]command{
		"login": {
			name:        "login",
			description: "Sign in with an identifier; password from " + passwordEnv + " or stdin",
			run:         runLogin,
		},
		"logout": {
			name:        "logout",
			description: "Clear the persisted session token",
			run:         runLogout,
		},
		"whoami": {
			name:        "whoami",
			description: "Resolve the persisted token and print the signed-in operator",
			run:         runWhoami,
		},
		"status": {
			name:        "status",
			description: "Print the session state and what a guarded page would do",
			run:         runStatus,
		},
	}
}

func printUsage(w io.Writer) error {
	if err := writef(w, "Usage: backoffice-admin <command> [flags]\n\n"); err != nil {
		return err
	}
	if err := writef(w, "Available commands:\n"); err != nil {
		return err
	}
	names := make([]string, 0, len(commands()))
	for name := range commands() {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		c := commands()[name]
		if err := writef(w, "  %-10s %s\n", c.name, c.description); err != nil {
			return err
		}
	}
	return nil
}

func writef(w io.Writer, format string, args ...any) error {
	_, err := fmt.Fprintf(w, format, args...)
	return err
}

// session wires the session stack from the loaded configuration.
func (c *commandContext) session() (*bootstrap.ServiceContainer, error) {
	return bootstrap.BuildServices(c.Ctx, bootstrap.ServiceDeps{
		Config: &c.Config,
		Logger: c.Logger,
		Slot:   c.slot,
	})
}

func (c *commandContext) closeSession(services *bootstrap.ServiceContainer) {
	if err := services.Close(); err != nil {
		c.Logger.Warn("close session stack", "error", err)
	}
}

type loginOptions struct {
	Identifier string
	NoWait     bool
	Timeout    time.Duration
}

func parseLoginOptions(args []string) (loginOptions, error) {
	var opts loginOptions
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.BoolVar(&opts.NoWait, "no-wait", false, "return once the token is stored, without resolving the profile")
	fs.DurationVar(&opts.Timeout, "timeout", defaultWaitTimeout, "how long to wait for the profile")
	if err := fs.Parse(args); err != nil {
		return opts, errors.Join(errUsage, err)
	}
	if fs.NArg() != 1 {
		return opts, fmt.Errorf("%w: login <identifier>", errUsage)
	}
	opts.Identifier = fs.Arg(0)
	return opts, nil
}

func runLogin(ctx *commandContext, args []string) error {
	opts, err := parseLoginOptions(args)
	if err != nil {
		return err
	}
	password, err := ctx.password()
	if err != nil {
		return err
	}

	services, err := ctx.session()
	if err != nil {
		return err
	}
	defer ctx.closeSession(services)

	creds := ports.Credentials{Identifier: opts.Identifier, Password: password}
	if err := services.Auth.SignIn(ctx.Ctx, creds); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	if opts.NoWait {
		return writef(ctx.Stdout, "token stored; profile resolution skipped\n")
	}

	snap, err := waitSettled(ctx.Ctx, services, opts.Timeout)
	if err != nil {
		return err
	}
	if !snap.Authenticated() {
		return fmt.Errorf("%w: profile resolution failed (%s)", errNotSignedIn, snap.LastFailure)
	}
	return printUser(ctx.Stdout, snap)
}

// password reads BACKOFFICE_PASSWORD, falling back to the first line of stdin.
func (c *commandContext) password() (string, error) {
	if c.Getenv != nil {
		if v := c.Getenv(passwordEnv); v != "" {
			return v, nil
		}
	}
	if c.Stdin == nil {
		return "", fmt.Errorf("%w: set %s or pipe the password on stdin", errUsage, passwordEnv)
	}
	line, err := bufio.NewReader(c.Stdin).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read password: %w", err)
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", fmt.Errorf("%w: empty password; set %s or pipe it on stdin", errUsage, passwordEnv)
	}
	return line, nil
}

func runLogout(ctx *commandContext, args []string) error {
	if len(args) != 0 {
		return fmt.Errorf("%w: logout takes no arguments", errUsage)
	}
	services, err := ctx.session()
	if err != nil {
		return err
	}
	defer ctx.closeSession(services)

	if err := services.Auth.SignOut(ctx.Ctx); err != nil {
		return fmt.Errorf("sign out: %w", err)
	}
	return writef(ctx.Stdout, "signed out\n")
}

func runWhoami(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("whoami", flag.ContinueOnError)
	timeout := fs.Duration("timeout", defaultWaitTimeout, "how long to wait for the profile")
	if err := fs.Parse(args); err != nil {
		return errors.Join(errUsage, err)
	}

	services, err := ctx.session()
	if err != nil {
		return err
	}
	defer ctx.closeSession(services)

	services.Sessions.Initialize(ctx.Ctx)
	snap, err := waitSettled(ctx.Ctx, services, *timeout)
	if err != nil {
		return err
	}
	if !snap.Authenticated() {
		return errNotSignedIn
	}
	return printUser(ctx.Stdout, snap)
}

type statusReport struct {
	State       domainauth.State       `json:"state"`
	Guard       string                 `json:"guard"`
	Loading     bool                   `json:"loading"`
	TokenStored bool                   `json:"token_stored"`
	IsAdmin     bool                   `json:"is_admin"`
	UserID      string                 `json:"user_id,omitempty"`
	LastFailure domainauth.FailureKind `json:"last_failure,omitempty"`
}

func runStatus(ctx *commandContext, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	wait := fs.Bool("wait", false, "resolve the persisted token against the backend before reporting")
	timeout := fs.Duration("timeout", defaultWaitTimeout, "how long -wait may block")
	asJSON := fs.Bool("json", false, "print JSON")
	if err := fs.Parse(args); err != nil {
		return errors.Join(errUsage, err)
	}

	services, err := ctx.session()
	if err != nil {
		return err
	}
	defer ctx.closeSession(services)

	var snap domainauth.Snapshot
	if *wait {
		services.Sessions.Initialize(ctx.Ctx)
		if snap, err = waitSettled(ctx.Ctx, services, *timeout); err != nil {
			return err
		}
	} else if snap, err = storedSnapshot(ctx.Ctx, services.Slot); err != nil {
		return err
	}

	report := statusReport{
		State:       snap.State(),
		Guard:       domainauth.Decide(snap).String(),
		Loading:     snap.Loading,
		TokenStored: snap.Token != "",
		IsAdmin:     snap.IsAdmin(),
		LastFailure: snap.LastFailure,
	}
	if snap.Authenticated() {
		report.UserID = snap.User.ID
	}

	if *asJSON {
		enc := json.NewEncoder(ctx.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(report)
	}

	tw := tabwriter.NewWriter(ctx.Stdout, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"state", string(report.State)},
		{"guard", report.Guard},
		{"token", fmt.Sprint(report.TokenStored)},
		{"admin", fmt.Sprint(report.IsAdmin)},
	}
	if report.UserID != "" {
		rows = append(rows, [2]string{"user", report.UserID})
	}
	if report.LastFailure != "" {
		rows = append(rows, [2]string{"last failure", string(report.LastFailure)})
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}

// storedSnapshot describes the session a fresh process would start from, without contacting
// the backend: a stored token is still pending, no token is signed out.
func storedSnapshot(ctx context.Context, slot ports.TokenSlot) (domainauth.Snapshot, error) {
	token, ok, err := slot.Load(ctx)
	if err != nil {
		return domainauth.Snapshot{}, fmt.Errorf("read token slot: %w", err)
	}
	if !ok || token == "" {
		return domainauth.Snapshot{}, nil
	}
	return domainauth.Snapshot{Token: token, Loading: true}, nil
}

func waitSettled(ctx context.Context, services *bootstrap.ServiceContainer, timeout time.Duration) (domainauth.Snapshot, error) {
	if timeout <= 0 {
		timeout = defaultWaitTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := services.Sessions.Wait(waitCtx); err != nil {
		return domainauth.Snapshot{}, fmt.Errorf("wait for profile: %w", err)
	}
	return services.Sessions.Snapshot(), nil
}

func printUser(w io.Writer, snap domainauth.Snapshot) error {
	u := snap.User
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	rows := [][2]string{
		{"id", u.ID},
		{"name", u.DisplayName()},
		{"email", u.Email},
		{"role", fmt.Sprint(u.RoleID)},
		{"admin", fmt.Sprint(snap.IsAdmin())},
	}
	for _, row := range rows {
		if err := writef(tw, "%s:\t%s\n", row[0], row[1]); err != nil {
			return err
		}
	}
	return tw.Flush()
}
