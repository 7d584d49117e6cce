// Command points is the command-line client for the peer-to-peer points
// service. It talks to a running server by default and can run fully offline
// against the built-in simulation with POINTLINK_USE_MOCK=true.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kaiwen/pointlink/internal/apierr"
	"github.com/kaiwen/pointlink/internal/backend"
	"github.com/kaiwen/pointlink/internal/config"
	"github.com/kaiwen/pointlink/internal/domain"
	"github.com/kaiwen/pointlink/internal/logging"
	"github.com/kaiwen/pointlink/internal/session"
	"github.com/kaiwen/pointlink/internal/state"
)

const usage = `Usage: points <command> [flags]

Commands:
  register      create an account
  login         authenticate and store the session token
  logout        end the session
  whoami        show the authenticated user
  balance       show the current balance
  send          prepare a transfer
  claim         claim a transfer as the logged-in user
  claim-public  claim a transfer via its shared link
  cancel        cancel a pending transfer
  show          show one transaction
  list          list transactions
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging).With("component", "points")

	sessions := session.NewFileStore(cfg.Client.TokenFile)
	b := buildBackend(cfg.Client, sessions)
	store := state.New(b, sessions, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app := &cli{backend: b, store: store, out: os.Stdout}

	command, args := os.Args[1], os.Args[2:]
	if err := app.run(ctx, command, args); err != nil {
		fmt.Fprintf(os.Stderr, "points: %v\n", err)
		if apierr.IsAuth(err) {
			fmt.Fprintln(os.Stderr, "run `points login` to start a session")
		}
		os.Exit(1)
	}
}

// buildBackend selects the implementation once; every later call goes through
// the same value.
func buildBackend(cfg config.ClientConfig, sessions session.Store) backend.Backend {
	if cfg.UseMock {
		return backend.NewMemory(backend.MemoryOptions{
			StateFile: cfg.MockStateFile,
		})
	}
	return backend.NewHTTP(backend.HTTPOptions{
		BaseURL:  cfg.BaseURL,
		Timeout:  cfg.Timeout,
		Sessions: sessions,
	})
}

type cli struct {
	backend backend.Backend
	store   *state.Store
	out     *os.File
}

func (c *cli) run(ctx context.Context, command string, args []string) error {
	switch command {
	case "register":
		return c.register(ctx, args)
	case "login":
		return c.login(ctx, args)
	case "logout":
		c.store.Logout(ctx)
		fmt.Fprintln(c.out, "logged out")
		return nil
	case "whoami":
		return c.whoami(ctx)
	case "balance":
		return c.balance(ctx)
	case "send":
		return c.send(ctx, args)
	case "claim":
		return c.claim(ctx, args)
	case "claim-public":
		return c.claimPublic(ctx, args)
	case "cancel":
		return c.cancel(ctx, args)
	case "show":
		return c.show(ctx, args)
	case "list":
		return c.list(ctx)
	case "help", "-h", "--help":
		fmt.Fprint(c.out, usage)
		return nil
	default:
		fmt.Fprint(os.Stderr, usage)
		return fmt.Errorf("unknown command %q", command)
	}
}

func (c *cli) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ExitOnError)
	name := fs.String("name", "", "Display name")
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *name == "" || *email == "" || *password == "" {
		return fmt.Errorf("register requires -name, -email and -password")
	}

	reg, err := c.backend.Register(ctx, *name, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "registered %s (%s)\n", reg.Email, reg.UserID)
	return nil
}

func (c *cli) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ExitOnError)
	email := fs.String("email", "", "Email address")
	password := fs.String("password", "", "Password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *email == "" || *password == "" {
		return fmt.Errorf("login requires -email and -password")
	}

	user, err := c.store.Login(ctx, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "logged in as %s (balance %.2f)\n", user.Email, user.Balance)
	return nil
}

func (c *cli) whoami(ctx context.Context) error {
	user, err := c.store.FetchCurrentUser(ctx)
	if err != nil {
		return err
	}
	if user == nil {
		fmt.Fprintln(c.out, "not logged in")
		return nil
	}
	return printJSON(c.out, user)
}

func (c *cli) balance(ctx context.Context) error {
	balance, err := c.backend.Balance(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "%.2f\n", balance)
	return nil
}

func (c *cli) send(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("send", flag.ExitOnError)
	amount := fs.Float64("amount", 0, "Amount to send")
	note := fs.String("note", "", "Optional note")
	to := fs.String("to", "", "Receiver email (optional, leave empty for an open link)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	user, err := c.store.FetchCurrentUser(ctx)
	if err != nil {
		return err
	}

	in := backend.PrepareInput{Amount: *amount, Note: *note, ReceiverEmail: *to}
	if user != nil {
		in.SenderID = user.UserID
		in.SenderName = user.Name
	}

	tx, err := c.backend.Prepare(ctx, in)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "prepared %s for %.2f, claimable until %s\n",
		tx.TransactionID, tx.Amount, formatTimePtr(tx.ExpiresAt))
	return nil
}

func (c *cli) claim(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("claim", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	email := fs.String("email", "", "Receiver email")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tx, err := c.backend.Confirm(ctx, *id, *email)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "claimed %s: %.2f from %s\n", tx.TransactionID, tx.Amount, tx.SenderName)
	return nil
}

func (c *cli) claimPublic(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("claim-public", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	email := fs.String("email", "", "Claimant email")
	name := fs.String("name", "", "Claimant display name (optional)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tx, err := c.backend.ConfirmPublic(ctx, *id, *email, *name)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "claimed %s: %.2f from %s\n", tx.TransactionID, tx.Amount, tx.SenderName)
	return nil
}

func (c *cli) cancel(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cancel", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	if err := fs.Parse(args); err != nil {
		return err
	}

	tx, err := c.backend.Cancel(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.out, "cancelled %s, %.2f returned\n", tx.TransactionID, tx.Amount)
	return nil
}

func (c *cli) show(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	id := fs.String("id", "", "Transaction ID")
	public := fs.Bool("public", false, "Use the unauthenticated shared-link view")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var (
		tx  domain.Transaction
		err error
	)
	if *public {
		tx, err = c.backend.PublicTransaction(ctx, *id)
	} else {
		tx, err = c.backend.Transaction(ctx, *id)
	}
	if err != nil {
		return err
	}
	return printJSON(c.out, tx)
}

func (c *cli) list(ctx context.Context) error {
	txs, err := c.store.FetchTransactions(ctx)
	if err != nil {
		return err
	}
	if len(txs) == 0 {
		fmt.Fprintln(c.out, "no transactions")
		return nil
	}
	for _, tx := range txs {
		fmt.Fprintf(c.out, "%s  %-9s  %8.2f  %s -> %s  %s\n",
			tx.TransactionID, tx.Status, tx.Amount,
			displayName(tx.SenderName), displayName(tx.ReceiverName),
			tx.CreatedAt.Format(time.RFC3339))
	}
	return nil
}

func printJSON(out *os.File, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func displayName(name string) string {
	if name == "" {
		return "?"
	}
	return name
}

func formatTimePtr(ts *time.Time) string {
	if ts == nil {
		return "n/a"
	}
	return ts.Format(time.RFC3339)
}
