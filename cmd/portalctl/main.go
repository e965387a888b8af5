// Command portalctl drives the campus portal API from a terminal: log in,
// review queues and apply workflow actions.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/campus-portal-api/internal/dto"
	"github.com/noah-isme/campus-portal-api/pkg/apiclient"
)

const usage = `usage: portalctl [global flags] <command> [args]

commands:
  login -email E -password P      print an access token
  approvals [-status S]           list the approval queue
  decide <id> approve|reject      decide a signup request
  leaves [-status S] [-type T]    list leave requests
  leave <id> <action> [-reason R] apply a leave action
  marksheets [-status S]          list marksheets
  marksheet <id> <action>         apply a marksheet action
  notifications [-unread]         list notifications
  read-all                        mark every notification read
  watch [-interval D]             print the unread count when it changes
`

func main() {
	var (
		baseURL string
		token   string
		timeout time.Duration
		verbose bool
	)
	flag.StringVar(&baseURL, "base", envOr("PORTAL_API", "http://localhost:8080/api/v1"), "API base URL")
	flag.StringVar(&token, "token", os.Getenv("PORTAL_TOKEN"), "Bearer token")
	flag.DurationVar(&timeout, "timeout", 90*time.Second, "per-attempt timeout")
	flag.BoolVar(&verbose, "v", false, "log retries and invalidations")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logr := zap.NewNop()
	if verbose {
		l, err := zap.NewDevelopment()
		if err != nil {
			log.Fatalf("failed to init logger: %v", err)
		}
		logr = l
	}

	client := apiclient.New(apiclient.Options{
		BaseURL: baseURL,
		Token:   token,
		Timeout: timeout,
		Logger:  logr,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, client, flag.Arg(0), flag.Args()[1:]); err != nil {
		var callErr *apiclient.CallError
		if errors.As(err, &callErr) && callErr.TimedOut {
			log.Printf("warning: the server may have applied the request before timing out")
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, client *apiclient.Client, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	switch cmd {
	case "login":
		email := fs.String("email", "", "account email")
		password := fs.String("password", os.Getenv("PORTAL_PASSWORD"), "account password")
		_ = fs.Parse(args)
		res, err := client.Login(ctx, *email, *password)
		if err != nil {
			return err
		}
		fmt.Println(res.AccessToken)
		return nil

	case "approvals":
		status := fs.String("status", "", "pending, approved or rejected")
		_ = fs.Parse(args)
		items, err := client.ListApprovals(ctx, *status)
		if err != nil {
			return err
		}
		return printJSON(items)

	case "decide":
		reason := fs.String("reason", "", "optional reason")
		_ = fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("decide needs <id> approve|reject")
		}
		res, err := client.DecideApproval(ctx, fs.Arg(0), dto.DecisionRequest{Action: fs.Arg(1), Reason: *reason})
		if err != nil {
			return err
		}
		return printJSON(res)

	case "leaves":
		status := fs.String("status", "", "status filter")
		kind := fs.String("type", "", "leave or late")
		_ = fs.Parse(args)
		items, err := client.ListLeaves(ctx, *status, *kind)
		if err != nil {
			return err
		}
		return printJSON(items)

	case "leave":
		reason := fs.String("reason", "", "optional reason")
		_ = fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("leave needs <id> <action>")
		}
		res, err := client.TransitionLeave(ctx, fs.Arg(0), dto.TransitionRequest{Action: fs.Arg(1), Reason: *reason})
		if err != nil {
			return err
		}
		return printJSON(res)

	case "marksheets":
		status := fs.String("status", "", "status filter")
		_ = fs.Parse(args)
		items, err := client.ListMarksheets(ctx, *status)
		if err != nil {
			return err
		}
		return printJSON(items)

	case "marksheet":
		reason := fs.String("reason", "", "optional reason")
		_ = fs.Parse(args)
		if fs.NArg() != 2 {
			return errors.New("marksheet needs <id> <action>")
		}
		res, err := client.TransitionMarksheet(ctx, fs.Arg(0), dto.TransitionRequest{Action: fs.Arg(1), Reason: *reason})
		if err != nil {
			return err
		}
		return printJSON(res)

	case "notifications":
		unread := fs.Bool("unread", false, "only unread")
		_ = fs.Parse(args)
		items, err := client.ListNotifications(ctx, *unread)
		if err != nil {
			return err
		}
		return printJSON(items)

	case "read-all":
		return client.MarkAllRead(ctx)

	case "watch":
		interval := fs.Duration("interval", 15*time.Second, "poll interval")
		_ = fs.Parse(args)
		return watch(ctx, client, *interval)
	}
	return fmt.Errorf("unknown command %q", cmd)
}

// watch polls the unread badge. Reads are served from the client cache until
// the interval elapses or a mutation invalidates the notifications topic.
func watch(ctx context.Context, client *apiclient.Client, interval time.Duration) error {
	id, events := client.Bus().Subscribe(8)
	defer client.Bus().Unsubscribe(id)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := -1
	for {
		count, err := client.UnreadCount(ctx, apiclient.WithTTL(interval))
		if err != nil {
			return err
		}
		if count != last {
			fmt.Printf("%s unread=%d\n", time.Now().Format(time.Kitchen), count)
			last = count
		}
		select {
		case <-ctx.Done():
			return nil
		case ev := <-events:
			if ev.Topic == apiclient.TopicNotifications {
				client.Purge(apiclient.TopicNotifications)
			}
		case <-ticker.C:
			client.Purge(apiclient.TopicNotifications)
		}
	}
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
