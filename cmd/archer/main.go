// Command archer joins a live shoot and reports scores from the terminal.
// The session is kept in a local SQLite file so later invocations act as the
// same archer until they leave or the session goes stale.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/quii/vue-fast-sub001/alerts"
	"github.com/quii/vue-fast-sub001/client"
	"github.com/quii/vue-fast-sub001/config"
	"github.com/quii/vue-fast-sub001/models"
	"github.com/quii/vue-fast-sub001/session"
	"github.com/quii/vue-fast-sub001/utils"
)

const pollInterval = 5 * time.Second

var errNoSession = errors.New("no active session, join a shoot first")

const usage = `usage: archer <command> [flags]

commands:
  create -name NAME                         create a shoot and print its code
  join -code CODE -name NAME -round ROUND   join a shoot
  score -total N -arrows N [-class C]       report your running score
  finish -total N -arrows N [-class C]      report your final score
  leave                                     leave the current shoot
  status                                    show the current session and leaderboard
  watch [-code CODE] [-close]               follow the leaderboard live
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadClient()
	if err != nil {
		fmt.Fprintln(os.Stderr, "archer:", err)
		os.Exit(1)
	}
	if err := execute(ctx, cfg, os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "archer:", err)
		os.Exit(1)
	}
}

func execute(ctx context.Context, cfg *config.ClientConfig, args []string, out io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(out, usage)
		return errors.New("missing command")
	}
	level, err := config.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(out)

	switch cmd {
	case "create":
		name := fs.String("name", "", "your archer name")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error { return a.create(ctx, *name) })

	case "join":
		code := fs.String("code", "", "4-digit shoot code")
		name := fs.String("name", "", "your archer name")
		round := fs.String("round", "", "round you are shooting")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error { return a.join(ctx, *code, *name, *round) })

	case "score", "finish":
		total := fs.Int("total", -1, "running total score")
		arrows := fs.Int("arrows", -1, "arrows shot so far")
		class := fs.String("class", "", "current classification")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		var classification *string
		if *class != "" {
			classification = class
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error {
			return a.score(ctx, cmd == "finish", *total, *arrows, classification)
		})

	case "leave":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error { return a.leave(ctx) })

	case "status":
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error { return a.status(ctx) })

	case "watch":
		code := fs.String("code", "", "shoot to watch (default: current session)")
		closeComp := fs.Bool("close", false, "also alert on close competition")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return withApp(ctx, cfg, logger, out, func(a *app) error { return a.watch(ctx, *code, *closeComp) })

	case "help", "-h", "--help":
		fmt.Fprint(out, usage)
		return nil

	default:
		fmt.Fprint(out, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

type app struct {
	cfg     *config.ClientConfig
	logger  *slog.Logger
	out     io.Writer
	http    *client.HTTPClient
	conn    *client.Conn
	persist *session.SQLitePersistence
	engine  *alerts.Engine
	board   *alerts.Board
	store   *session.Store
}

func withApp(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger, out io.Writer, fn func(*app) error) error {
	a, err := newApp(ctx, cfg, logger, out)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func newApp(ctx context.Context, cfg *config.ClientConfig, logger *slog.Logger, out io.Writer) (*app, error) {
	persist, err := session.OpenSQLite(cfg.SessionDB)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:     cfg,
		logger:  logger,
		out:     out,
		persist: persist,
		http: client.NewHTTPClient(cfg.ServerURL, client.HTTPOptions{
			Retries:    cfg.HTTPRetries,
			RetryDelay: cfg.HTTPRetryDelay,
			Logger:     logger,
		}),
	}

	var api session.ShootAPI = a.http
	if cfg.Transport == config.TransportRealtime {
		conn := client.NewConn(cfg.WebSocketURL(), client.Options{BaseDelay: cfg.ReconnectBase, Logger: logger})
		if err := conn.Connect(ctx); err != nil {
			_ = persist.Close()
			return nil, fmt.Errorf("failed to connect to %s: %w", cfg.WebSocketURL(), err)
		}
		a.conn = conn
		api = client.NewRealtime(conn)
	}

	a.board = alerts.NewBoard(16)
	a.engine = alerts.NewEngine(a.board, logger)
	a.store = session.NewStore(api, persist, logger, session.WithEvaluator(a.engine))
	return a, nil
}

func (a *app) close() {
	if a.conn != nil {
		_ = a.conn.Close()
	}
	if err := a.persist.Close(); err != nil {
		a.logger.Warn("failed to close session db", slog.Any("error", err))
	}
}

// create always goes over HTTP; the realtime channel has no create operation.
func (a *app) create(ctx context.Context, name string) error {
	shoot, err := a.http.CreateShoot(ctx, name)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Shoot %s created by %s. Share the code with the other archers.\n", shoot.Code, shoot.CreatorName)
	return nil
}

func (a *app) join(ctx context.Context, code, name, round string) error {
	shoot, err := a.store.Join(ctx, code, name, round)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "Joined shoot %s as %s.\n", code, name)
	printLeaderboard(a.out, shoot)
	return nil
}

func (a *app) score(ctx context.Context, finish bool, total, arrows int, classification *string) error {
	if a.store.Restore(ctx) == nil {
		return errNoSession
	}
	submit := a.store.UpdateScore
	if finish {
		submit = a.store.Finish
	}
	shoot, err := submit(ctx, total, arrows, classification)
	if err != nil {
		return err
	}
	a.printAlerts()
	printLeaderboard(a.out, shoot)
	return nil
}

func (a *app) leave(ctx context.Context) error {
	st := a.store.Restore(ctx)
	if st == nil {
		return errNoSession
	}
	if err := a.store.Leave(ctx); err != nil {
		return err
	}
	a.engine.Forget(st.ShootCode)
	fmt.Fprintf(a.out, "Left shoot %s.\n", st.ShootCode)
	return nil
}

func (a *app) status(ctx context.Context) error {
	st := a.store.Restore(ctx)
	if st == nil {
		fmt.Fprintln(a.out, "No active session.")
		return nil
	}
	_, shoot := a.store.Current()
	fmt.Fprintf(a.out, "Shoot %s as %s (%s), joined %s.\n",
		st.ShootCode, st.ArcherName, utils.FormatRoundName(st.RoundName), st.JoinedAt.Local().Format("Mon 15:04"))
	printLeaderboard(a.out, shoot)
	return nil
}

func (a *app) watch(ctx context.Context, code string, closeComp bool) error {
	if code == "" {
		st := a.store.Restore(ctx)
		if st == nil {
			return errNoSession
		}
		code = st.ShootCode
	} else if _, err := a.store.Watch(ctx, code); err != nil {
		return err
	}
	if closeComp {
		if err := a.engine.Enable(code, alerts.RuleCloseCompetition); err != nil {
			return err
		}
	}

	if a.conn != nil {
		go a.store.Run(ctx, a.conn.Notifications(), a.conn.States())
	} else {
		go a.http.WatchConnectivity(ctx, pollInterval)
		go a.poll(ctx)
	}

	fmt.Fprintf(a.out, "Watching shoot %s. Press Ctrl+C to stop.\n", code)
	for {
		select {
		case <-ctx.Done():
			return nil
		case shoot := <-a.store.Updates():
			printLeaderboard(a.out, shoot)
		case alert := <-a.board.C:
			fmt.Fprintf(a.out, "[%s] %s\n", alert.Title, alert.Body)
		}
	}
}

// poll stands in for push notifications on the HTTP transport.
func (a *app) poll(ctx context.Context) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := a.store.Resync(ctx); err != nil {
				a.logger.Debug("poll failed", slog.Any("error", err))
			}
		}
	}
}

func (a *app) printAlerts() {
	for {
		select {
		case alert := <-a.board.C:
			fmt.Fprintf(a.out, "[%s] %s\n", alert.Title, alert.Body)
		default:
			return
		}
	}
}

func printLeaderboard(out io.Writer, shoot *models.Shoot) {
	if shoot == nil {
		return
	}
	if len(shoot.Participants) == 0 {
		fmt.Fprintf(out, "Shoot %s has no archers yet.\n", shoot.Code)
		return
	}

	ranked := make([]*models.Participant, len(shoot.Participants))
	for _, p := range shoot.Participants {
		if p.CurrentPosition >= 1 && p.CurrentPosition <= len(ranked) {
			ranked[p.CurrentPosition-1] = p
		}
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "POS\tARCHER\tROUND\tSCORE\tARROWS\tCLASS\tMOVE\n")
	for _, p := range ranked {
		if p == nil {
			continue
		}
		name := p.ArcherName
		if p.Finished {
			name += " (finished)"
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%d\t%s\t%s\n",
			p.CurrentPosition, name, utils.FormatRoundName(p.RoundName),
			p.TotalScore, p.ArrowsShot, utils.FormatClassification(p.CurrentClassification), movement(p))
	}
	w.Flush()
}

func movement(p *models.Participant) string {
	if p.PreviousPosition == nil || *p.PreviousPosition == p.CurrentPosition {
		return ""
	}
	if *p.PreviousPosition > p.CurrentPosition {
		return fmt.Sprintf("up %d", *p.PreviousPosition-p.CurrentPosition)
	}
	return fmt.Sprintf("down %d", p.CurrentPosition-*p.PreviousPosition)
}
