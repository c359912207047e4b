package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	api "github.com/OvyFlash/telegram-bot-api"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/Bilolbee/apkban/internal/bot"
	"github.com/Bilolbee/apkban/internal/config"
	"github.com/Bilolbee/apkban/internal/db/sqlite"
	"github.com/Bilolbee/apkban/internal/detect"
	chathandlers "github.com/Bilolbee/apkban/internal/handlers/chat"
	modhandlers "github.com/Bilolbee/apkban/internal/handlers/moderation"
	"github.com/Bilolbee/apkban/internal/i18n"
	"github.com/Bilolbee/apkban/internal/infra"
	"github.com/Bilolbee/apkban/internal/infrastructure/telegram"
	"github.com/Bilolbee/apkban/internal/lifecycle"
	"github.com/Bilolbee/apkban/internal/moderation"
	"github.com/Bilolbee/apkban/internal/observability"
	"github.com/Bilolbee/apkban/internal/policy/escalation"
	"github.com/Bilolbee/apkban/internal/scheduler"
	"github.com/Bilolbee/apkban/internal/strikes"
)

const shutdownTimeout = 10 * time.Second

var errExecutableChanged = errors.New("executable file was modified")

func main() {
	app := &cli.App{
		Name:           "apkban",
		Usage:          "removes application packages from Telegram groups and punishes repeat senders",
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "run the bot",
				Action: runBot,
			},
			{
				Name:   "stats",
				Usage:  "print ledger statistics",
				Action: printStats,
			},
			{
				Name:      "reset",
				Usage:     "clear the strikes of one user in one group",
				ArgsUsage: "<group_id> <user_id>",
				Action:    resetStrikes,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.WithError(err).Fatalln("exiting")
	}
}

func runBot(cctx *cli.Context) error {
	ctx, stop := signal.NotifyContext(cctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}
	logCloser, err := config.SetupLogging(cfg)
	if err != nil {
		return err
	}
	defer logCloser.Close()
	i18n.SetDefaultLanguage(cfg.DefaultLanguage)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	botAPI, err := api.NewBotAPI(cfg.TelegramAPIToken)
	if err != nil {
		return fmt.Errorf("cant initialize bot api: %w", err)
	}
	if log.Level(cfg.LogLevel) == log.TraceLevel {
		botAPI.Debug = true
	}

	ops := telegram.NewOperations(botAPI, rate.NewLimiter(rate.Limit(cfg.Telegram.RateLimit), cfg.Telegram.RateBurst))
	policy := escalation.Policy{
		MaxStrikes:   cfg.Strikes.MaxStrikes,
		MuteDuration: cfg.Strikes.MuteDuration(),
	}
	matcher := detect.NewMatcher(cfg.Strikes.APKExtensions)
	moderator := moderation.NewModerator(ops, store, policy, matcher, moderation.Options{
		ExcludeAdmins: cfg.Strikes.ExcludeAdmins,
		Language:      cfg.DefaultLanguage,
	})

	processor := bot.NewUpdateProcessor(cfg.Telegram.UpdateTimeout,
		chathandlers.NewCommands(ops, store, policy, cfg.DefaultLanguage),
		modhandlers.NewGuard(ops, moderator, cfg.DefaultLanguage),
		chathandlers.NewGreeter(ops, cfg.DefaultLanguage),
	)

	runtime := lifecycle.NewRuntime(
		observability.New(cfg.Observability.MetricsListen, nil),
		scheduler.New(cfg.Observability.StatsSchedule, store),
		bot.NewService(botAPI, processor),
	)
	if err := runtime.Start(ctx); err != nil {
		return err
	}
	log.WithFields(log.Fields{
		"bot":            botAPI.Self.UserName,
		"language":       i18n.GetLanguageName(cfg.DefaultLanguage),
		"extensions":     strings.Join(matcher.Extensions(), ","),
		"exclude_admins": cfg.Strikes.ExcludeAdmins,
		"max_strikes":    cfg.Strikes.MaxStrikes,
		"mute_duration":  cfg.Strikes.MuteDuration().String(),
		"storage":        cfg.Storage.Driver,
	}).Info("bot started")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		_, changed := <-infra.MonitorExecutable(gctx)
		if changed {
			return errExecutableChanged
		}
		<-gctx.Done()
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()
		return runtime.Stop(stopCtx)
	})

	err = g.Wait()
	if errors.Is(err, errExecutableChanged) {
		log.Warn("executable file was modified, exiting for restart")
		return nil
	}
	log.Info("bot stopped")
	return err
}

func printStats(cctx *cli.Context) error {
	cfg, store, closeStore, err := openOffline(cctx.Context)
	if err != nil {
		return err
	}
	defer closeStore()

	writeStats(cctx.App.Writer, cfg, store.AggregateStats())
	return nil
}

func writeStats(w io.Writer, cfg *config.Config, stats strikes.Stats) {
	fmt.Fprintf(w, "storage:          %s (%s)\n", cfg.StoragePath(), cfg.Storage.Driver)
	fmt.Fprintf(w, "tracked users:    %d\n", stats.TotalUsers)
	fmt.Fprintf(w, "total violations: %d\n", stats.TotalViolations)
	if len(stats.TopOffenders) == 0 {
		return
	}
	fmt.Fprintln(w, "top offenders:")
	for i, o := range stats.TopOffenders {
		rec := strikes.Record{Key: o.Key, Username: o.Username, FirstName: o.FirstName}
		fmt.Fprintf(w, "%3d. %-24s group=%d user=%d strikes=%d\n", i+1, rec.DisplayName(), o.GroupID, o.UserID, o.Strikes)
	}
}

func resetStrikes(cctx *cli.Context) error {
	if cctx.NArg() != 2 {
		return cli.Exit("usage: apkban reset <group_id> <user_id>", 2)
	}
	groupID, err := strconv.ParseInt(cctx.Args().Get(0), 10, 64)
	if err != nil {
		return cli.Exit(fmt.Sprintf("bad group id %q", cctx.Args().Get(0)), 2)
	}
	userID, err := strconv.ParseInt(cctx.Args().Get(1), 10, 64)
	if err != nil || userID <= 0 {
		return cli.Exit(fmt.Sprintf("bad user id %q", cctx.Args().Get(1)), 2)
	}

	_, store, closeStore, err := openOffline(cctx.Context)
	if err != nil {
		return err
	}
	defer closeStore()

	removed, err := store.Reset(cctx.Context, strikes.Key{GroupID: groupID, UserID: userID})
	if err != nil {
		return err
	}
	if !removed {
		fmt.Fprintln(cctx.App.Writer, "no strikes recorded")
		return nil
	}
	fmt.Fprintln(cctx.App.Writer, "strikes cleared")
	return nil
}

func openOffline(ctx context.Context) (*config.Config, *strikes.Store, func(), error) {
	cfg, err := config.LoadOffline(ctx)
	if err != nil {
		return nil, nil, nil, err
	}
	log.SetLevel(log.Level(cfg.LogLevel))
	log.SetFormatter(&config.NbFormatter{})
	log.SetOutput(os.Stderr)

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, store, closeStore, nil
}

// openStore loads the ledger from the configured backend; the returned func releases it.
func openStore(ctx context.Context, cfg *config.Config) (*strikes.Store, func(), error) {
	if _, err := infra.WorkDir(cfg.DotPath); err != nil {
		return nil, nil, err
	}

	var backend strikes.Backend
	closeBackend := func() {}
	path := cfg.StoragePath()
	switch cfg.Storage.Driver {
	case config.StorageDriverSQLite:
		name := filepath.Base(path)
		if strings.HasSuffix(name, ".json") {
			name = strings.TrimSuffix(name, ".json") + ".db"
		}
		client, err := sqlite.NewSQLiteClient(ctx, filepath.Dir(path), name)
		if err != nil {
			return nil, nil, err
		}
		backend = client
		closeBackend = func() {
			if err := client.Close(); err != nil {
				log.WithError(err).Warn("cant close database")
			}
		}
	default:
		file, err := strikes.NewJSONFile(path)
		if err != nil {
			return nil, nil, err
		}
		backend = file
	}

	store, err := strikes.Open(ctx, backend, strikes.Options{FailOnCorrupt: cfg.Storage.Strict})
	if err != nil {
		closeBackend()
		return nil, nil, err
	}
	return store, closeBackend, nil
}
