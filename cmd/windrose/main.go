package main

import (
	"log/slog"
	"os"

	_ "github.com/joho/godotenv/autoload"
	_ "net/http/pprof"

	"github.com/carlmjohnson/versioninfo"
	"github.com/urfave/cli/v2"

	"github.com/windrose-social/windrose/apfetch"
	"github.com/windrose-social/windrose/apresolve"
	"github.com/windrose-social/windrose/apuri"
	"github.com/windrose-social/windrose/idcache"
	"github.com/windrose-social/windrose/store"
	"github.com/windrose-social/windrose/util/cliutil"
)

func main() {
	if err := run(os.Args); err != nil {
		slog.Error("exiting", "err", err)
		os.Exit(1)
	}
}

func run(args []string) error {

	app := cli.App{
		Name:    "windrose",
		Usage:   "ActivityPub identity resolution daemon",
		Version: versioninfo.Short(),
	}

	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:    "database-url",
			Usage:   "database connection string (sqlite:// or postgres://)",
			Value:   "sqlite://data/windrose/windrose.sqlite",
			EnvVars: []string{"DATABASE_URL"},
		},
		&cli.StringFlag{
			Name:    "local-origin",
			Usage:   "scheme and authority this deployment considers itself, eg https://example.social",
			EnvVars: []string{"WINDROSE_LOCAL_ORIGIN"},
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "log verbosity level (eg: warn, info, debug)",
			EnvVars: []string{"WINDROSE_LOG_LEVEL", "GO_LOG_LEVEL", "LOG_LEVEL"},
		},
	}

	app.Commands = []*cli.Command{
		&cli.Command{
			Name:   "serve",
			Usage:  "run the resolution API daemon",
			Action: runServe,
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:    "bind",
					Usage:   "IP or address, and port, to listen on for the API",
					Value:   ":6810",
					EnvVars: []string{"WINDROSE_BIND"},
				},
				&cli.StringFlag{
					Name:    "metrics-listen",
					Usage:   "IP or address, and port, to listen on for metrics",
					Value:   ":3999",
					EnvVars: []string{"WINDROSE_METRICS_LISTEN"},
				},
				&cli.StringFlag{
					Name:    "redis-url",
					Usage:   "if set, back the public key caches with redis: redis://<user>:<pass>@<hostname>:6379/<db>",
					EnvVars: []string{"WINDROSE_REDIS_URL"},
				},
				&cli.Float64Flag{
					Name:    "fetch-rate-limit",
					Usage:   "max remote actor fetches per second (0 for unlimited)",
					Value:   20,
					EnvVars: []string{"WINDROSE_FETCH_RATE_LIMIT"},
				},
			},
		},
		&cli.Command{
			Name:   "migrate",
			Usage:  "run database schema migrations and exit",
			Action: runMigrate,
		},
	}

	return app.Run(args)
}

func setup(cctx *cli.Context) (*store.Store, *slog.Logger, error) {
	logger, err := cliutil.SetupSlog(cctx.String("log-level"))
	if err != nil {
		return nil, nil, err
	}
	db, err := cliutil.SetupDatabase(cctx.String("database-url"), 40)
	if err != nil {
		return nil, nil, err
	}
	return store.NewStore(db), logger, nil
}

func runMigrate(cctx *cli.Context) error {
	db, _, err := setup(cctx)
	if err != nil {
		return err
	}
	return db.AutoMigrate()
}

func runServe(cctx *cli.Context) error {
	db, logger, err := setup(cctx)
	if err != nil {
		return err
	}
	if err := db.AutoMigrate(); err != nil {
		return err
	}

	parser, err := apuri.NewParser(cctx.String("local-origin"))
	if err != nil {
		return err
	}

	idents := idcache.New(db)
	fetcher := apfetch.NewService(db, idents, logger)
	if limit := cctx.Float64("fetch-rate-limit"); limit > 0 {
		fetcher.SetRateLimit(limit)
	}

	var resolver *apresolve.Resolver
	if redisURL := cctx.String("redis-url"); redisURL != "" {
		byKeyID, byUserID, err := redisKeyCaches(redisURL, db)
		if err != nil {
			return err
		}
		resolver = apresolve.NewResolverWithKeyCaches(parser, db, idents, fetcher, byKeyID, byUserID)
	} else {
		resolver = apresolve.NewResolver(parser, db, idents, fetcher)
	}

	srv, err := NewServer(Config{
		Resolver: resolver,
		Idents:   idents,
		Logger:   logger,
		Bind:     cctx.String("bind"),
	})
	if err != nil {
		return err
	}

	go func() {
		if err := srv.RunMetrics(cctx.String("metrics-listen")); err != nil {
			logger.Error("metrics listener failed", "err", err)
		}
	}()

	return srv.RunAPI()
}
