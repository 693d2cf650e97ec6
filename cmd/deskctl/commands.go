package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"

	"github.com/omnidesk/backend/internal/config"
	"github.com/omnidesk/backend/internal/db"
	"github.com/omnidesk/backend/internal/jobs"
	"github.com/omnidesk/backend/internal/models"
	"github.com/omnidesk/backend/internal/presence"
	"github.com/omnidesk/backend/internal/realtime"
	"github.com/omnidesk/backend/internal/service"
)

// env holds what every command needs once connected.
type env struct {
	cfg    config.Config
	store  *db.Store
	logger zerolog.Logger
}

func connect(c *cli.Context) (*env, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	url := c.String("database-url")
	if url == "" {
		url = cfg.DatabaseURL
	}
	if url == "" {
		return nil, errors.New("database url is required (--database-url or DATABASE_URL)")
	}
	s, err := db.New(c.Context, url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect db: %w", err)
	}
	level, _ := zerolog.ParseLevel(cfg.LogLevel)
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
	return &env{cfg: cfg, store: s, logger: logger}, nil
}

// services builds the routing stack against the database. Realtime events are only
// logged since no agent console listens to a one-off command.
func (e *env) services() (*service.ProcessingService, *service.AgentService) {
	broadcaster := realtime.LogBroadcaster{Logger: e.logger}
	tracker := presence.NewTracker(e.store.Presence(), e.logger, e.cfg.PresenceTimeout)
	queue := &service.QueueManager{Store: e.store, Broadcaster: broadcaster, Logger: e.logger}
	router := &service.Router{
		Store:       e.store,
		Presence:    tracker,
		Queue:       queue,
		Broadcaster: broadcaster,
		Logger:      e.logger,
	}
	if e.cfg.RoutingSerialize {
		router.Locker = e.store
	}
	processing := &service.ProcessingService{
		Store:     e.store,
		Router:    router,
		Queue:     queue,
		Logger:    e.logger,
		BatchSize: e.cfg.QueueBatchSize,
	}
	agents := &service.AgentService{Store: e.store, Presence: tracker, Processing: processing, Logger: e.logger}
	return processing, agents
}

func migrateCommand() *cli.Command {
	return &cli.Command{
		Name:   "migrate",
		Usage:  "Apply the application schema and the job queue migrations",
		Action: runMigrate,
	}
}

func runMigrate(c *cli.Context) error {
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.store.Close()

	if err := e.store.Migrate(c.Context); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	n, err := jobs.Migrate(c.Context, e.store.Pool)
	if err != nil {
		return fmt.Errorf("failed to migrate job tables: %w", err)
	}
	fmt.Printf("Schema up to date, %d job queue migrations applied\n", n)
	return nil
}

func processQueueCommand() *cli.Command {
	return &cli.Command{
		Name:  "process-queue",
		Usage: "Route waiting conversations to available agents",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "tenant",
				Usage: "Only drain this tenant's queue",
			},
		},
		Action: runProcessQueue,
	}
}

func runProcessQueue(c *cli.Context) error {
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.store.Close()
	processing, _ := e.services()

	var out any
	if tenant := c.String("tenant"); tenant != "" {
		out, err = processing.ProcessQueue(c.Context, tenant)
	} else {
		out, err = processing.ProcessAll(c.Context)
	}
	if err != nil {
		return fmt.Errorf("failed to process queue: %w", err)
	}
	return printJSON(out)
}

func presenceCommand() *cli.Command {
	tenantFlag := &cli.StringFlag{Name: "tenant", Usage: "Tenant ID", Required: true}
	return &cli.Command{
		Name:  "presence",
		Usage: "Inspect or change agent presence",
		Subcommands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List the agents currently online",
				Flags:  []cli.Flag{tenantFlag},
				Action: runPresenceList,
			},
			{
				Name:      "set",
				Usage:     "Set an agent's status (online, away or offline)",
				ArgsUsage: "AGENT_ID STATUS",
				Flags:     []cli.Flag{tenantFlag},
				Action:    runPresenceSet,
			},
		},
	}
}

func runPresenceList(c *cli.Context) error {
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.store.Close()

	ids, err := e.store.Presence().Members(c.Context, c.String("tenant"))
	if err != nil {
		return fmt.Errorf("failed to list presence: %w", err)
	}
	for _, id := range ids {
		fmt.Println(id)
	}
	return nil
}

func runPresenceSet(c *cli.Context) error {
	if c.NArg() != 2 {
		return errors.New("usage: deskctl presence set --tenant TENANT AGENT_ID STATUS")
	}
	e, err := connect(c)
	if err != nil {
		return err
	}
	defer e.store.Close()
	_, agents := e.services()

	agent, summary, err := agents.SetPresence(c.Context, c.String("tenant"), c.Args().Get(0), models.AgentStatus(c.Args().Get(1)))
	if err != nil {
		return fmt.Errorf("failed to set presence: %w", err)
	}
	out := map[string]any{"agent": agent}
	if summary != nil {
		out["queue"] = summary
	}
	return printJSON(out)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
