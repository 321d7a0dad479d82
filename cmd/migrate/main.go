// Command migrate manages the PostgreSQL schema of the sync service.
package main

import (
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/konozy/ordersync/internal/infrastructure/config"
	"github.com/konozy/ordersync/internal/infrastructure/logger"
	"github.com/konozy/ordersync/internal/infrastructure/migration"
	"github.com/konozy/ordersync/migrations"
)

const defaultMigrationsPath = "migrations"

var errUsage = errors.New("usage")

// options are the parsed global flags
type options struct {
	path string
	log  *zap.Logger
}

// source returns the migration files: the -path directory, else the
// migrations compiled into the binary.
func (o options) source() fs.FS {
	if o.path == "" {
		return migrations.FS
	}
	return os.DirFS(o.path)
}

func (o options) sourceName() string {
	if o.path == "" {
		return "embedded"
	}
	return o.path
}

// schemaCommand runs against an open migrator
type schemaCommand func(m *migration.Migrator, args []string, log *zap.Logger) error

var schemaCommands = map[string]schemaCommand{
	"up":      func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Up() },
	"down":    func(m *migration.Migrator, _ []string, _ *zap.Logger) error { return m.Down() },
	"step":    runStep,
	"version": runVersion,
	"force":   runForce,
}

func main() {
	path := flag.String("path", "", "Migrations directory (default: the migrations built into the binary)")
	level := flag.String("log-level", "info", "Log level (debug, info, warn, error)")
	flag.Usage = printUsage
	flag.Parse()

	log := logger.New(config.LogConfig{Level: *level, Format: "console", Output: "stdout"})
	defer func() { _ = log.Sync() }()

	err := run(options{path: *path, log: log}, flag.Args())
	switch {
	case err == nil:
	case errors.Is(err, errUsage):
		log.Error("Invalid invocation", zap.Error(err))
		printUsage()
		os.Exit(2)
	default:
		log.Error("Migration command failed", zap.Error(err))
		os.Exit(1)
	}
}

func run(opts options, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: missing command", errUsage)
	}
	name, rest := args[0], args[1:]
	opts.log.Info("Migration CLI started",
		zap.String("command", name),
		zap.String("migrations_path", opts.sourceName()),
	)

	switch name {
	case "create":
		return runCreate(opts, rest)
	case "list":
		return runList(opts)
	}

	cmd, ok := schemaCommands[name]
	if !ok {
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}

	m, err := openMigrator(opts)
	if err != nil {
		return err
	}
	// closes the database too
	defer func() { _ = m.Close() }()

	return cmd(m, rest, opts.log)
}

// openMigrator connects with the configured database. The migrator owns
// the connection.
func openMigrator(opts options) (*migration.Migrator, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if cfg.Database.Driver != "postgres" {
		return nil, fmt.Errorf("driver %q has no migrations, sqlite tables are created on startup", cfg.Database.Driver)
	}

	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	var m *migration.Migrator
	if opts.path == "" {
		m, err = migration.New(db, migrations.FS, opts.log)
	} else {
		m, err = migration.NewFromPath(db, opts.path, opts.log)
	}
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return m, nil
}

func runCreate(opts options, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("%w: create needs a migration name", errUsage)
	}
	dir := opts.path
	if dir == "" {
		dir = defaultMigrationsPath
	}
	var description string
	if len(args) > 1 {
		description = args[1]
	}

	mf, err := migration.CreateMigration(dir, args[0], description)
	if err != nil {
		return err
	}
	opts.log.Info("Migration created",
		zap.Uint("version", mf.Version),
		zap.String("up_file", mf.UpPath),
		zap.String("down_file", mf.DownPath),
	)
	return nil
}

func runList(opts options) error {
	entries, err := migration.ListMigrations(opts.source())
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		opts.log.Info("No migrations found")
		return nil
	}
	for _, e := range entries {
		fmt.Println(e)
	}
	return nil
}

func runStep(m *migration.Migrator, args []string, _ *zap.Logger) error {
	n, err := intArg(args, "step count")
	if err != nil {
		return err
	}
	return m.Steps(n)
}

func runVersion(m *migration.Migrator, _ []string, log *zap.Logger) error {
	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	if version == 0 {
		log.Info("No migrations applied")
		return nil
	}
	log.Info("Schema version", zap.Uint("version", version), zap.Bool("dirty", dirty))
	return nil
}

func runForce(m *migration.Migrator, args []string, _ *zap.Logger) error {
	version, err := intArg(args, "version")
	if err != nil {
		return err
	}
	return m.Force(version)
}

func intArg(args []string, what string) (int, error) {
	if len(args) == 0 {
		return 0, fmt.Errorf("%w: %s required", errUsage, what)
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s %q", errUsage, what, args[0])
	}
	return n, nil
}

func printUsage() {
	fmt.Fprint(os.Stderr, `Schema migrations for the Konozy order sync service.

Usage:
  migrate [-path dir] [-log-level level] <command> [arguments]

Commands:
  up                    apply pending migrations
  down                  roll back every migration
  step <n>              move n migrations (negative rolls back)
  version               print the applied version
  force <version>       mark a version applied, clearing a dirty state
  create <name> [desc]  write an up/down file pair into -path (default ./migrations)
  list                  list the migrations in the source

The database comes from config.toml or KONOZY_DATABASE_HOST, _PORT, _USER,
_PASSWORD, _DBNAME and _SSLMODE.
`)
}
