package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/quantmatrix/taskplane/internal/catalog"
	"github.com/quantmatrix/taskplane/internal/data"
	"github.com/quantmatrix/taskplane/internal/service"
)

const defaultScheduleTimeout = 2 * time.Minute

// importActor stamps audit fields on schedules written through the CLI.
const importActor = "taskplane-admin"

type seedOptions struct {
	Force bool
	Yes   bool
}

type exportOptions struct {
	Out string
}

type importOptions struct {
	In  string
	Yes bool
}

// scheduleExportFile is the on-disk export format, matching the admin
// API's export/import payload.
type scheduleExportFile struct {
	Schedules []service.ExportedSchedule `json:"schedules"`
	Count     int                        `json:"count"`
}

func runSeed(cmdCtx *commandContext, args []string) error {
	opts, err := parseSeedFlags(args)
	if err != nil {
		return err
	}

	if opts.Force {
		confirmOpts := seedConfirmOptions{yes: opts.Yes}
		if confirmErr := confirmAction(confirmOpts, "overwrite the schedule registry"); confirmErr != nil {
			return confirmErr
		}
	}

	return withSchedules(cmdCtx, scheduleDeps{WantRedis: true}, func(ctx context.Context, deps *scheduleRuntime) error {
		seeder := catalog.NewSeeder(catalog.SeederOptions{
			Registry: deps.Registry,
			Metadata: deps.Metadata,
			Logger:   cmdCtx.Logger,
		})

		count, seedErr := seeder.Seed(ctx, opts.Force)
		if seedErr != nil {
			return fmt.Errorf("seed catalog: %w", seedErr)
		}

		return writef(os.Stdout, "Seeded %d schedules into the registry.\n", count)
	})
}

func runList(cmdCtx *commandContext, args []string) error {
	if len(args) > 0 {
		return fmt.Errorf("list takes no arguments, got %d", len(args))
	}

	return withSchedules(cmdCtx, scheduleDeps{WantDB: true, WantRedis: true}, func(ctx context.Context, deps *scheduleRuntime) error {
		views, err := deps.Schedules.List(ctx)
		if err != nil {
			return fmt.Errorf("list schedules: %w", err)
		}

		return printScheduleTable(os.Stdout, views)
	})
}

func runExport(cmdCtx *commandContext, args []string) error {
	opts, err := parseExportFlags(args)
	if err != nil {
		return err
	}

	return withSchedules(cmdCtx, scheduleDeps{WantRedis: true}, func(ctx context.Context, deps *scheduleRuntime) error {
		schedules, exportErr := deps.Schedules.Export(ctx)
		if exportErr != nil {
			return fmt.Errorf("export schedules: %w", exportErr)
		}

		payload, marshalErr := json.MarshalIndent(scheduleExportFile{
			Schedules: schedules,
			Count:     len(schedules),
		}, "", "  ")
		if marshalErr != nil {
			return fmt.Errorf("encode export: %w", marshalErr)
		}
		payload = append(payload, '\n')

		if opts.Out == "" || opts.Out == "-" {
			return write(os.Stdout, string(payload))
		}

		if writeErr := os.WriteFile(opts.Out, payload, 0o600); writeErr != nil {
			return fmt.Errorf("write export file: %w", writeErr)
		}
		return writef(os.Stderr, "Exported %d schedules to %s.\n", len(schedules), opts.Out)
	})
}

func runImport(cmdCtx *commandContext, args []string) error {
	opts, err := parseImportFlags(args)
	if err != nil {
		return err
	}

	payload, err := readImportPayload(opts.In)
	if err != nil {
		return err
	}

	var file scheduleExportFile
	if err := json.Unmarshal(payload, &file); err != nil {
		return fmt.Errorf("decode import payload: %w", err)
	}
	if len(file.Schedules) == 0 {
		return errors.New("import payload holds no schedules")
	}

	confirmOpts := importConfirmOptions{yes: opts.Yes, count: len(file.Schedules)}
	if confirmErr := confirmAction(confirmOpts, "import schedules"); confirmErr != nil {
		return confirmErr
	}

	return withSchedules(cmdCtx, scheduleDeps{WantRedis: true}, func(ctx context.Context, deps *scheduleRuntime) error {
		created, failed, importErr := deps.Schedules.Import(ctx, file.Schedules, importActor)
		if importErr != nil {
			return fmt.Errorf("import schedules: %w", importErr)
		}

		if err := writef(os.Stdout, "Imported %d schedules (%d failed).\n", created, failed); err != nil {
			return err
		}
		if failed > 0 {
			return fmt.Errorf("%d schedules failed to import; see logs for details", failed)
		}
		return nil
	})
}

func readImportPayload(path string) ([]byte, error) {
	if path == "" || path == "-" {
		payload, err := io.ReadAll(os.Stdin)
		if err != nil {
			return nil, fmt.Errorf("read import payload from stdin: %w", err)
		}
		return payload, nil
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read import file: %w", err)
	}
	return payload, nil
}

func printScheduleTable(w io.Writer, views []service.ScheduleView) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	if err := writeln(tw, "NAME\tTASK\tCRON\tTIMEZONE\tSTATUS\tLAST RUN"); err != nil {
		return err
	}
	for _, view := range views {
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			view.Entry.Name,
			view.Entry.Task,
			view.Entry.Cron,
			view.Entry.Timezone,
			view.Status,
			renderLastRun(view),
		); err != nil {
			return err
		}
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush schedule table: %w", err)
	}
	return writef(w, "\n%d schedules.\n", len(views))
}

func renderLastRun(view service.ScheduleView) string {
	run := view.LastRun
	if run == nil {
		return "-"
	}
	when := run.StartedAt
	if run.FinishedAt != nil {
		when = *run.FinishedAt
	}
	return fmt.Sprintf("%s (%s)", run.Status, when.UTC().Format(time.RFC3339))
}

// scheduleDeps controls which stores a schedule command connects.
type scheduleDeps struct {
	WantDB    bool
	WantRedis bool
}

// scheduleRuntime bundles the connected repositories and service.
type scheduleRuntime struct {
	Registry  *data.ScheduleRegistryRepo
	Metadata  *data.ScheduleMetadataRepo
	Schedules *service.ScheduleService
}

func withSchedules(
	cmdCtx *commandContext,
	wants scheduleDeps,
	f func(context.Context, *scheduleRuntime) error,
) error {
	ctx, stop := signal.NotifyContext(cmdCtx.Ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(ctx, defaultScheduleTimeout)
	defer cancel()

	db, redisClient, err := connectInfraWithOptions(&connectInfraOptions{
		Logger:    cmdCtx.Logger,
		Config:    &cmdCtx.Config,
		WantDB:    wants.WantDB,
		WantRedis: wants.WantRedis,
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := closeInfra(db, redisClient); closeErr != nil {
			cmdCtx.Logger.Warn("close infrastructure failed", "error", closeErr)
		}
	}()

	if wants.WantRedis && redisClient == nil {
		return errors.New("redis is required for schedule commands; set REDIS_URI")
	}

	return f(ctx, buildScheduleRuntime(db, redisClient, cmdCtx))
}

func buildScheduleRuntime(db *sql.DB, redisClient redis.UniversalClient, cmdCtx *commandContext) *scheduleRuntime {
	registry := data.NewScheduleRegistryRepo(redisClient)
	metadata := data.NewScheduleMetadataRepo(redisClient)

	opts := service.ScheduleServiceOptions{
		Registry: registry,
		Metadata: metadata,
		Queue:    data.NewDispatchQueueRepo(redisClient),
		Logger:   cmdCtx.Logger,
	}
	if db != nil {
		opts.Runs = data.NewRunRepo(db, data.RunRepoConfig{Logger: cmdCtx.Logger})
	}

	return &scheduleRuntime{
		Registry:  registry,
		Metadata:  metadata,
		Schedules: service.NewScheduleService(opts),
	}
}

func parseSeedFlags(args []string) (seedOptions, error) {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts seedOptions
	fs.BoolVar(&opts.Force, "force", false, "Overwrite a non-empty registry with the factory catalog")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return seedOptions{}, err
	}
	return opts, nil
}

func parseExportFlags(args []string) (exportOptions, error) {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts exportOptions
	fs.StringVar(&opts.Out, "out", "", "Destination file (default stdout)")

	if err := fs.Parse(args); err != nil {
		return exportOptions{}, err
	}
	return opts, nil
}

func parseImportFlags(args []string) (importOptions, error) {
	fs := flag.NewFlagSet("import", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	var opts importOptions
	fs.StringVar(&opts.In, "in", "", "Source file (default stdin)")
	fs.BoolVar(&opts.Yes, "yes", false, "Skip confirmation prompt")

	if err := fs.Parse(args); err != nil {
		return importOptions{}, err
	}
	return opts, nil
}

type seedConfirmOptions struct {
	yes bool
}

func (s seedConfirmOptions) IsDryRun() bool { return false }
func (s seedConfirmOptions) IsYes() bool    { return s.yes }
func (s seedConfirmOptions) GetTarget() string {
	return "the schedule registry"
}

func (s seedConfirmOptions) GetWarning() string {
	return "WARNING: forcing a seed replaces every registered schedule with the factory catalog."
}

type importConfirmOptions struct {
	yes   bool
	count int
}

func (i importConfirmOptions) IsDryRun() bool { return false }
func (i importConfirmOptions) IsYes() bool    { return i.yes }
func (i importConfirmOptions) GetTarget() string {
	return fmt.Sprintf("%d schedules", i.count)
}

func (i importConfirmOptions) GetWarning() string {
	return "WARNING: importing overwrites schedules that share a name with the payload."
}
