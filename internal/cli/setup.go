package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/me/cmdbase/internal/config"
	"github.com/me/cmdbase/internal/journal"
	"github.com/me/cmdbase/internal/robot"
	"github.com/me/cmdbase/internal/store"
	"github.com/me/cmdbase/pkg/command"
	"github.com/me/cmdbase/pkg/model"
)

// newLoop builds a robot loop from the loaded settings.
func newLoop(c config.Config, logger *slog.Logger, opts ...robot.Option) *robot.Loop {
	rc := robot.Config{
		Period:   c.Robot.Period,
		Watchdog: c.Robot.Watchdog,
		Mode:     model.RobotMode(c.Robot.Mode),
	}
	opts = append(opts, robot.WithSchedulerOptions(
		command.WithPanicPolicy(c.PanicPolicy()),
		command.WithStrictReschedule(c.Scheduler.StrictReschedule),
	))
	return robot.NewLoop(rc, logger, opts...)
}

// openJournal opens and migrates the journal database at path.
func openJournal(ctx context.Context, path string, logger *slog.Logger) (*store.SQLiteStore, error) {
	st, err := store.NewSQLiteStore(path, logger)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if err := st.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrate journal: %w", err)
	}
	logger.Debug("journal ready", "path", path)
	return st, nil
}

// attachJournal records l's lifecycle events into st.
func attachJournal(l *robot.Loop, st store.Store, logger *slog.Logger) *journal.Recorder {
	rec := journal.NewRecorder(st, logger)
	rec.AttachLoop(l)
	return rec
}
