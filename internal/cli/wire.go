package cli

import (
	"io"
	"log"
	"os"

	"github.com/typhonci/typhon/internal/action"
	"github.com/typhonci/typhon/internal/build"
	"github.com/typhonci/typhon/internal/config"
	"github.com/typhonci/typhon/internal/core"
	"github.com/typhonci/typhon/internal/eval"
)

// wireKernel loads configuration and constructs the kernel Context with
// the real external drivers. Callers own the returned Context and must
// Shutdown it.
func (a *App) wireKernel() (*core.Context, *config.Config, error) {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return nil, nil, err
	}

	logger := log.New(io.Discard, "", 0)
	if a.verbose || cfg.LogLevel == "debug" {
		logger = log.New(os.Stderr, "typhon: ", log.LstdFlags)
	}

	kernel, err := core.New(core.Options{
		DBPath:      cfg.DBPath,
		Evaluator:   eval.NewDriver(cfg.EvalCommand),
		Builder:     build.NewExecBuilder(cfg.BuildCommand),
		Runner:      action.NewDriver(),
		BusCapacity: cfg.BusCapacity,
		Logger:      logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return kernel, cfg, nil
}
