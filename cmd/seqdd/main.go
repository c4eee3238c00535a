package main

import (
	"errors"
	"fmt"
	stdlog "log"
	"os"
	"runtime"

	"github.com/ardanlabs/conf/v3"
	"go.uber.org/zap"

	"github.com/seqdd/seqdd/adapter/ena"
	"github.com/seqdd/seqdd/adapter/ncbi"
	"github.com/seqdd/seqdd/adapter/sra"
	"github.com/seqdd/seqdd/adapter/url"
	"github.com/seqdd/seqdd/lib/job"
	"github.com/seqdd/seqdd/lib/orchestrator"
	"github.com/seqdd/seqdd/lib/register"
	"github.com/seqdd/seqdd/lib/source"
	"github.com/seqdd/seqdd/pkg/logger"
)

// containerNames are the register containers this engine binds to a
// source adapter. Each name doubles as the directory-format register's
// file stem ("<name>.txt").
var containerNames = []string{"ncbi", "sra", "ena", "url"}

func main() {
	// A re-exec'd FunctionJob worker never reaches normal flag parsing;
	// it is recognized by its hidden sentinel argv and dispatched here
	// before anything else runs.
	if len(os.Args) > 1 && os.Args[1] == job.WorkerArgvSentinel {
		os.Exit(job.RunWorker(os.Args[2:]))
	}

	if runtime.GOOS == "windows" {
		fmt.Fprintln(os.Stderr, "seqdd: Windows is not supported")
		os.Exit(3)
	}

	log, err := logger.New("SEQDD")
	if err != nil {
		stdlog.Fatalf("setting up logger: %v", err)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("download run failed", "error", err)
		os.Exit(1)
	}
}

type config struct {
	Register struct {
		File string `conf:"env:SEQDD_REGISTER_FILE"`
		Dir  string `conf:"env:SEQDD_REGISTER_DIR"`
	}
	Dirs struct {
		Data string `conf:"env:SEQDD_DATA_DIR,default:.seqdd/data"`
		Log  string `conf:"env:SEQDD_LOG_DIR,default:.seqdd/logs"`
		Tmp  string `conf:"env:SEQDD_TMP_DIR,default:.seqdd/tmp"`
		Bin  string `conf:"env:SEQDD_BIN_DIR,default:.seqdd/bin"`
	}
	MaxProcess int `conf:"env:SEQDD_MAX_PROCESS,default:4"`
}

func run(log *zap.SugaredLogger) error {
	log.Infow("starting download run", "configuration", "parsing")

	var cfg config
	help, err := conf.Parse("SEQDD", &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}
	cfgString, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("config to string: %w", err)
	}
	log.Infow("starting download run", "configuration\n", cfgString)

	reg, err := loadRegister(cfg)
	if err != nil {
		return err
	}

	adapters := map[string]source.Adapter{
		"ncbi": ncbi.New(cfg.Dirs.Bin, cfg.Dirs.Tmp),
		"sra":  sra.New(cfg.Dirs.Bin, cfg.Dirs.Tmp),
		"ena":  ena.New(cfg.Dirs.Tmp),
		"url":  url.New(),
	}

	containers, err := reg.Containers(adapters)
	if err != nil {
		return fmt.Errorf("binding register containers: %w", err)
	}

	orch := orchestrator.New(log)
	if err := orch.DownloadTo(containers, cfg.Dirs.Data, cfg.Dirs.Log, cfg.Dirs.Tmp, cfg.MaxProcess); err != nil {
		return fmt.Errorf("download: %w", err)
	}

	log.Infow("download run finished")
	return nil
}

// loadRegister resolves the register from either the file format or
// the directory format (mutually exclusive; the file format wins when
// both are set, since it is the canonical persisted form). When neither
// is set it returns an error; main exits with code 1 on it, as it does
// on every other error run returns.
func loadRegister(cfg config) (*register.Register, error) {
	switch {
	case cfg.Register.File != "":
		reg, err := register.LoadFile(cfg.Register.File)
		if err != nil {
			return nil, fmt.Errorf("loading register file %s: %w", cfg.Register.File, err)
		}
		return reg, nil
	case cfg.Register.Dir != "":
		reg, err := register.LoadDir(cfg.Register.Dir, containerNames)
		if err != nil {
			return nil, fmt.Errorf("loading register directory %s: %w", cfg.Register.Dir, err)
		}
		return reg, nil
	default:
		return nil, fmt.Errorf("no register found: set SEQDD_REGISTER_FILE or SEQDD_REGISTER_DIR")
	}
}
