package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"coursekb/config"
	"coursekb/internal/domain"
	"coursekb/internal/usecase"
	"coursekb/pkg/logger"
)

var (
	cfgFile     string
	cfg         *config.Config
	rootDir     string
	courseID    string
	logLevel    string
	metricsAddr string

	metricsServer *http.Server
)

var rootCmd = &cobra.Command{
	Use:   "coursekb",
	Short: "Index, promote and search course content",
	Long: `coursekb chunks course chapters, embeds them into a per-course draft
collection, promotes reviewed chapters into the online collection and answers
queries against either of them.

Example usage:
  coursekb index ./python --course python         # Index a course directory
  coursekb query -q "list comprehension" --course python
  coursekb sync --course python --all             # Promote every indexed chapter
  coursekb eval --course python --cases cases.yaml`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error

		if rootDir == "" {
			rootDir, err = os.Getwd()
			if err != nil {
				return fmt.Errorf("failed to get working directory: %w", err)
			}
		}

		if cfgFile != "" {
			cfg, err = config.Load(cfgFile)
		} else {
			cfg, err = config.LoadFromDir(rootDir)
		}
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		logger.Init(cfg.Logging.Level, cfg.Logging.Format)

		if metricsAddr == "" && cfg.Metrics.Enabled {
			metricsAddr = cfg.Metrics.Addr
		}
		if metricsAddr != "" {
			startMetricsServer(cmd.Context(), metricsAddr)
		}
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if metricsServer == nil {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return metricsServer.Shutdown(ctx)
	},
}

func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", describe(err))
		os.Exit(exitCode(err))
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./coursekb.yaml)")
	rootCmd.PersistentFlags().StringVarP(&rootDir, "dir", "d", "", "workspace directory (default is current directory)")
	rootCmd.PersistentFlags().StringVarP(&courseID, "course", "c", "", "course ID")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
}

func GetConfig() *config.Config {
	return cfg
}

func GetRootDir() string {
	return rootDir
}

// openService builds the use cases for the workspace. Callers close it.
func openService(ctx context.Context) (*usecase.Service, error) {
	svc, err := usecase.NewService(ctx, GetConfig(), GetRootDir())
	if err != nil {
		return nil, fmt.Errorf("failed to initialise: %w", err)
	}
	return svc, nil
}

func requireCourse() error {
	if courseID == "" {
		return fmt.Errorf("--course is required")
	}
	return nil
}

func startMetricsServer(ctx context.Context, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "metrics server failed", err, "addr", addr)
		}
	}()
	logger.Info(ctx, "serving metrics", "addr", addr)
}

// describe adds the error kind so scripts can tell a busy course from a
// broken configuration.
func describe(err error) string {
	kind := domain.Classify(err)
	if kind == domain.KindLock {
		return fmt.Sprintf("course is already being indexed (%v)", err)
	}
	return fmt.Sprintf("%v [%s]", err, kind)
}

func exitCode(err error) int {
	switch domain.Classify(err) {
	case domain.KindConfig:
		return 2
	case domain.KindLock:
		return 3
	case domain.KindPartialSync:
		return 4
	}
	return 1
}
