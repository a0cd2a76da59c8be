package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v2"

	"github.com/acmoj/polygon-importer/pkg/importer"
	"github.com/acmoj/polygon-importer/pkg/judge"
	"github.com/acmoj/polygon-importer/pkg/polygon"
	"github.com/acmoj/polygon-importer/pkg/server"
	"github.com/acmoj/polygon-importer/pkg/statement"
	"github.com/acmoj/polygon-importer/pkg/worker"
)

type options struct {
	configPath  string
	listenAddr  string
	metricsAddr string
	logLevel    string
}

func parseOptions() (*options, error) {
	o := &options{}
	flag.StringVar(&o.configPath, "config", "", "Path to the importer configuration file")
	flag.StringVar(&o.listenAddr, "listen-addr", "127.0.0.1:8080", "The address the import API listens on")
	flag.StringVar(&o.metricsAddr, "metrics-addr", "127.0.0.1:9090", "The address metrics are served on")
	flag.StringVar(&o.logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	flag.Parse()

	if o.configPath == "" {
		return nil, errors.New("--config is required")
	}
	return o, nil
}

type config struct {
	Polygon struct {
		APIKey    string `yaml:"api_key"`
		APISecret string `yaml:"api_secret"`
	} `yaml:"polygon"`
	Judge      judge.Limits `yaml:"judge"`
	DBPath     string       `yaml:"db_path"`
	DataRoot   string       `yaml:"data_root"`
	MediaRoot  string       `yaml:"media_root"`
	MediaURL   string       `yaml:"media_url"`
	Workers    int          `yaml:"workers"`
	QueueSize  int          `yaml:"queue_size"`
	JobTimeout string       `yaml:"job_timeout"`

	jobTimeout time.Duration
}

func loadConfig(path string) (*config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read config file: %w", err)
	}
	c := &config{}
	if err := yaml.UnmarshalStrict(raw, c); err != nil {
		return nil, fmt.Errorf("could not parse config file: %w", err)
	}
	if c.Polygon.APIKey == "" || c.Polygon.APISecret == "" {
		return nil, errors.New("polygon.api_key and polygon.api_secret are required")
	}
	if c.DBPath == "" || c.DataRoot == "" || c.MediaRoot == "" || c.MediaURL == "" {
		return nil, errors.New("db_path, data_root, media_root and media_url are required")
	}
	if c.Judge.DefaultLanguage == "" {
		c.Judge.DefaultLanguage = "en"
	}
	if c.Workers == 0 {
		c.Workers = 2
	}
	if c.QueueSize == 0 {
		c.QueueSize = 32
	}
	c.jobTimeout = 30 * time.Minute
	if c.JobTimeout != "" {
		timeout, err := time.ParseDuration(c.JobTimeout)
		if err != nil {
			return nil, fmt.Errorf("invalid job_timeout: %w", err)
		}
		c.jobTimeout = timeout
	}
	return c, nil
}

func main() {
	o, err := parseOptions()
	if err != nil {
		logrus.WithError(err).Fatal("failed to get options")
	}
	level, err := logrus.ParseLevel(o.logLevel)
	if err != nil {
		logrus.WithError(err).Fatal("invalid log level")
	}
	logrus.SetLevel(level)
	logger := logrus.WithField("component", "polygon-importer")

	c, err := loadConfig(o.configPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	converter, err := statement.NewPandoc()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to locate a usable pandoc")
	}

	store, err := judge.NewStore(c.DBPath)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to open the judge database")
	}
	defer store.Close()

	media := judge.NewMediaStore(afero.NewOsFs(), c.MediaRoot, c.MediaURL)
	client := polygon.NewClient(c.Polygon.APIKey, c.Polygon.APISecret)

	imp := &importer.Importer{
		Store:     store,
		Media:     media,
		Client:    client,
		Converter: converter,
		Limits:    c.Judge,
		DataRoot:  c.DataRoot,
	}
	runtime := worker.NewRuntime(c.Workers, c.QueueSize, c.jobTimeout, logger)

	apiServer := &http.Server{
		Addr:    o.listenAddr,
		Handler: server.New(store, runtime, imp, client, logger).Routes(),
	}
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: o.metricsAddr, Handler: metricsMux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return runtime.Run(ctx)
	})
	group.Go(func() error {
		logger.WithField("addr", o.listenAddr).Info("Serving import API")
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = metricsServer.Shutdown(shutdownCtx)
		return apiServer.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Fatal("Importer terminated")
	}
}
