// Package servecmder provides the serve command, which runs the streaming
// relay.
package servecmder

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chatstream/api"
	"github.com/papercomputeco/chatstream/pkg/config"
	"github.com/papercomputeco/chatstream/pkg/eventstream"
	"github.com/papercomputeco/chatstream/pkg/eventstream/kafka"
	"github.com/papercomputeco/chatstream/pkg/eventstream/nop"
	"github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/storage"
	storageutils "github.com/papercomputeco/chatstream/pkg/storage/utils"
	"github.com/papercomputeco/chatstream/relay"
)

type serveCommander struct {
	configDir string

	listen     string
	upstream   string
	provider   string
	chunkSize  uint
	maxPending uint

	apiListen string

	storageDriver string
	sqlitePath    string
	postgresDSN   string

	kafkaBrokers []string
	kafkaTopic   string

	debug   bool
	jsonLog bool
	logFile string

	errOut io.Writer
	logger *slog.Logger

	// listener and apiListener, when set, replace listening on c.listen
	// and c.apiListen.
	listener    net.Listener
	apiListener net.Listener
}

var serveFlags = []string{
	config.FlagRelayListen,
	config.FlagRelayUpstream,
	config.FlagRelayProvider,
	config.FlagChunkSize,
	config.FlagMaxPending,
	config.FlagAPIListen,
	config.FlagStorageDriver,
	config.FlagSQLite,
	config.FlagPostgres,
	config.FlagKafkaBrokers,
	config.FlagKafkaTopic,
}

const serveLongDesc string = `Run the streaming relay.

The relay forwards every request to the upstream chat provider. Streaming
chat requests are piped back to the client unchanged while the relay
decodes the same bytes; each finished message is stored as a transcript
and, when Kafka brokers are configured, announced as a
chatstream.message.completed event.

Storage drivers: memory, sqlite, postgres. Without --storage, sqlite is used
when --sqlite is set and memory otherwise.

Operational endpoints on the relay:
  GET /healthz      liveness
  GET /metrics      relay counters (Prometheus)

The transcript API listens on --api-listen (empty disables it):
  GET /v1/transcripts        newest first (?limit, ?provider)
  GET /v1/transcripts/:id    one transcript
  GET /v1/stats              counts by state and provider
  POST /mcp                  MCP tools transcripts_list and transcript_get

Examples:
  chatstream serve --upstream https://api.openai.com
  chatstream serve --provider anthropic --upstream https://api.anthropic.com
  chatstream serve --storage sqlite --sqlite ./transcripts.db
  chatstream serve --kafka-brokers localhost:9092`

const serveShortDesc string = "Run the streaming relay"

func NewServeCmd() *cobra.Command {
	cmder := &serveCommander{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			cmder.configDir, _ = cmd.Flags().GetString("config-dir")
			v, err := config.InitViper(cmder.configDir)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			config.BindRegisteredFlags(v, cmd, config.Flags, serveFlags)

			cfg := config.FromViper(v)
			cmder.listen = cfg.Relay.Listen
			cmder.upstream = cfg.Relay.Upstream
			cmder.provider = cfg.Relay.Provider
			cmder.chunkSize = cfg.Stream.ChunkSize
			cmder.maxPending = cfg.Stream.MaxPendingBytes
			cmder.apiListen = cfg.API.Listen
			cmder.storageDriver = cfg.Storage.Driver
			cmder.sqlitePath = cfg.Storage.SQLitePath
			cmder.postgresDSN = cfg.Storage.PostgresDSN
			cmder.kafkaBrokers = cfg.Events.KafkaBrokers
			cmder.kafkaTopic = cfg.Events.KafkaTopic
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			var err error
			cmder.debug, err = cmd.Flags().GetBool("debug")
			if err != nil {
				return fmt.Errorf("could not get debug flag: %w", err)
			}
			cmder.errOut = cmd.ErrOrStderr()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			return cmder.run(ctx)
		},
	}

	config.AddStringFlag(cmd, config.Flags, config.FlagRelayListen, &cmder.listen)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelayUpstream, &cmder.upstream)
	config.AddStringFlag(cmd, config.Flags, config.FlagRelayProvider, &cmder.provider)
	config.AddUintFlag(cmd, config.Flags, config.FlagChunkSize, &cmder.chunkSize)
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxPending, &cmder.maxPending)
	config.AddStringFlag(cmd, config.Flags, config.FlagAPIListen, &cmder.apiListen)
	config.AddStringFlag(cmd, config.Flags, config.FlagStorageDriver, &cmder.storageDriver)
	config.AddStringFlag(cmd, config.Flags, config.FlagSQLite, &cmder.sqlitePath)
	config.AddStringFlag(cmd, config.Flags, config.FlagPostgres, &cmder.postgresDSN)
	config.AddStringSliceFlag(cmd, config.Flags, config.FlagKafkaBrokers, &cmder.kafkaBrokers)
	config.AddStringFlag(cmd, config.Flags, config.FlagKafkaTopic, &cmder.kafkaTopic)
	cmd.Flags().BoolVar(&cmder.jsonLog, "json-log", false, "Log as JSON instead of pretty text")
	cmd.Flags().StringVar(&cmder.logFile, "log-file", "", "Also append JSON logs to this file")

	return cmd
}

func (c *serveCommander) run(ctx context.Context) error {
	c.logger = logger.New(
		logger.WithDebug(c.debug),
		logger.WithPretty(!c.jsonLog),
		logger.WithJSON(c.jsonLog),
		logger.WithWriter(c.errOut),
	)
	if c.logFile != "" {
		f, err := os.OpenFile(c.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		defer f.Close()

		c.logger = logger.Multi(c.logger, logger.New(
			logger.WithDebug(c.debug),
			logger.WithJSON(true),
			logger.WithSource(c.debug),
			logger.WithWriter(f),
		))
	}

	driver, err := c.newStorageDriver(ctx)
	if err != nil {
		return err
	}
	defer driver.Close()

	publisher, err := c.newPublisher()
	if err != nil {
		return err
	}
	defer publisher.Close()

	r, err := relay.New(relay.Config{
		ListenAddr:   c.listen,
		UpstreamURL:  c.upstream,
		ProviderType: c.provider,
		ChunkSize:    int(c.chunkSize),
		MaxPending:   int(c.maxPending),
	}, driver, publisher, c.logger)
	if err != nil {
		return fmt.Errorf("creating relay: %w", err)
	}

	errChan := make(chan error, 2)
	go func() {
		if c.listener != nil {
			errChan <- r.RunWithListener(c.listener)
			return
		}
		errChan <- r.Run()
	}()

	var apiServer *api.Server
	if c.apiListen != "" || c.apiListener != nil {
		apiServer = api.NewServer(api.Config{ListenAddr: c.apiListen}, driver, c.logger)
		go func() {
			if c.apiListener != nil {
				errChan <- apiServer.RunWithListener(c.apiListener)
				return
			}
			errChan <- apiServer.Run()
		}()
	}
	shutdown := func() error {
		if apiServer != nil {
			if err := apiServer.Shutdown(); err != nil {
				c.logger.Warn("api shutdown error", "error", err)
			}
		}
		return r.Close()
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errChan:
		_ = shutdown()
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
		c.logger.Info("shutting down relay")
		return shutdown()
	}
}

func (c *serveCommander) newStorageDriver(ctx context.Context) (storage.Driver, error) {
	return storageutils.NewDriver(ctx, &storageutils.NewDriverOpts{
		Driver:      c.storageDriver,
		SQLitePath:  c.sqlitePath,
		PostgresDSN: c.postgresDSN,
		ConfigDir:   c.configDir,
		Logger:      c.logger,
	})
}

// newPublisher returns a no-op publisher when no brokers are configured.
func (c *serveCommander) newPublisher() (eventstream.Publisher, error) {
	if len(c.kafkaBrokers) == 0 {
		c.logger.Info("event publishing disabled")
		return nop.NewPublisher(), nil
	}

	pub, err := kafka.NewPublisher(kafka.Config{
		Brokers: c.kafkaBrokers,
		Topic:   c.kafkaTopic,
	})
	if err != nil {
		return nil, fmt.Errorf("creating kafka publisher: %w", err)
	}
	c.logger.Info("publishing message events to kafka",
		"brokers", c.kafkaBrokers,
		"topic", c.kafkaTopic,
	)
	return pub, nil
}
