// Package relay provides a chat streaming relay. It forwards requests to an
// upstream chat provider, streams SSE responses back to the client byte for
// byte, and decodes the same bytes through chatstream.Consume so every
// finished message is persisted and announced without touching the hot path.
package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/papercomputeco/chatstream/pkg/chatstream"
	"github.com/papercomputeco/chatstream/pkg/eventstream"
	"github.com/papercomputeco/chatstream/pkg/llm"
	cslogger "github.com/papercomputeco/chatstream/pkg/logger"
	"github.com/papercomputeco/chatstream/pkg/storage"
	"github.com/papercomputeco/chatstream/pkg/utils"
	"github.com/papercomputeco/chatstream/relay/header"
	"github.com/papercomputeco/chatstream/relay/worker"
)

// Relay is a transparent chat streaming relay.
type Relay struct {
	config        Config
	extractor     llm.DeltaExtractor
	workerPool    *worker.Pool
	logger        *slog.Logger
	httpClient    *http.Client
	server        *fiber.App
	headerHandler *header.Handler
	metrics       *metrics

	// ctx outlives individual requests and is canceled by Close, which
	// aborts streams still running after the shutdown timeout.
	ctx    context.Context
	cancel context.CancelFunc

	// streams tracks relayStream goroutines still decoding.
	streams sync.WaitGroup
}

// defaultShutdownTimeout bounds how long Close waits for open client
// connections before canceling in-flight streams.
const defaultShutdownTimeout = 5 * time.Second

// New creates a new Relay. Finished streams are stored through driver and,
// when publisher is non-nil, announced on it.
func New(config Config, driver storage.Driver, publisher eventstream.Publisher, logger *slog.Logger) (*Relay, error) {
	if config.UpstreamURL == "" {
		return nil, errors.New("upstream URL is required")
	}
	if config.ProviderType == "" {
		return nil, errors.New("provider type is required")
	}

	if logger == nil {
		logger = cslogger.Nop()
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = defaultShutdownTimeout
	}

	extractor, err := llm.ExtractorFor(config.ProviderType)
	if err != nil {
		return nil, fmt.Errorf("could not create relay: %w", err)
	}

	wp, err := worker.NewPool(&worker.Config{
		Driver:     driver,
		Publisher:  publisher,
		Upstream:   config.UpstreamURL,
		NumWorkers: config.NumWorkers,
		QueueSize:  config.QueueSize,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("could not create worker pool: %w", err)
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		StreamRequestBody:     true,
	})
	app.Use(compress.New())

	ctx, cancel := context.WithCancel(context.Background())
	r := &Relay{
		config:        config,
		extractor:     extractor,
		workerPool:    wp,
		logger:        logger,
		server:        app,
		headerHandler: header.NewHandler(),
		metrics:       newMetrics(),
		ctx:           ctx,
		cancel:        cancel,
		httpClient: &http.Client{
			// Long generations stream for minutes.
			Timeout: 10 * time.Minute,
		},
	}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.SendString("ok")
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(r.metrics.registry, promhttp.HandlerOpts{})))
	app.All("/*", r.handleRelay)

	return r, nil
}

// Run starts the relay on the configured listen address.
func (r *Relay) Run() error {
	r.logger.Info("starting relay server",
		"listen", r.config.ListenAddr,
		"upstream", r.config.UpstreamURL,
		"provider", r.config.ProviderType,
	)

	return r.server.Listen(r.config.ListenAddr)
}

// RunWithListener starts the relay using the provided listener.
func (r *Relay) RunWithListener(listener net.Listener) error {
	r.logger.Info("starting relay server",
		"listen", listener.Addr().String(),
		"upstream", r.config.UpstreamURL,
		"provider", r.config.ProviderType,
	)

	return r.server.Listener(listener)
}

// Close stops the server and waits for queued transcripts to be stored.
// Streams still open after Config.ShutdownTimeout are canceled and stored as
// failed.
func (r *Relay) Close() error {
	err := r.server.ShutdownWithTimeout(r.config.ShutdownTimeout)
	if errors.Is(err, context.DeadlineExceeded) {
		r.logger.Warn("shutdown timed out, canceling in-flight streams",
			"timeout", r.config.ShutdownTimeout,
		)
		err = nil
	}
	r.cancel()
	r.streams.Wait()
	r.workerPool.Close()
	return err
}

func (r *Relay) handleRelay(c *fiber.Ctx) error {
	r.metrics.requests.Inc()

	method := c.Method()
	body := c.Body()

	var req *llm.ChatRequest
	if method == fiber.MethodPost && len(body) > 0 {
		parsed, err := llm.ParseChatRequest(body)
		if err != nil {
			r.logger.Debug("request is not a chat request", "path", c.Path(), "error", err)
		} else {
			req = parsed
		}
	}

	if req != nil && req.Stream {
		return r.handleStream(c, body, req)
	}

	return r.handlePassThrough(c, method, body)
}

// handlePassThrough forwards a request and buffers the whole response.
func (r *Relay) handlePassThrough(c *fiber.Ctx, method string, body []byte) error {
	upstreamURL := r.config.UpstreamURL + c.OriginalURL()

	var reqBody io.Reader
	if len(body) > 0 {
		reqBody = bytes.NewReader(body)
	}

	httpReq, err := http.NewRequestWithContext(c.Context(), method, upstreamURL, reqBody)
	if err != nil {
		r.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}
	r.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.metrics.upstreamErrors.WithLabelValues(upstreamUnreachable).Inc()
		r.logger.Error("upstream request failed", "url", upstreamURL, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		r.metrics.upstreamErrors.WithLabelValues(upstreamRead).Inc()
		r.logger.Error("failed to read upstream response", "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "failed to read upstream response"})
	}

	r.headerHandler.SetClientResponseHeaders(c, httpResp)
	return c.Status(httpResp.StatusCode).Send(respBody)
}

// handleStream forwards a streaming chat request. Upstream failures are
// returned to the client unchanged. A successful response is piped to the
// client while the relay decodes the same bytes into a message.
func (r *Relay) handleStream(c *fiber.Ctx, body []byte, req *llm.ChatRequest) error {
	startedAt := time.Now()
	path := c.Path()
	upstreamURL := r.config.UpstreamURL + c.OriginalURL()

	// fasthttp recycles the request context once the handler returns, while
	// the stream outlives it.
	httpReq, err := http.NewRequestWithContext(r.ctx, http.MethodPost, upstreamURL, bytes.NewReader(body))
	if err != nil {
		r.logger.Error("failed to create upstream request", "error", err)
		return c.Status(fiber.StatusInternalServerError).JSON(llm.ErrorResponse{Error: "internal error"})
	}
	r.headerHandler.SetUpstreamRequestHeaders(c, httpReq)

	httpResp, err := r.httpClient.Do(httpReq)
	if err != nil {
		r.metrics.upstreamErrors.WithLabelValues(upstreamUnreachable).Inc()
		r.logger.Error("upstream request failed", "url", upstreamURL, "error", err)
		return c.Status(fiber.StatusBadGateway).JSON(llm.ErrorResponse{Error: "upstream request failed"})
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		defer httpResp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(httpResp.Body, 1<<20))
		r.metrics.upstreamErrors.WithLabelValues(upstreamStatus).Inc()
		r.logger.Warn("upstream rejected stream",
			"status", httpResp.StatusCode,
			"body", utils.Truncate(string(respBody), 200),
		)
		r.headerHandler.SetClientResponseHeaders(c, httpResp)
		return c.Status(httpResp.StatusCode).Send(respBody)
	}

	messageID := uuid.NewString()
	r.headerHandler.SetClientResponseHeaders(c, httpResp)
	c.Set(header.MessageIDHeader, messageID)
	c.Status(httpResp.StatusCode)

	// pw.Write blocks until fasthttp has flushed the previous chunk, so the
	// client sees each upstream chunk as soon as it arrives.
	pr, pw := io.Pipe()
	r.streams.Add(1)
	go r.relayStream(httpResp, pw, req, messageID, path, startedAt)
	c.Context().Response.SetBodyStream(pr, -1)

	return nil
}

func (r *Relay) relayStream(httpResp *http.Response, pw *io.PipeWriter, req *llm.ChatRequest, messageID, path string, startedAt time.Time) {
	defer r.streams.Done()
	defer httpResp.Body.Close()
	r.metrics.streamsInFlight.Inc()
	defer r.metrics.streamsInFlight.Dec()

	counted := &countingWriter{w: pw}
	log := r.logger.With("message_id", messageID)

	opts := []chatstream.Option{
		chatstream.WithTee(counted),
		chatstream.WithExtractor(r.extractor),
		chatstream.WithMessageID(messageID),
		chatstream.WithLogger(log),
	}
	if r.config.ChunkSize > 0 {
		opts = append(opts, chatstream.WithChunkSize(r.config.ChunkSize))
	}
	if r.config.MaxPending > 0 {
		opts = append(opts, chatstream.WithMaxPending(r.config.MaxPending))
	}

	msg := chatstream.Consume(r.ctx, httpResp.Body, nil, opts...)

	// Bytes after the terminator still belong to the client.
	if msg.State == chatstream.StateCompleted {
		if _, err := io.Copy(counted, httpResp.Body); err != nil {
			log.Debug("forwarding stream tail failed", "error", err)
		}
	}
	_ = pw.Close()
	r.metrics.streamBytes.Add(float64(counted.n))

	msg.StartedAt = startedAt
	if msg.State == chatstream.StateCompleted {
		r.metrics.streams.WithLabelValues(outcomeCompleted).Inc()
	} else {
		r.metrics.streams.WithLabelValues(outcomeFailed).Inc()
	}

	log.Debug("stream relayed",
		"state", msg.State.String(),
		"preview", utils.Truncate(msg.Text, 80),
		"bytes", counted.n,
		"duration", time.Since(startedAt),
		"error", msg.Err,
	)

	t := storage.NewTranscript(r.config.ProviderType, req, msg)
	t.Path = path
	t.HTTPStatus = httpResp.StatusCode
	if !r.workerPool.Enqueue(worker.Job{Transcript: t}) {
		r.metrics.jobsDropped.Inc()
	}
}

// countingWriter counts bytes forwarded to the client.
type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}
