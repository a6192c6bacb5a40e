package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/leadbot/internal/api"
	"github.com/kalambet/leadbot/internal/category"
	"github.com/kalambet/leadbot/internal/classify"
	"github.com/kalambet/leadbot/internal/config"
	"github.com/kalambet/leadbot/internal/dedup"
	"github.com/kalambet/leadbot/internal/delivery"
	"github.com/kalambet/leadbot/internal/heuristics"
	"github.com/kalambet/leadbot/internal/ingest"
	"github.com/kalambet/leadbot/internal/metrics"
	"github.com/kalambet/leadbot/internal/ollama"
	"github.com/kalambet/leadbot/internal/pipeline"
	"github.com/kalambet/leadbot/internal/proxy"
	"github.com/kalambet/leadbot/internal/storage"
	"github.com/kalambet/leadbot/internal/subscriber"
	"github.com/kalambet/leadbot/internal/supervisor"
	"github.com/kalambet/leadbot/internal/telegram"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the lead pipeline (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running leadbot server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "leadbot.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

// ensureAPIToken generates and stores a bearer token on first start.
func ensureAPIToken(cfg *config.Config) error {
	if cfg.Server.APIToken != "" {
		return nil
	}
	token := uuid.NewString()
	if err := config.SetKey("server.api_token", token); err != nil {
		return err
	}
	cfg.Server.APIToken = token
	slog.Info("generated API bearer token and stored it in the secrets file")
	return nil
}

// buildProviders assembles the classification chain in call order: the
// OpenRouter models, then OpenAI, then a local Ollama model.
func buildProviders(ctx context.Context, cfg config.Config) ([]classify.Provider, error) {
	var providers []classify.Provider
	p := cfg.Providers

	if p.OpenRouter.APIKey != "" {
		or := proxy.NewClientWithBaseURL(p.OpenRouter.APIKey, p.OpenRouter.BaseURL)
		if p.OpenRouter.Enabled {
			providers = append(providers, classify.NewChatProvider("openrouter", p.OpenRouter.Model, or, classify.PrimaryCapFunc, p.OpenRouter.Timeout))
		}
		for _, fb := range []struct {
			name string
			pc   config.ProviderConfig
		}{
			{"deepseek", p.DeepSeek},
			{"glm", p.GLM},
			{"oss", p.OSS},
		} {
			if fb.pc.Enabled {
				providers = append(providers, classify.NewChatProvider(fb.name, fb.pc.Model, or, nil, p.OpenRouter.Timeout))
			}
		}
	}

	if p.OpenAI.Enabled && p.OpenAI.APIKey != "" {
		oa := proxy.NewClientWithBaseURL(p.OpenAI.APIKey, p.OpenAI.BaseURL)
		providers = append(providers, classify.NewChatProvider("openai", p.OpenAI.Model, oa, nil, p.OpenAI.Timeout))
	}

	if p.Ollama.Enabled {
		oc := ollama.New(p.Ollama.BaseURL)
		if err := ollama.EnsureReady(ctx, oc, p.Ollama.Model, os.Stderr); err != nil {
			return nil, fmt.Errorf("preparing ollama: %w", err)
		}
		providers = append(providers, classify.NewOllamaProvider(p.Ollama.Model, oc))
	}

	if len(providers) == 0 {
		return nil, errors.New("no classification provider available")
	}
	return providers, nil
}

func allowedChats(cfg config.Config) (map[int64]bool, error) {
	ids, err := cfg.AllowedChatIDs()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m, nil
}

func runServer() error {
	fmt.Fprintf(os.Stderr, "leadbot version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := setupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := ensureAPIToken(&cfg); err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port)); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		return fmt.Errorf("server already running on port %d", cfg.Server.Port)
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer os.Remove(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	counters := metrics.New()
	defer counters.Log(logger)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing storage", "error", err)
		}
	}()

	queue := store.Queue(storage.QueueOptions{Capacity: cfg.Queue.Capacity, Logger: logger})
	if cfg.Queue.ClearOnStart {
		n, err := queue.Clear(ctx)
		if err != nil {
			return fmt.Errorf("clearing queue: %w", err)
		}
		logger.Info("queue cleared on start", "items", n)
	}

	catalog, err := category.Open(cfg.Categories.Path, logger)
	if err != nil {
		return fmt.Errorf("loading categories: %w", err)
	}

	subs, err := subscriber.Open(ctx, cfg.Subscribers.Backend, cfg.Subscribers.Path, cfg.Subscribers.PostgresDSN)
	if err != nil {
		return fmt.Errorf("opening subscribers: %w", err)
	}
	defer subs.Close()

	// The HTTP timeout must outlast a long poll.
	tgOpts := telegram.Options{
		BaseURL:  cfg.Telegram.APIURL,
		ProxyURL: cfg.Telegram.ProxyURL,
		Timeout:  time.Duration(cfg.Telegram.PollTimeout)*time.Second + 15*time.Second,
	}
	sender, err := telegram.New(cfg.Telegram.BotToken, tgOpts)
	if err != nil {
		return fmt.Errorf("creating sender client: %w", err)
	}
	listenerBot := sender
	separateListener := cfg.ListenerToken() != cfg.Telegram.BotToken
	if separateListener {
		if listenerBot, err = telegram.New(cfg.ListenerToken(), tgOpts); err != nil {
			return fmt.Errorf("creating listener client: %w", err)
		}
	}

	notifier := delivery.NewAdminNotifier(sender, cfg.Telegram.AdminID, 0, 0, logger)

	connOpts := supervisor.Options{
		Logger: logger,
		OnFatal: func(name string, err error) {
			notifier.Notify(context.Background(), fmt.Sprintf("⛔ Соединение %s остановлено: %v", name, err))
		},
	}
	senderConn := supervisor.NewConnection("sender", "sender", sender, connOpts)
	listenerConn := senderConn
	group := supervisor.NewGroup(senderConn)
	if separateListener {
		listenerConn = supervisor.NewConnection("listener", "listener", listenerBot, connOpts)
		group.Add(listenerConn)
	}
	if err := group.ConnectAll(ctx); err != nil {
		return fmt.Errorf("connecting to telegram: %w", err)
	}
	defer group.DisconnectAll()

	me, err := listenerBot.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("resolving listener identity: %w", err)
	}
	selfUsername := cfg.Telegram.SelfUsername
	if selfUsername == "" {
		selfUsername = me.Username
	}

	providers, err := buildProviders(ctx, cfg)
	if err != nil {
		return err
	}
	thresholds := classify.Thresholds{Deliver: cfg.Classify.DeliverThreshold, Discard: cfg.Classify.DiscardThreshold}
	classifier := classify.New(classify.Options{
		Providers:  providers,
		Cache:      classify.NewCache(cfg.Classify.CacheTTL, cfg.Classify.CacheSize, nil),
		Timeout:    cfg.Classify.Timeout,
		RPS:        cfg.Classify.RPS,
		Thresholds: thresholds,
		Logger:     logger,
		OnExhausted: func(attempts []classify.Attempt) {
			counters.Inc("providers_exhausted")
			names := make([]string, len(attempts))
			for i, a := range attempts {
				names[i] = a.Provider
			}
			notifier.Notify(context.Background(), "⚠️ Все AI-провайдеры недоступны: "+strings.Join(names, ", "))
		},
	})
	logger.Info("classification chain ready", "providers", strings.Join(classifier.Providers(), ","))

	routerOpts := delivery.RouterOptions{
		TargetBotID:      cfg.Telegram.TargetBotID,
		SendDisabled:     !cfg.Delivery.SendNotifications,
		NotifySendErrors: cfg.Delivery.NotifySendErrors,
		Thresholds:       thresholds,
		Notifier:         notifier,
		Metrics:          counters,
		Logger:           logger,
	}
	if brokers := cfg.KafkaBrokers(); len(brokers) > 0 {
		exporter, err := delivery.NewKafkaExporter(brokers, cfg.Kafka.Topic)
		if err != nil {
			return fmt.Errorf("connecting to kafka: %w", err)
		}
		defer exporter.Close()
		routerOpts.Exporter = exporter
		logger.Info("lead export enabled", "brokers", strings.Join(brokers, ","), "topic", cfg.Kafka.Topic)
	}
	router := delivery.NewRouter(sender, subs, catalog, routerOpts)

	var (
		reviewer  pipeline.Reviewer
		callbacks ingest.CallbackHandler
		decider   api.ReviewDecider
	)
	if cfg.Delivery.AdminReview && cfg.Telegram.AdminID != 0 {
		desk := delivery.NewReviewDesk(store, sender, router, subs, cfg.Telegram.AdminID, logger)
		reviewer, callbacks, decider = desk, desk, desk
	}

	allowed, err := allowedChats(cfg)
	if err != nil {
		return err
	}
	proc := pipeline.New(pipeline.Deps{
		Dedup:       dedup.New(time.Duration(cfg.Dedup.WindowSeconds)*time.Second, cfg.Dedup.MaxSize),
		Regions:     heuristics.NewRegionCache(),
		Catalog:     catalog,
		Classifier:  classifier,
		Subscribers: subs,
		Router:      router,
		Reviewer:    reviewer,
	}, pipeline.Options{
		SelfID:           me.ID,
		SelfUsername:     selfUsername,
		AllowedChats:     allowed,
		IgnoreBotSenders: cfg.Pipeline.IgnoreBotSenders,
		Metrics:          counters,
		Logger:           logger,
	})

	listeners := []*ingest.Listener{ingest.NewListener(listenerBot, ingest.ListenerOptions{
		Queue:       queue,
		Callbacks:   callbacks,
		IsCallback:  delivery.IsReviewCallback,
		PollTimeout: cfg.Telegram.PollTimeout,
		Conn:        listenerConn,
		Metrics:     counters,
		Logger:      logger.With("bot", "listener"),
	})}
	if separateListener {
		// Review buttons are pressed on messages the sender bot posted.
		listeners = append(listeners, ingest.NewListener(sender, ingest.ListenerOptions{
			Callbacks:   callbacks,
			IsCallback:  delivery.IsReviewCallback,
			PollTimeout: cfg.Telegram.PollTimeout,
			Conn:        senderConn,
			Metrics:     counters,
			Logger:      logger.With("bot", "sender"),
		}))
	}

	pool := ingest.NewPool(queue, proc, ingest.PoolOptions{
		Workers:  cfg.Pipeline.Workers,
		Notifier: notifier,
		Metrics:  counters,
		Logger:   logger,
	})

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr: addr,
		Handler: api.NewHandler(api.Deps{
			Queue:       queue,
			Reviews:     store,
			Desk:        decider,
			Classifier:  classifier,
			Connections: group,
			Catalog:     catalog,
			Metrics:     counters,
			Token:       cfg.Server.APIToken,
			Logger:      logger,
		}),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}

	g, gctx := errgroup.WithContext(ctx)
	group.StartMonitoring(gctx, supervisor.DefaultMonitorEvery)
	g.Go(func() error {
		catalog.Watch(gctx, cfg.Categories.ReloadInterval)
		return nil
	})
	g.Go(func() error {
		retention := time.Duration(cfg.Queue.RetentionDays) * 24 * time.Hour
		queue.Maintain(gctx, cfg.Queue.CleanupInterval, cfg.Queue.StaleAfter, retention)
		return nil
	})
	for _, l := range listeners {
		g.Go(func() error { return l.Run(gctx) })
	}
	g.Go(func() error { return pool.Run(gctx) })
	g.Go(func() error {
		logger.Info("operator API listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return fmt.Errorf("leadbot is not running (no PID file): %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("could not find process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		os.Remove(pidPath)
		return fmt.Errorf("could not stop leadbot (PID %d): %w", pid, err)
	}

	printSuccess("Sent stop signal to leadbot (PID %d)", pid)
	return nil
}
