// junad is the turn orchestration daemon: it owns the session gateway, the
// turn engine, the capability router and the background cache sync.
package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	orchestration "github.com/junavoice/juna-core/core"
	"github.com/junavoice/juna-core/core/cachesync"
	"github.com/junavoice/juna-core/core/gateway"
	"github.com/junavoice/juna-core/core/llms/openai"
	"github.com/junavoice/juna-core/core/router"
	"github.com/junavoice/juna-core/core/speechtotext/deepgram"
	"github.com/junavoice/juna-core/internal/config"
	"github.com/junavoice/juna-core/internal/localmem"
	"github.com/junavoice/juna-core/internal/store"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	rootCmd := &cobra.Command{
		Use:           "junad",
		Short:         "Juna turn orchestration daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			return serve(cfg)
		},
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config file")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	})
	return rootCmd
}

func serve(cfg *config.Config) error {
	db, err := store.Open(cfg.Store.Path)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer db.Close()

	timezone, err := time.LoadLocation(cfg.Turn.Timezone)
	if err != nil {
		return fmt.Errorf("load timezone %q: %w", cfg.Turn.Timezone, err)
	}

	cache := cachesync.NewLayer(db)
	toolRouter := router.New(router.Providers{
		Memory:  localmem.NewMemoryProvider(),
		Profile: localmem.NewProfileProvider(),
	}, cache, db)

	server := gateway.NewServer(headerAuthorizer())
	if cfg.Deepgram.APIKey != "" {
		server = gateway.NewServer(headerAuthorizer(), gateway.WithTranscriberFactory(func() gateway.Transcriber {
			return deepgram.NewTranscriptionClient(cfg.Deepgram.APIKey)
		}))
	}

	engineOpts := []orchestration.EngineOption{
		orchestration.WithEventHandler(server.HandleEvent),
		orchestration.WithTurnTimeout(time.Duration(cfg.Turn.TimeoutSeconds) * time.Second),
		orchestration.WithConfirmationTimeout(time.Duration(cfg.Turn.ConfirmationTimeoutSeconds) * time.Second),
		orchestration.WithUserTimezone(timezone),
	}
	if cfg.Model.APIKey != "" {
		model := openai.NewClient(cfg.Model.APIKey,
			openai.WithBaseURL(cfg.Model.BaseURL),
			openai.WithModel(cfg.Model.Name),
		)
		engineOpts = append(engineOpts,
			orchestration.WithClassifier(model),
			orchestration.WithStreamingResponder(model),
		)
	}
	engine := orchestration.NewEngine(db, toolRouter, engineOpts...)
	server.SetEngine(engine)

	scheduler := cachesync.NewScheduler(cache, func() []string { return cfg.Sync.Identities })
	if err := scheduler.Start(cfg.Sync.Schedule); err != nil {
		return fmt.Errorf("start sync scheduler: %w", err)
	}
	defer scheduler.Stop()

	mux := http.NewServeMux()
	mux.Handle("/v1/session", server)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	httpServer := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()
	fmt.Printf("junad listening on %s\n", addr)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-stop:
		return httpServer.Close()
	}
}

// headerAuthorizer trusts the upstream proxy to authenticate and forwards
// its identity headers. Connections without them are rejected.
func headerAuthorizer() gateway.Authorizer {
	return func(r *http.Request) (string, string, error) {
		sessionID := r.Header.Get("X-Session-ID")
		identity := r.Header.Get("X-Identity")
		if sessionID == "" || identity == "" {
			return "", "", fmt.Errorf("missing session or identity header")
		}
		return sessionID, identity, nil
	}
}
