package commands

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cowork-ai/cowork/internal/auth"
	"github.com/cowork-ai/cowork/internal/classify"
	"github.com/cowork-ai/cowork/internal/config"
	"github.com/cowork-ai/cowork/internal/event"
	"github.com/cowork-ai/cowork/internal/logging"
	"github.com/cowork-ai/cowork/internal/provider"
	"github.com/cowork-ai/cowork/internal/registry"
	"github.com/cowork-ai/cowork/internal/server"
	"github.com/cowork-ai/cowork/internal/session"
	"github.com/cowork-ai/cowork/internal/storage"
	"github.com/cowork-ai/cowork/internal/tool"
)

var serveFlags struct {
	host     string
	port     int
	workDir  string
	logLevel string
	logFile  bool
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the agent server",
	RunE: func(cmd *cobra.Command, args []string) error {
		workDir := serveFlags.workDir
		if workDir == "" {
			cwd, err := os.Getwd()
			if err != nil {
				return err
			}
			workDir = cwd
		}

		cfg, err := config.Load(workDir)
		if err != nil {
			return err
		}
		if serveFlags.host != "" {
			cfg.Host = serveFlags.host
		}
		if serveFlags.port != 0 {
			cfg.Port = serveFlags.port
		}
		if serveFlags.logLevel != "" {
			cfg.LogLevel = serveFlags.logLevel
		}

		logging.Init(logging.Config{
			Level:     logging.ParseLevel(cfg.LogLevel),
			Pretty:    true,
			LogToFile: serveFlags.logFile,
		})
		defer logging.Close()

		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		store, err := storage.Open(filepath.Join(home, ".cowork", "sessions.db"))
		if err != nil {
			return err
		}
		defer store.Close()

		authStore, err := auth.NewStore(home)
		if err != nil {
			return err
		}

		providers := buildProviders(cfg, authStore)
		tools, err := buildTools(cfg)
		if err != nil {
			return err
		}

		bus := event.NewBus()
		defer bus.Close()

		sessions := registry.New(session.Deps{
			Bus:        bus,
			Store:      store,
			Providers:  providers,
			Tools:      tools,
			Classifier: classify.New(cfg.DenyCommands),
		})

		srv := server.New(cfg, sessions, providers, tools, authStore, bus)

		stopWatch, err := config.Watch(workDir, func(next *config.Config) {
			logging.Info().Msg("configuration changed; restart the server to apply it")
		})
		if err == nil {
			defer stopWatch()
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		return srv.Start(ctx)
	},
}

// buildProviders wires every provider that has a credential from any
// source: config, auth store, or environment.
func buildProviders(cfg *config.Config, authStore *auth.Store) *provider.Registry {
	providers := provider.NewRegistry()

	key := func(id string) string {
		if k := cfg.APIKeys[id]; k != "" {
			return k
		}
		if conn, ok := authStore.Get(id); ok {
			return conn.APIKey
		}
		return ""
	}

	if k := key("anthropic"); k != "" {
		providers.Register(provider.NewAnthropicProvider(k))
	}
	if k := key("openai"); k != "" {
		providers.Register(provider.NewOpenAIProvider(k))
	}
	if k := key("google"); k != "" {
		providers.Register(provider.NewGoogleProvider(k))
	}
	return providers
}

// buildTools registers the full tool set.
func buildTools(cfg *config.Config) (*tool.Registry, error) {
	reg := tool.NewRegistry()
	for _, t := range []tool.Tool{
		tool.NewShellTool(),
		tool.NewReadTool(),
		tool.NewWriteTool(),
		tool.NewEditTool(),
		tool.NewGlobTool(),
		tool.NewGrepTool(),
		tool.NewWebSearchTool(),
		tool.NewWebFetchTool(),
		tool.NewAskTool(),
		tool.NewTodoWriteTool(),
		tool.NewNotebookEditTool(),
		tool.NewSkillTool(config.SkillDirs(cfg.WorkingDirectory)),
		tool.NewMemoryTool(config.MemoryRoot()),
		tool.NewSpawnAgentTool(),
	} {
		if err := reg.Register(t); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

func init() {
	serveCmd.Flags().StringVar(&serveFlags.host, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVar(&serveFlags.port, "port", 0, "listen port (default from config)")
	serveCmd.Flags().StringVarP(&serveFlags.workDir, "dir", "d", "", "session working directory (default cwd)")
	serveCmd.Flags().StringVar(&serveFlags.logLevel, "log-level", "", "log level: debug, info, warn, error")
	serveCmd.Flags().BoolVar(&serveFlags.logFile, "log-file", false, "also log to a file")
}
