// coagent - interactive agent REPL with planned, batched tool execution
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/gliderlab/coagent/agent"
	"github.com/gliderlab/coagent/memory"
	"github.com/gliderlab/coagent/pkg/config"
	"github.com/gliderlab/coagent/pkg/kv"
	"github.com/gliderlab/coagent/pkg/llm"
	"github.com/gliderlab/coagent/pkg/llm/factory"
	"github.com/gliderlab/coagent/storage"
	"github.com/gliderlab/coagent/tools"
	"github.com/gliderlab/coagent/workers"
)

const systemPrompt = `You are a capable assistant with access to tools for files,
shell commands, web access, a database and long-term memory. Use tools when they
help; independent tool calls may run concurrently.`

func main() {
	configPath := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	log.Printf("Starting coagent (provider=%s model=%s session=%s)", cfg.Provider, cfg.Model, cfg.SessionKey)

	if err := os.MkdirAll(cfg.Workspace, 0755); err != nil {
		log.Fatalf("workspace: %v", err)
	}

	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("storage init failed: %v", err)
	}
	defer store.Close()

	cache, err := kv.Open(kv.DefaultOptions(cfg.KVDir))
	if err != nil {
		log.Printf("[WARN] kv cache unavailable, continuing without: %v", err)
	}
	if cache != nil {
		defer cache.Close()
	}

	memStore, err := memory.New(cfg.DBPath, memory.Config{
		APIKey:          cfg.APIKey,
		EmbeddingModel:  cfg.EmbeddingModel,
		EmbeddingServer: cfg.EmbeddingServer,
	})
	if err != nil {
		log.Printf("[WARN] memory store unavailable: %v", err)
	}
	if memStore != nil {
		defer memStore.Close()
	}

	registry := buildRegistry(cfg, store, cache, memStore)

	ctx := context.Background()
	provider, err := factory.New(ctx, llm.Config{
		Type:    llm.ProviderType(cfg.Provider),
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
		Timeout: int(cfg.HTTPTimeout.Std().Seconds()),
	})
	if err != nil {
		log.Fatalf("provider init failed: %v", err)
	}

	var backups *workers.Worker
	if cfg.BackupInterval > 0 {
		backups = workers.New(workers.Config{
			Store:    store,
			Cache:    cache,
			Dir:      cfg.BackupDir,
			Interval: cfg.BackupInterval.Std(),
			Keep:     5,
		})
		backups.Start()
		defer backups.Stop()
	}

	agentCfg := agent.Config{
		Provider:            provider,
		Registry:            registry,
		Store:               store,
		Memory:              memStore,
		SessionKey:          cfg.SessionKey,
		Model:               cfg.Model,
		SystemPrompt:        systemPrompt,
		Workspace:           cfg.Workspace,
		Workers:             cfg.Workers,
		Temperature:         cfg.Temperature,
		MaxTokens:           cfg.MaxTokens,
		MaxToolDepth:        cfg.MaxToolDepth,
		ContextTokens:       cfg.ContextTokens,
		ReserveTokens:       cfg.ReserveTokens,
		CompactionThreshold: cfg.CompactionThreshold,
		KeepMessages:        cfg.KeepMessages,
		RecallLimit:         cfg.RecallLimit,
		RecallMinScore:      cfg.RecallMinScore,
	}
	if backups != nil {
		agentCfg.Backups = backups
	}
	a := agent.New(agentCfg)

	repl(a)
}

// buildRegistry registers the full tool catalog
func buildRegistry(cfg *config.AgentConfig, store *storage.Storage, cache *kv.KV, memStore *memory.Store) *tools.Registry {
	registry := tools.NewRegistry()

	root := cfg.Workspace
	registry.Register(&tools.ReadTool{Root: root})
	registry.Register(&tools.WriteTool{Root: root})
	registry.Register(&tools.AppendTool{Root: root})
	registry.Register(&tools.EditTool{Root: root})
	registry.Register(&tools.ListTool{Root: root})
	registry.Register(&tools.CopyTool{Root: root})
	registry.Register(&tools.MoveTool{Root: root})
	registry.Register(&tools.DeleteTool{Root: root})

	registry.Register(&tools.ExecTool{Root: root})
	registry.Register(tools.NewProcessTool(root))

	registry.Register(&tools.WebSearchTool{Cache: cache})
	registry.Register(&tools.WebFetchTool{Cache: cache})

	registry.Register(tools.NewDBQueryTool(store))

	if memStore != nil {
		registry.Register(tools.NewMemorySearchTool(memStore, cfg.RecallLimit, cfg.RecallMinScore))
		registry.Register(tools.NewMemorySaveTool(memStore))
	}

	return registry
}

// repl reads user turns from stdin. SIGINT cancels the in-flight turn;
// running tool batches drain before the turn returns.
func repl(a *agent.Agent) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	fmt.Println("coagent ready. Type a message, or 'exit' to quit.")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			fmt.Println()
			return
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			return
		}

		turnCtx, cancel := context.WithCancel(context.Background())
		done := make(chan struct{})
		go func() {
			select {
			case sig := <-sigCh:
				if sig == syscall.SIGTERM {
					cancel()
					os.Exit(0)
				}
				log.Printf("[WARN] interrupt: cancelling turn at next batch boundary")
				cancel()
			case <-done:
			}
		}()

		reply, err := a.Chat(turnCtx, input)
		close(done)
		cancel()

		if err != nil {
			log.Printf("[ERROR] turn failed: %v", err)
			continue
		}
		fmt.Println(reply)
	}
}
