package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"archgw/internal/config"
	"archgw/internal/dispatch"
	"archgw/internal/gatewayapi"
	"archgw/internal/ingress"
	"archgw/internal/obslog"
	"archgw/internal/orchestrator"
	"archgw/internal/providers/geminiprovider"
	"archgw/internal/providers/ollamaprovider"
	"archgw/internal/providers/openaicompat"
	"archgw/internal/registry"
	"archgw/internal/router"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	obslog.Setup("info")

	sysCfg := config.DefaultSystemConfig()
	reloadCh := config.WatchConfig(ctx, sysCfg.ConfigPath)

	for {
		err := runGateway(ctx, sysCfg, reloadCh)
		if err != nil {
			slog.Error("gateway crashed or failed to load config", "error", err)
			slog.Info("waiting 5 seconds before retrying")
			select {
			case <-ctx.Done():
				return
			case <-reloadCh:
				slog.Info("configuration change detected while waiting, retrying immediately")
			case <-time.After(5 * time.Second):
			}
			continue
		}

		select {
		case <-ctx.Done():
			return
		default:
			slog.Info("configuration reloaded, rebuilding gateway")
		}
	}
}

// runGateway executes a single lifecycle of the gateway: load config,
// wire registries/dispatcher/orchestrator, serve until shutdown or
// reload, then return nil to let main's loop rebuild from scratch.
func runGateway(ctx context.Context, sysCfg *config.SystemConfig, reloadCh <-chan struct{}) error {
	cfg, err := config.Load(sysCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	obslog.Startup(sysCfg.BindAddress, sysCfg.ConfigPath)

	toolRegistry := registry.NewToolRegistry()
	toolRegistry.Load(cfg.Tools)
	for _, agent := range cfg.Agents {
		if _, err := toolRegistry.ResolveAgentTools(agent); err != nil {
			return fmt.Errorf("invalid agent configuration: %w", err)
		}
	}

	agentRegistry := registry.NewAgentRegistry()
	agentRegistry.Load(cfg.Agents)

	dispatcher := dispatch.New(time.Duration(sysCfg.DispatchTimeoutMS) * time.Millisecond)
	for _, p := range cfg.Providers {
		provider, err := buildProvider(ctx, p)
		if err != nil {
			return fmt.Errorf("failed to build provider for route %q: %w", p.Route, err)
		}
		dispatcher.RegisterProvider(p.Route, provider)
	}

	var routes []router.Route
	for _, r := range cfg.Router.Routes {
		routes = append(routes, router.Route{Name: r.Name, Description: r.Description})
	}
	routerClient := &router.Client{
		RoutingModel: cfg.Router.Model,
		Routes:       routes,
		Send: func(ctx context.Context, req gatewayapi.ChatCompletionRequest, traceparent string) (gatewayapi.ChatCompletionResponse, error) {
			return dispatcher.CallLLM(ctx, cfg.Router.Model, req)
		},
	}

	engine := &orchestrator.Engine{
		Tools:                toolRegistry,
		Agents:               agentRegistry,
		Dispatch:             dispatcher,
		FCRoute:              cfg.FunctionCallingRoute,
		Router:               routerClient,
		UseAgentOrchestrator: cfg.Overrides.UseAgentOrchestrator,
	}

	server := &ingress.Server{
		Engine:                engine,
		Agents:                agentRegistry,
		MaxBodyBytes:          sysCfg.MaxBodyBytes,
		OptimizeContextWindow: cfg.Overrides.OptimizeContextWindow,
	}

	httpServer := &http.Server{
		Addr:    sysCfg.BindAddress,
		Handler: server.Routes(),
	}

	serveErrCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErrCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		slog.Info("received shutdown signal, stopping gateway")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	case <-reloadCh:
		slog.Info("configuration change detected, stopping gateway for reload")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		return nil
	case err := <-serveErrCh:
		return err
	}
}

func buildProvider(ctx context.Context, p config.ProviderConfig) (dispatch.LLMProvider, error) {
	switch p.Type {
	case "openai":
		return openaicompat.New(p.APIKey, p.Model, p.BaseURL), nil
	case "ollama":
		return ollamaprovider.New(p.BaseURL, p.Model)
	case "gemini":
		return geminiprovider.New(ctx, p.APIKey, p.Model)
	default:
		return nil, fmt.Errorf("unknown provider type %q", p.Type)
	}
}
