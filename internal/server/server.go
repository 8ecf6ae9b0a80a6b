package server

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agenthands/correlator/internal/config"
	"github.com/agenthands/correlator/internal/core"
	"github.com/agenthands/correlator/internal/credentials"
	"github.com/agenthands/correlator/internal/gateway"
	"github.com/agenthands/correlator/internal/llm"
	"github.com/agenthands/correlator/internal/logging"
	"github.com/agenthands/correlator/internal/store"
)

const (
	HeaderOwnerID        = "X-Owner-ID"
	HeaderProductDataKey = "X-Product-Data-Key"
)

type Server struct {
	Engine *core.Engine
	store  store.Store
}

// New builds every collaborator from cfg and prepares the store schema.
func New(ctx context.Context, cfg *config.Config) (*Server, error) {
	s, err := store.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}

	gateways, err := gateway.NewHTTPProvider(cfg.Gateway)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("failed to configure product data gateway: %w", err)
	}

	llmClient, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	engine, err := core.NewEngine(cfg, s, gateways, credentials.NewConfigResolver(*cfg), llmClient)
	if err != nil {
		_ = s.Close(ctx)
		return nil, err
	}
	if err := engine.EnsureSchema(ctx); err != nil {
		_ = s.Close(ctx)
		return nil, err
	}

	logging.Info().
		Str("store", cfg.Store.Backend).
		Str("llm_provider", cfg.LLM.Provider).
		Str("llm_model", cfg.LLM.Model).
		Msg("engine ready")

	return &Server{Engine: engine, store: s}, nil
}

func NewWithEngine(engine *core.Engine) *Server {
	return &Server{Engine: engine, store: engine.Store}
}

func (s *Server) Close(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	return s.store.Close(ctx)
}

func (s *Server) SetupRouter() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), logging.GinMiddleware())

	r.GET("/healthz", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api", requireOwner())
	api.GET("/correlations/:identifier", s.Discover)
	api.GET("/feedback/:searchId", s.GetFeedback)
	api.POST("/feedback/:searchId", s.PostFeedback)
	api.GET("/prompt", s.GetPrompt)
	api.PUT("/prompt/enabled", s.SetPromptEnabled)
	api.POST("/prompt/regenerate", s.RegeneratePrompt)

	return r
}
