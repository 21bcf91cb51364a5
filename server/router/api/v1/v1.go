// Package v1 exposes the conversation REST API and assembles the
// pipeline behind it: AI services, travel-time oracle, retriever,
// planner, feedback engine, presenter, and the session orchestrator.
package v1

import (
	"context"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/JohnnyHuang0515/TravelAI-sub001/ai"
	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/extract"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/feedback"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/metrics"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/planner"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/present"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/retrieve"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/session"
	"github.com/JohnnyHuang0515/TravelAI-sub001/travel/traveltime"
)

// ConversationEngine is the turn surface the routes drive.
// *session.Orchestrator implements it.
type ConversationEngine interface {
	Message(ctx context.Context, sessionID, text string) (*session.TurnResult, error)
	Feedback(ctx context.Context, sessionID, text string) (*session.TurnResult, error)
	Snapshot(ctx context.Context, sessionID string) (session.Snapshot, error)
}

// SessionRegistry creates and resets sessions. *session.Manager
// implements it.
type SessionRegistry interface {
	Create(ctx context.Context) (*session.Session, error)
	Reset(ctx context.Context, id string) error
}

type APIV1Service struct {
	Profile  *profile.Profile
	Store    *store.Store
	Exporter *metrics.Exporter

	Sessions SessionRegistry
	Engine   ConversationEngine

	// Lifecycle owners, kept concrete for Shutdown.
	manager *session.Manager
	oracle  *traveltime.Oracle
}

// NewAPIV1Service assembles the pipeline from the profile. Missing AI
// credentials degrade features instead of failing startup: without a
// chat model every message turns into a clarification, without an
// embedding key retrieval runs on the structured branch alone.
func NewAPIV1Service(ctx context.Context, profile *profile.Profile, store *store.Store) *APIV1Service {
	exporter := metrics.NewExporter(metrics.DefaultConfig())

	var llmService ai.LLMService
	var embeddingService ai.EmbeddingService
	aiConfig := ai.NewConfigFromProfile(profile)
	if err := aiConfig.Validate(); err != nil {
		slog.Warn("AI config validation failed, conversational features will be degraded", "error", err)
	} else if aiConfig.Enabled {
		var err error
		llmService, err = ai.NewLLMService(&aiConfig.LLM)
		if err != nil {
			slog.Warn("Failed to initialize LLM service",
				"provider", aiConfig.LLM.Provider,
				"error", err,
				"note", "messages will be answered with clarifications only",
			)
			llmService = nil
		} else {
			slog.Info("LLM service initialized",
				"provider", aiConfig.LLM.Provider,
				"model", aiConfig.LLM.Model,
			)
			// Warm up the connection asynchronously to cut first-turn
			// latency; failures only cost the warmup.
			go func() {
				warmupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				llmService.Warmup(warmupCtx)
			}()
		}

		if aiConfig.HasEmbedding() {
			embeddingService, err = ai.NewEmbeddingService(&aiConfig.Embedding)
			if err != nil {
				slog.Warn("Failed to initialize embedding service",
					"provider", aiConfig.Embedding.Provider,
					"error", err,
					"note", "retrieval will run on the structured branch only",
				)
				embeddingService = nil
			}
		} else {
			slog.Info("Embedding not configured, semantic retrieval disabled")
		}
	} else {
		slog.Info("AI features disabled", "driver", profile.Driver)
	}

	var rdb *redis.Client
	if profile.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     profile.RedisAddr,
			Password: profile.RedisPassword,
			DB:       profile.RedisDB,
		})
	}

	var backend traveltime.Backend
	if profile.RoutingBaseURL != "" {
		backend = traveltime.NewOSRMBackend(
			profile.RoutingBaseURL,
			profile.RoutingProfile,
			time.Duration(profile.RoutingTimeout)*time.Second,
			profile.RoutingRPS,
		)
	} else {
		slog.Info("Routing backend not configured, travel times fall back to great-circle estimates")
	}
	oracle := traveltime.NewOracle(backend, rdb, exporter, traveltime.Config{
		TTL:            time.Duration(profile.TravelCacheTTL) * time.Hour,
		Capacity:       profile.TravelCacheCap,
		PeakMultiplier: profile.PeakMultiplier,
	})
	oracle.StartJanitor(ctx, time.Hour)

	weights := travel.DefaultWeightTable()
	if profile.RerankWeights != "" {
		parsed, err := travel.ParseWeightTable(profile.RerankWeights)
		if err != nil {
			slog.Warn("Invalid rerank weight table, using defaults", "error", err)
		} else {
			weights = parsed
		}
	}

	retriever := retrieve.NewRetriever(store, embeddingService, exporter, retrieve.Options{
		StructuredLimit: profile.StructuredLimit,
		SemanticLimit:   profile.SemanticLimit,
		TopK:            profile.TopK,
		RadiusM:         profile.SearchRadiusM,
		BranchTimeout:   time.Duration(profile.BranchTimeout) * time.Second,
		Weights:         weights,
		EmbeddingModel:  profile.EmbeddingModel,
	})

	hours := session.HoursLoader(store)
	travelPlanner := planner.New(oracle, retriever.RetrieveNear, hours, exporter, planner.Options{
		TravelPenalty: profile.GreedyLambda,
		WaitPenalty:   profile.GreedyMu,
		StopThreshold: profile.StopThreshold,
		TwoOptCap:     profile.TwoOptCap,
		RefillRadiusM: profile.SearchRadiusM,
	})

	extractor := extract.NewExtractor(llmService, store, nil, extract.Options{
		MaxDayCount: profile.MaxDayCount,
		Window: travel.DailyWindow{
			StartMinute: profile.DayStartMinute,
			EndMinute:   profile.DayEndMinute,
		},
	})

	feedbackEngine := feedback.NewEngine(
		feedback.NewParser(llmService, feedback.Options{}),
		travelPlanner,
		feedback.Deps{
			Travel:  oracle,
			Hours:   hours,
			Resolve: retriever.ResolveQuery,
			Store:   store,
			Metrics: exporter,
		},
		feedback.EngineOptions{SearchRadiusM: profile.SearchRadiusM},
	)

	manager := session.NewManager(store, exporter, session.ManagerOptions{
		IdleTimeout:   time.Duration(profile.SessionIdleTTL) * time.Minute,
		RevisionLimit: profile.HistoryBound,
	})
	orchestrator := session.NewOrchestrator(manager, session.Pipeline{
		Extractor: extractor,
		Retriever: retriever,
		Planner:   travelPlanner,
		Feedback:  feedbackEngine,
		Presenter: present.NewPresenter(llmService, present.Options{}),
		Travel:    oracle,
	}, store, exporter, session.Config{
		TurnDeadline: time.Duration(profile.TurnDeadline) * time.Second,
	})

	return &APIV1Service{
		Profile:  profile,
		Store:    store,
		Exporter: exporter,
		Sessions: manager,
		Engine:   orchestrator,
		manager:  manager,
		oracle:   oracle,
	}
}

// RegisterRoutes registers the session API on the echo instance.
func (s *APIV1Service) RegisterRoutes(echoServer *echo.Echo) {
	g := echoServer.Group("/api/v1")
	g.POST("/sessions", s.CreateSession)
	g.POST("/sessions/:id/messages", s.PostMessage)
	g.GET("/sessions/:id/state", s.GetSessionState)
	g.POST("/sessions/:id/reset", s.ResetSession)
	g.POST("/sessions/:id/feedback", s.PostFeedback)
	g.GET("/sessions/:id/itinerary/feed", s.GetItineraryFeed)
}

// Shutdown releases background resources: the session cleanup loop and
// the travel cache, flushed so confirmed durations survive the restart.
func (s *APIV1Service) Shutdown(ctx context.Context) {
	if s.manager != nil {
		s.manager.Shutdown()
	}
	if s.oracle != nil {
		if err := s.oracle.Flush(ctx); err != nil {
			slog.Warn("travel cache flush failed", "error", err)
		}
	}
}
