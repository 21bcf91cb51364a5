package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the main server.
type Profile struct {
	// Unified LLM configuration (OpenAI-compatible protocol).
	// The extractor and the reply generator share one provider.
	LLMProvider string // Provider identifier: zai, deepseek, openai, siliconflow, dashscope, openrouter, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has default per provider
	LLMModel    string
	LLMTimeout  int // LLM request timeout in seconds (default: 60)

	// Embedding configuration for the semantic retrieval branch.
	EmbeddingProvider string
	EmbeddingModel    string
	EmbeddingAPIKey   string
	EmbeddingBaseURL  string
	EmbeddingDim      int

	// Routing backend (travel-time oracle).
	RoutingBaseURL  string  // OSRM-compatible endpoint; empty means great-circle estimates only
	RoutingProfile  string  // driving, walking, cycling
	RoutingTimeout  int     // seconds per backend call
	RoutingRPS      int     // client-side request rate cap
	PeakMultiplier  float64 // time-of-day duration scale (1.0 = off)
	TravelCacheTTL  int     // hours a cached duration stays valid
	TravelCacheCap  int     // LRU entry cap
	RedisAddr       string  // optional L2 duration cache; empty disables
	RedisPassword   string
	RedisDB         int

	// Retrieval and ranking.
	StructuredLimit int     // structured branch candidate cap
	SemanticLimit   int     // semantic branch candidate cap
	TopK            int     // candidates surviving rerank
	SearchRadiusM   float64 // default spatial radius around the anchor
	BranchTimeout   int     // seconds per retrieval branch
	RerankWeights   string  // optional JSON weight table keyed by pace

	// Planner.
	MaxDayCount    int
	DayStartMinute int
	DayEndMinute   int
	GreedyLambda   float64 // utility penalty per travel minute
	GreedyMu       float64 // utility penalty per wait minute
	StopThreshold  float64 // marginal utility floor once the pace target is met
	TwoOptCap      int
	RepairDepth    int

	// Conversation.
	TurnDeadline   int // seconds per turn
	SessionIdleTTL int // minutes before an idle session is evicted
	HistoryBound   int // itinerary versions retained per session

	// Server.
	Mode        string
	Addr        string
	Port        int
	Data        string
	Driver      string
	DSN         string
	Version     string
	InstanceURL string
}

// Provider default configurations for LLM.
// Used when TRAVELAI_LLM_BASE_URL is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"zai": {
		BaseURL: "https://open.bigmodel.cn/api/paas/v4",
		Model:   "glm-4.7",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"dashscope": {
		BaseURL: "https://dashscope.aliyuncs.com/compatible-mode/v1",
		Model:   "qwen-max-latest",
	},
	"openrouter": {
		BaseURL: "https://openrouter.ai/api/v1",
		Model:   "deepseek/deepseek-chat",
	},
	"ollama": {
		BaseURL: "http://localhost:11434",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsAIEnabled returns true if an LLM API key is configured.
// Without it the conversational surface degrades to an error prompt.
func (p *Profile) IsAIEnabled() bool {
	return p.LLMAPIKey != ""
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	// Unified LLM configuration
	p.LLMProvider = getEnvOrDefault("TRAVELAI_LLM_PROVIDER", "openai")
	p.LLMAPIKey = getEnvOrDefault("TRAVELAI_LLM_API_KEY", "")
	p.LLMBaseURL = getEnvOrDefault("TRAVELAI_LLM_BASE_URL", "")
	p.LLMModel = getEnvOrDefault("TRAVELAI_LLM_MODEL", "")
	p.LLMTimeout = getEnvOrDefaultInt("TRAVELAI_LLM_TIMEOUT_SECONDS", 60)

	// Validate and apply provider defaults if not explicitly set
	if p.LLMProvider != "" {
		if _, ok := llmProviderDefaults[p.LLMProvider]; !ok {
			slog.Warn("Unknown LLM provider, using default: openai", "provider", p.LLMProvider)
			p.LLMProvider = "openai"
		}
	}
	if p.LLMBaseURL == "" || p.LLMModel == "" {
		if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
			if p.LLMBaseURL == "" {
				p.LLMBaseURL = defaults.BaseURL
			}
			if p.LLMModel == "" {
				p.LLMModel = defaults.Model
			}
		}
	}

	// Embedding configuration
	p.EmbeddingProvider = getEnvOrDefault("TRAVELAI_EMBEDDING_PROVIDER", "siliconflow")
	p.EmbeddingModel = getEnvOrDefault("TRAVELAI_EMBEDDING_MODEL", "BAAI/bge-m3")
	p.EmbeddingAPIKey = getEnvOrDefault("TRAVELAI_EMBEDDING_API_KEY", "")
	p.EmbeddingBaseURL = getEnvOrDefault("TRAVELAI_EMBEDDING_BASE_URL", "https://api.siliconflow.cn/v1")
	p.EmbeddingDim = getEnvOrDefaultInt("TRAVELAI_EMBEDDING_DIM", 1024)

	// Routing backend
	p.RoutingBaseURL = getEnvOrDefault("TRAVELAI_ROUTING_BASE_URL", "")
	p.RoutingProfile = getEnvOrDefault("TRAVELAI_ROUTING_PROFILE", "driving")
	p.RoutingTimeout = getEnvOrDefaultInt("TRAVELAI_ROUTING_TIMEOUT_SECONDS", 5)
	p.RoutingRPS = getEnvOrDefaultInt("TRAVELAI_ROUTING_RPS", 10)
	p.PeakMultiplier = getEnvOrDefaultFloat("TRAVELAI_ROUTING_PEAK_MULTIPLIER", 1.0)
	p.TravelCacheTTL = getEnvOrDefaultInt("TRAVELAI_TRAVEL_CACHE_TTL_HOURS", 168)
	p.TravelCacheCap = getEnvOrDefaultInt("TRAVELAI_TRAVEL_CACHE_CAP", 100000)
	p.RedisAddr = getEnvOrDefault("TRAVELAI_REDIS_ADDR", "")
	p.RedisPassword = getEnvOrDefault("TRAVELAI_REDIS_PASSWORD", "")
	p.RedisDB = getEnvOrDefaultInt("TRAVELAI_REDIS_DB", 0)

	// Retrieval and ranking
	p.StructuredLimit = getEnvOrDefaultInt("TRAVELAI_RETRIEVAL_STRUCTURED_LIMIT", 128)
	p.SemanticLimit = getEnvOrDefaultInt("TRAVELAI_RETRIEVAL_SEMANTIC_LIMIT", 128)
	p.TopK = getEnvOrDefaultInt("TRAVELAI_RETRIEVAL_TOP_K", 64)
	p.SearchRadiusM = getEnvOrDefaultFloat("TRAVELAI_SEARCH_RADIUS_M", 15000)
	p.BranchTimeout = getEnvOrDefaultInt("TRAVELAI_RETRIEVAL_BRANCH_TIMEOUT_SECONDS", 3)
	p.RerankWeights = getEnvOrDefault("TRAVELAI_RERANK_WEIGHTS", "")

	// Planner
	p.MaxDayCount = getEnvOrDefaultInt("TRAVELAI_PLANNER_MAX_DAYS", 14)
	p.DayStartMinute = getEnvOrDefaultInt("TRAVELAI_PLANNER_DAY_START_MINUTE", 540)
	p.DayEndMinute = getEnvOrDefaultInt("TRAVELAI_PLANNER_DAY_END_MINUTE", 1260)
	p.GreedyLambda = getEnvOrDefaultFloat("TRAVELAI_PLANNER_LAMBDA", 0.005)
	p.GreedyMu = getEnvOrDefaultFloat("TRAVELAI_PLANNER_MU", 0.003)
	p.StopThreshold = getEnvOrDefaultFloat("TRAVELAI_PLANNER_STOP_THRESHOLD", 0.05)
	p.TwoOptCap = getEnvOrDefaultInt("TRAVELAI_PLANNER_TWO_OPT_CAP", 64)
	p.RepairDepth = getEnvOrDefaultInt("TRAVELAI_PLANNER_REPAIR_DEPTH", 6)

	// Conversation
	p.TurnDeadline = getEnvOrDefaultInt("TRAVELAI_TURN_DEADLINE_SECONDS", 20)
	p.SessionIdleTTL = getEnvOrDefaultInt("TRAVELAI_SESSION_IDLE_TTL_MINUTES", 30)
	p.HistoryBound = getEnvOrDefaultInt("TRAVELAI_HISTORY_BOUND", 10)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver != "postgres" && p.Driver != "sqlite" {
		return errors.Errorf("unsupported database driver %q", p.Driver)
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "travelai")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/travelai"
		}
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", dataDir), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("travelai_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("dsn required for postgres driver")
	}

	if p.DayStartMinute < 0 || p.DayEndMinute > 1440 || p.DayStartMinute >= p.DayEndMinute {
		return errors.Errorf("invalid default daily window [%d, %d]", p.DayStartMinute, p.DayEndMinute)
	}
	if p.MaxDayCount < 1 {
		p.MaxDayCount = 1
	}
	if p.TopK < 1 {
		p.TopK = 64
	}
	if p.TurnDeadline < 1 {
		p.TurnDeadline = 20
	}

	return nil
}
