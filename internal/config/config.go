package config

import (
	"os"
	"strconv"

	"github.com/duskcourt/loupgarou-engine/internal/engine"
)

// Config is the operator-tunable surface of §6: store/cache/queue
// connection settings, observability toggles, and the default rules
// and timeouts a newly created game starts with.
type Config struct {
	DBDSN          string
	RedisAddr      string
	RabbitMQURL    string
	SnapshotInterval int64
	PrometheusAddr string
	TraceStdout    bool

	DefaultRules  engine.Rules
	DefaultConfig engine.GameConfig
}

func getEnv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func getEnvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return i
}

func getEnvInt64(key string, def int64) int64 {
	return int64(getEnvInt(key, int(def)))
}

func getEnvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func Load() Config {
	defaultRules := engine.DefaultRules()
	defaultGameConfig := engine.DefaultGameConfig()

	return Config{
		DBDSN:            getEnv("DB_DSN", "root:password@tcp(localhost:3316)/loupgarou?parseTime=true&multiStatements=true&charset=utf8mb4&collation=utf8mb4_unicode_ci"),
		RedisAddr:        getEnv("REDIS_ADDR", "localhost:6389"),
		RabbitMQURL:      getEnv("RABBITMQ_URL", ""),
		SnapshotInterval: getEnvInt64("SNAPSHOT_INTERVAL", 50),
		PrometheusAddr:   getEnv("PROM_ADDR", ":9090"),
		TraceStdout:      getEnvBool("TRACE_STDOUT", true),

		DefaultRules: engine.Rules{
			MinPlayers:       getEnvInt("RULES_MIN_PLAYERS", defaultRules.MinPlayers),
			MaxPlayers:       getEnvInt("RULES_MAX_PLAYERS", defaultRules.MaxPlayers),
			WolfWinCondition: getEnv("RULES_WOLF_WIN_CONDITION", defaultRules.WolfWinCondition),
		},
		DefaultConfig: engine.GameConfig{
			NightRoleMs:             getEnvInt64("TIMEOUT_NIGHT_ROLE_MS", defaultGameConfig.NightRoleMs),
			DeliberationMs:          getEnvInt64("TIMEOUT_DELIBERATION_MS", defaultGameConfig.DeliberationMs),
			VoteMs:                  getEnvInt64("TIMEOUT_VOTE_MS", defaultGameConfig.VoteMs),
			CaptainVoteMs:           getEnvInt64("TIMEOUT_CAPTAIN_VOTE_MS", defaultGameConfig.CaptainVoteMs),
			SkipFakePhases:          getEnvBool("SKIP_FAKE_PHASES", defaultGameConfig.SkipFakePhases),
			DisableVoiceMute:        getEnvBool("DISABLE_VOICE_MUTE", defaultGameConfig.DisableVoiceMute),
			DuplicateIntentWindowMs: getEnvInt64("DUPLICATE_INTENT_WINDOW_MS", defaultGameConfig.DuplicateIntentWindowMs),
			MaxHistory:              getEnvInt("MAX_HISTORY", defaultGameConfig.MaxHistory),
		},
	}
}
