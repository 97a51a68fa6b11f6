package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAPIURL         = "http://127.0.0.1:7860"
	defaultAPITimeout     = 300
	defaultWidth          = 1024
	defaultHeight         = 1024
	defaultSteps          = 20
	defaultCfgScale       = 7.0
	defaultSampler        = "Euler a"
	defaultSaveDir        = "generated_images"
	defaultDataDir        = "data"
	defaultMaxQueueSize   = 5
	defaultMaxRepeat      = 4
	defaultSnapshotCache  = 50
	defaultRecentWindow   = 10
	defaultRateLimit      = 3
	defaultRateWindow     = 300
	defaultMaxPromptLen   = 500
	defaultHistoryLimit   = 50
	defaultNegativePrompt = "lowres, bad anatomy, bad hands, text, error, missing fingers, " +
		"extra digit, fewer digits, cropped, worst quality, low quality, normal quality, " +
		"jpeg artifacts, signature, watermark, username, blurry"
)

var (
	ErrMissingBotToken        = errors.New("SD_BOT_TOKEN must be set")
	ErrMissingGuildID         = errors.New("SD_BOT_GUILD_ID must be set")
	ErrMissingAuthorizedUsers = errors.New("SD_BOT_AUTHORIZED_USERS must be set")
)

// Config holds every tunable of the bot, populated from environment
// variables with defaults applied.
type Config struct {
	BotToken        string
	GuildID         string
	AuthorizedUsers []string

	APIURL     string
	APITimeout time.Duration

	DefaultWidth          int
	DefaultHeight         int
	DefaultSteps          int
	DefaultCfgScale       float64
	DefaultSampler        string
	DefaultNegativePrompt string

	SaveDir string
	DataDir string

	MaxQueueSize    int
	MaxRepeat       int
	SnapshotCache   int
	RecentWindow    int
	RateLimit       int
	RateWindow      time.Duration
	MaxPromptLength int
	HistoryLimit    int
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getIntEnv(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	parsed, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return parsed, nil
}

func getFloatEnv(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}

	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}

	return parsed, nil
}

// Load reads the full configuration from the environment. Credentials and the
// allow-list have no defaults and are required.
func Load() (*Config, error) {
	cfg := &Config{
		BotToken: os.Getenv("SD_BOT_TOKEN"),
		GuildID:  os.Getenv("SD_BOT_GUILD_ID"),

		APIURL: strings.TrimRight(getEnv("SD_BOT_API_URL", defaultAPIURL), "/"),

		DefaultSampler:        getEnv("SD_BOT_SAMPLER", defaultSampler),
		DefaultNegativePrompt: getEnv("SD_BOT_NEGATIVE_PROMPT", defaultNegativePrompt),

		SaveDir: getEnv("SD_BOT_SAVE_DIR", defaultSaveDir),
		DataDir: getEnv("SD_BOT_DATA_DIR", defaultDataDir),
	}

	if cfg.BotToken == "" {
		return nil, ErrMissingBotToken
	}

	if cfg.GuildID == "" {
		return nil, ErrMissingGuildID
	}

	for _, id := range strings.Split(os.Getenv("SD_BOT_AUTHORIZED_USERS"), ",") {
		id = strings.TrimSpace(id)
		if id != "" {
			cfg.AuthorizedUsers = append(cfg.AuthorizedUsers, id)
		}
	}

	if len(cfg.AuthorizedUsers) == 0 {
		return nil, ErrMissingAuthorizedUsers
	}

	var err error

	apiTimeout, err := getIntEnv("SD_BOT_API_TIMEOUT", defaultAPITimeout)
	if err != nil {
		return nil, err
	}

	cfg.APITimeout = time.Duration(apiTimeout) * time.Second

	if cfg.DefaultWidth, err = getIntEnv("SD_BOT_WIDTH", defaultWidth); err != nil {
		return nil, err
	}

	if cfg.DefaultHeight, err = getIntEnv("SD_BOT_HEIGHT", defaultHeight); err != nil {
		return nil, err
	}

	if cfg.DefaultSteps, err = getIntEnv("SD_BOT_STEPS", defaultSteps); err != nil {
		return nil, err
	}

	if cfg.DefaultCfgScale, err = getFloatEnv("SD_BOT_CFG_SCALE", defaultCfgScale); err != nil {
		return nil, err
	}

	if cfg.MaxQueueSize, err = getIntEnv("SD_BOT_MAX_QUEUE_SIZE", defaultMaxQueueSize); err != nil {
		return nil, err
	}

	if cfg.MaxRepeat, err = getIntEnv("SD_BOT_MAX_REPEAT", defaultMaxRepeat); err != nil {
		return nil, err
	}

	if cfg.SnapshotCache, err = getIntEnv("SD_BOT_SNAPSHOT_CACHE_SIZE", defaultSnapshotCache); err != nil {
		return nil, err
	}

	if cfg.RecentWindow, err = getIntEnv("SD_BOT_RECENT_WINDOW", defaultRecentWindow); err != nil {
		return nil, err
	}

	if cfg.RateLimit, err = getIntEnv("SD_BOT_RATE_LIMIT", defaultRateLimit); err != nil {
		return nil, err
	}

	rateWindow, err := getIntEnv("SD_BOT_RATE_WINDOW", defaultRateWindow)
	if err != nil {
		return nil, err
	}

	cfg.RateWindow = time.Duration(rateWindow) * time.Second

	if cfg.MaxPromptLength, err = getIntEnv("SD_BOT_MAX_PROMPT_LENGTH", defaultMaxPromptLen); err != nil {
		return nil, err
	}

	if cfg.HistoryLimit, err = getIntEnv("SD_BOT_HISTORY_LIMIT", defaultHistoryLimit); err != nil {
		return nil, err
	}

	return cfg, nil
}
