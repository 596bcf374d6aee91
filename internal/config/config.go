package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string `mapstructure:"mode"`
	Port       int    `mapstructure:"port"`
	StaticPath string `mapstructure:"static_path"`
	Secret     string `mapstructure:"secret"`

	RTC   RTCConfig   `mapstructure:"rtc"`
	Agent AgentConfig `mapstructure:"agent"`
}

// RTCConfig holds the realtime-platform app identity and the secrets used
// for token minting and provider API auth. AppCertificate never leaves the
// server process.
type RTCConfig struct {
	AppID          string        `mapstructure:"app_id"`
	AppCertificate string        `mapstructure:"app_certificate"`
	APIKey         string        `mapstructure:"api_key"`
	APISecret      string        `mapstructure:"api_secret"`
	TokenTTL       time.Duration `mapstructure:"token_ttl"`
}

// AgentConfig is the process-wide conversational-AI provider configuration.
// Everything here is static; per-request data is only channel/uid/token.
type AgentConfig struct {
	BaseURL        string        `mapstructure:"base_url"`
	AgentUID       string        `mapstructure:"agent_uid"`
	IdleTimeout    int           `mapstructure:"idle_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`

	LLMURL         string `mapstructure:"llm_url"`
	LLMKey         string `mapstructure:"llm_key"`
	LLMModel       string `mapstructure:"llm_model"`
	SystemPrompt   string `mapstructure:"system_prompt"`
	Greeting       string `mapstructure:"greeting"`
	FailureMessage string `mapstructure:"failure_message"`

	TTSVendor  string `mapstructure:"tts_vendor"`
	TTSURL     string `mapstructure:"tts_url"`
	TTSGroupID string `mapstructure:"tts_group_id"`
	TTSKey     string `mapstructure:"tts_key"`
	TTSModel   string `mapstructure:"tts_model"`
	TTSVoiceID string `mapstructure:"tts_voice_id"`
}

func Load() (*Config, error) {
	// .env is optional; deployments set real environment variables.
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 3001)
	v.SetDefault("static_path", "./web")
	v.SetDefault("rtc.token_ttl", "1h")
	v.SetDefault("agent.base_url", "https://api.agora.io")
	v.SetDefault("agent.agent_uid", "999")
	v.SetDefault("agent.idle_timeout", 120)
	v.SetDefault("agent.request_timeout", "10s")
	v.SetDefault("agent.llm_url", "https://api.openai.com/v1/chat/completions")
	v.SetDefault("agent.llm_model", "gpt-4o-mini")
	v.SetDefault("agent.system_prompt", "You are a calm emergency assistant. Keep the caller safe and gather location details.")
	v.SetDefault("agent.greeting", "Emergency line, I am here to help. What is happening?")
	v.SetDefault("agent.failure_message", "I am having trouble processing that.")
	v.SetDefault("agent.tts_vendor", "minimax")
	v.SetDefault("agent.tts_url", "wss://api.minimax.io/ws/v1/t2a_v2")
	v.SetDefault("agent.tts_model", "speech-2.6-turbo")
	v.SetDefault("agent.tts_voice_id", "English_Lively_Male_11")

	// Secrets are never read from yaml files, only from the environment.
	bindings := map[string]string{
		"port":                "PORT",
		"rtc.app_id":          "AGORA_APP_ID",
		"rtc.app_certificate": "AGORA_APP_CERTIFICATE",
		"rtc.api_key":         "AGORA_API_KEY",
		"rtc.api_secret":      "AGORA_API_SECRET",
		"agent.llm_key":       "OPENAI_KEY",
		"agent.tts_group_id":  "TTS_MINIMAX_GROUPID",
		"agent.tts_key":       "TTS_MINIMAX_KEY",
	}
	for key, envName := range bindings {
		if err := v.BindEnv(key, envName); err != nil {
			return nil, fmt.Errorf("bind env %s: %w", envName, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Static: %s\n", cfg.Mode, cfg.Port, cfg.StaticPath)
	return &cfg, nil
}
