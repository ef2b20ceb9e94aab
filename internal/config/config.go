package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Mode         string        `mapstructure:"mode"`
	LogLevel     string        `mapstructure:"log_level"`
	Port         int           `mapstructure:"port"`
	StaticPath   string        `mapstructure:"static_path"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	PingPeriod   time.Duration `mapstructure:"ping_period"`
	Secret       string        `mapstructure:"secret"`
	RoomCapacity int           `mapstructure:"room_capacity"`
	TextRate     int           `mapstructure:"text_rate"`

	Relay RelayConfig `mapstructure:"relay"`
	ICE   ICEConfig   `mapstructure:"ice"`
	STT   STTConfig   `mapstructure:"stt"`
	TTS   TTSConfig   `mapstructure:"tts"`
	Media MediaConfig `mapstructure:"media"`
}

type RelayConfig struct {
	URL                string `mapstructure:"url"`
	Room               string `mapstructure:"room"`
	MaxConnectAttempts uint   `mapstructure:"max_connect_attempts"`
}

type ICEConfig struct {
	STUNServers  string `mapstructure:"stun_servers"`
	TURNServers  string `mapstructure:"turn_servers"`
	TURNUsername string `mapstructure:"turn_username"`
	TURNPassword string `mapstructure:"turn_password"`
}

type STTConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	Endpoint       string        `mapstructure:"endpoint"`
	Language       string        `mapstructure:"language"`
	SampleRate     int           `mapstructure:"sample_rate"`
	Punctuation    bool          `mapstructure:"punctuation"`
	Debounce       time.Duration `mapstructure:"debounce"`
	SilenceRMS     float64       `mapstructure:"silence_rms"`
	SliceInterval  time.Duration `mapstructure:"slice_interval"`
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

type TTSConfig struct {
	APIKey       string  `mapstructure:"api_key"`
	Endpoint     string  `mapstructure:"endpoint"`
	Language     string  `mapstructure:"language"`
	Voice        string  `mapstructure:"voice"`
	SpeakingRate float64 `mapstructure:"speaking_rate"`
	Pitch        float64 `mapstructure:"pitch"`
}

type MediaConfig struct {
	Input     string `mapstructure:"input"`
	Loop      bool   `mapstructure:"loop"`
	OutputDir string `mapstructure:"output_dir"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("log_level", "info")
	v.SetDefault("port", 5004)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("secret", "voicelink")
	v.SetDefault("room_capacity", 2)
	v.SetDefault("text_rate", 20)

	v.SetDefault("relay.url", "ws://localhost:5004/api/ws/signal")
	v.SetDefault("relay.room", "")
	v.SetDefault("relay.max_connect_attempts", 5)

	v.SetDefault("ice.stun_servers", "stun:stun.l.google.com:19302")
	v.SetDefault("ice.turn_servers", "")
	v.SetDefault("ice.turn_username", "")
	v.SetDefault("ice.turn_password", "")

	v.SetDefault("stt.api_key", "")
	v.SetDefault("stt.endpoint", "https://speech.googleapis.com/v1/speech:recognize")
	v.SetDefault("stt.language", "ko-KR")
	v.SetDefault("stt.sample_rate", 48000)
	v.SetDefault("stt.punctuation", false)
	v.SetDefault("stt.debounce", "2500ms")
	v.SetDefault("stt.silence_rms", 0.01)
	v.SetDefault("stt.slice_interval", "1s")
	v.SetDefault("stt.sample_interval", "150ms")

	v.SetDefault("tts.api_key", "")
	v.SetDefault("tts.endpoint", "https://texttospeech.googleapis.com/v1/text:synthesize")
	v.SetDefault("tts.language", "en-US")
	v.SetDefault("tts.voice", "en-US-Standard-C")
	v.SetDefault("tts.speaking_rate", 1.0)
	v.SetDefault("tts.pitch", 0.0)

	v.SetDefault("media.input", "")
	v.SetDefault("media.loop", false)
	v.SetDefault("media.output_dir", "./out")
}

// Load reads config/config.<CONFIG_ENV>.yaml, then VOICELINK_* environment
// variables, then flags (if any). Missing file is not an error.
func Load(flags *pflag.FlagSet) (*Config, error) {
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

	setDefaults(v)

	v.SetEnvPrefix("VOICELINK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return nil, fmt.Errorf("bind flags: %w", err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Msg("config ready")
	return &cfg, nil
}

// WebRTCConfig builds a webrtc.Configuration from the STUN/TURN settings.
func (c *Config) WebRTCConfig() webrtc.Configuration {
	var iceServers []webrtc.ICEServer
	if c.ICE.STUNServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs: strings.Split(c.ICE.STUNServers, ","),
		})
	}
	if c.ICE.TURNServers != "" {
		iceServers = append(iceServers, webrtc.ICEServer{
			URLs:           strings.Split(c.ICE.TURNServers, ","),
			Username:       c.ICE.TURNUsername,
			Credential:     c.ICE.TURNPassword,
			CredentialType: webrtc.ICECredentialTypePassword,
		})
	}
	return webrtc.Configuration{ICEServers: iceServers}
}
