package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Rendezvous RendezvousConfig `mapstructure:"rendezvous"`
	Broker     BrokerConfig     `mapstructure:"broker"`
	Session    SessionConfig    `mapstructure:"session"`
	Audio      AudioConfig      `mapstructure:"audio"`
	Webhooks   []WebhookConfig  `mapstructure:"webhooks"`
	Log        LogConfig        `mapstructure:"log"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type ServerConfig struct {
	Port      string `mapstructure:"port"`
	Mode      string `mapstructure:"mode"`
	PublicURL string `mapstructure:"public_url"`
	JWTSecret string `mapstructure:"jwt_secret"`
}

type DatabaseConfig struct {
	Driver string `mapstructure:"driver"`
	DSN    string `mapstructure:"dsn"`
}

// RendezvousConfig is the client side: where this instance registers itself.
type RendezvousConfig struct {
	URL       string `mapstructure:"url"`
	AccessKey string `mapstructure:"access_key"`
}

// BrokerConfig is the bundled broker binary (cmd/broker).
type BrokerConfig struct {
	Port          string `mapstructure:"port"`
	Mode          string `mapstructure:"mode"`
	JWTSecret     string `mapstructure:"jwt_secret"`
	AccessKeyHash string `mapstructure:"access_key_hash"`
}

type SessionConfig struct {
	STUNServers  []string `mapstructure:"stun_servers"`
	UDPPortMin   uint16   `mapstructure:"udp_port_min"`
	UDPPortMax   uint16   `mapstructure:"udp_port_max"`
	PingInterval string   `mapstructure:"ping_interval"`
	RTTWindow    int      `mapstructure:"rtt_window"`
}

// PingDuration parses the configured ping interval, falling back to 2s on
// junk input.
func (s SessionConfig) PingDuration() time.Duration {
	d, err := time.ParseDuration(s.PingInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

type AudioConfig struct {
	Enabled          bool   `mapstructure:"enabled"`
	InputDeviceName  string `mapstructure:"input_device_name"`
	OutputDeviceName string `mapstructure:"output_device_name"`
	SampleRate       int    `mapstructure:"sample_rate"`
	Channels         int    `mapstructure:"channels"`
	BitsPerSample    int    `mapstructure:"bits_per_sample"`
	CaptureChunkMs   int    `mapstructure:"capture_chunk_ms"`
	PlaybackChunkMs  int    `mapstructure:"playback_chunk_ms"`
}

func (a AudioConfig) CaptureSamples() int {
	if a.SampleRate <= 0 || a.CaptureChunkMs <= 0 {
		return 320
	}
	return a.SampleRate * a.CaptureChunkMs / 1000
}

func (a AudioConfig) PlaybackSamples() int {
	if a.SampleRate <= 0 || a.PlaybackChunkMs <= 0 {
		return 800
	}
	return a.SampleRate * a.PlaybackChunkMs / 1000
}

type WebhookConfig struct {
	URL       string `mapstructure:"url"`
	Platform  string `mapstructure:"platform"`
	ChannelID string `mapstructure:"channel_id"`
	Template  string `mapstructure:"template"`
}

var AppConfig Config

func LoadConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err != nil {
		log.Printf("Warning: Config file not found, using defaults. Error: %v", err)
	}

	if err := viper.Unmarshal(&AppConfig); err != nil {
		log.Fatalf("Unable to decode into struct, %v", err)
	}

	if AppConfig.Server.Port == "" {
		AppConfig.Server.Port = ":8090"
	}
	if AppConfig.Server.PublicURL == "" {
		AppConfig.Server.PublicURL = "http://localhost:8090"
	}
	if AppConfig.Broker.Port == "" {
		AppConfig.Broker.Port = ":8091"
	}
	if AppConfig.Rendezvous.URL == "" {
		AppConfig.Rendezvous.URL = "ws://localhost:8091"
	}
	if len(AppConfig.Session.STUNServers) == 0 {
		AppConfig.Session.STUNServers = []string{"stun:stun.l.google.com:19302"}
	}
	if AppConfig.Session.PingInterval == "" {
		AppConfig.Session.PingInterval = "2s"
	}
	if AppConfig.Session.RTTWindow <= 0 {
		AppConfig.Session.RTTWindow = 10
	}
	if AppConfig.Audio.SampleRate <= 0 {
		AppConfig.Audio.SampleRate = 8000
	}
	if AppConfig.Audio.Channels <= 0 {
		AppConfig.Audio.Channels = 1
	}
	if AppConfig.Audio.BitsPerSample <= 0 {
		AppConfig.Audio.BitsPerSample = 16
	}
	if AppConfig.Audio.CaptureChunkMs <= 0 {
		AppConfig.Audio.CaptureChunkMs = 40
	}
	if AppConfig.Audio.PlaybackChunkMs <= 0 {
		AppConfig.Audio.PlaybackChunkMs = 100
	}

	log.Println("Configuration loaded successfully")
}
