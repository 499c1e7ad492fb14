package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type AppConfig struct {
	Env                   string `mapstructure:"env"`
	Port                  int    `mapstructure:"port"`
	InstanceID            string `mapstructure:"instance_id"`
	RequestTimeoutSeconds int    `mapstructure:"request_timeout_seconds"`
	ShutdownSeconds       int    `mapstructure:"shutdown_seconds"`
}

type JWTConfig struct {
	Alg           string `mapstructure:"alg"`
	HSSecret      string `mapstructure:"hs_secret"`
	PublicKeyPath string `mapstructure:"public_key_path"`
}

type StorageConfig struct {
	Driver string `mapstructure:"driver"` // mongo | memory
}

type MongoConfig struct {
	URI                      string `mapstructure:"uri"`
	Database                 string `mapstructure:"database"`
	Transactions             bool   `mapstructure:"transactions"`
	ChatsCollection          string `mapstructure:"chats_collection"`
	ConversationsCollection  string `mapstructure:"conversations_collection"`
	MessagesCollection       string `mapstructure:"messages_collection"`
	DirectMessagesCollection string `mapstructure:"direct_messages_collection"`
	PollsCollection          string `mapstructure:"polls_collection"`
	UsersCollection          string `mapstructure:"users_collection"`
	ParticipationsCollection string `mapstructure:"participations_collection"`
}

type RedisConfig struct {
	Enabled              bool   `mapstructure:"enabled"`
	Addr                 string `mapstructure:"addr"`
	Pass                 string `mapstructure:"password"`
	DB                   int    `mapstructure:"db"`
	Prefix               string `mapstructure:"prefix"`
	MembershipTTLSeconds int    `mapstructure:"membership_ttl_seconds"`
}

type KafkaConfig struct {
	Enabled             bool     `mapstructure:"enabled"`
	Brokers             []string `mapstructure:"brokers"`
	TopicRoomEvents     string   `mapstructure:"topic_room_events"`
	TopicActivityEvents string   `mapstructure:"topic_activity_events"`
	TopicNotifications  string   `mapstructure:"topic_notifications"`
	GroupID             string   `mapstructure:"group_id"`
}

type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	SendBuffer           int   `mapstructure:"send_buffer"`
	RecentOnJoin         int   `mapstructure:"recent_on_join"`
}

type RateLimitConfig struct {
	PerMinute int `mapstructure:"per_minute"`
	Burst     int `mapstructure:"burst"`
}

type S3Config struct {
	Enabled       bool   `mapstructure:"enabled"`
	Region        string `mapstructure:"region"`
	Bucket        string `mapstructure:"bucket"`
	Endpoint      string `mapstructure:"endpoint"`
	PublicBaseURL string `mapstructure:"public_base_url"`
	ThumbWidth    int    `mapstructure:"thumb_width"`
	MaxUploadMB   int    `mapstructure:"max_upload_mb"`
}

type ConsulConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Address     string `mapstructure:"address"`
	ServiceName string `mapstructure:"service_name"`
	ServiceHost string `mapstructure:"service_host"`
}

type NotifyConfig struct {
	TimeoutSeconds     int    `mapstructure:"timeout_seconds"`
	BreakerMaxFailures uint32 `mapstructure:"breaker_max_failures"`
	BreakerOpenSeconds int    `mapstructure:"breaker_open_seconds"`
}

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	JWT       JWTConfig       `mapstructure:"jwt"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Mongo     MongoConfig     `mapstructure:"mongodb"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Kafka     KafkaConfig     `mapstructure:"kafka"`
	WS        WSConfig        `mapstructure:"ws"`
	RateLimit RateLimitConfig `mapstructure:"rate_limit"`
	S3        S3Config        `mapstructure:"s3"`
	Consul    ConsulConfig    `mapstructure:"consul"`
	Notify    NotifyConfig    `mapstructure:"notify"`

	// derived
	RequestTimeout  time.Duration `mapstructure:"-"`
	ShutdownTimeout time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	MembershipTTL   time.Duration `mapstructure:"-"`
	NotifyTimeout   time.Duration `mapstructure:"-"`
	BreakerOpen     time.Duration `mapstructure:"-"`
}

func (c *Config) IsDev() bool { return c.App.Env == "development" || c.App.Env == "dev" }

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "production")
	v.SetDefault("app.port", 8085)
	v.SetDefault("app.request_timeout_seconds", 5)
	v.SetDefault("app.shutdown_seconds", 10)
	v.SetDefault("app.instance_id", "")

	v.SetDefault("jwt.alg", "HS256")
	v.SetDefault("jwt.hs_secret", "")
	v.SetDefault("jwt.public_key_path", "")

	v.SetDefault("storage.driver", "mongo")

	v.SetDefault("mongodb.uri", "mongodb://localhost:27017")
	v.SetDefault("mongodb.database", "sortie_chat")
	v.SetDefault("mongodb.transactions", false)
	v.SetDefault("mongodb.chats_collection", "chat_rooms")
	v.SetDefault("mongodb.conversations_collection", "conversations")
	v.SetDefault("mongodb.messages_collection", "messages")
	v.SetDefault("mongodb.direct_messages_collection", "direct_messages")
	v.SetDefault("mongodb.polls_collection", "polls")
	v.SetDefault("mongodb.users_collection", "users")
	v.SetDefault("mongodb.participations_collection", "participations")

	v.SetDefault("redis.enabled", true)
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.prefix", "sortie")
	v.SetDefault("redis.membership_ttl_seconds", 300)

	v.SetDefault("kafka.enabled", true)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic_room_events", "chat.room-events")
	v.SetDefault("kafka.topic_activity_events", "activity.events")
	v.SetDefault("kafka.topic_notifications", "notifications.push")
	v.SetDefault("kafka.group_id", "sortie-chat")

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer", 256)
	v.SetDefault("ws.recent_on_join", 50)

	v.SetDefault("rate_limit.per_minute", 120)
	v.SetDefault("rate_limit.burst", 30)

	v.SetDefault("s3.enabled", false)
	v.SetDefault("s3.region", "us-east-1")
	v.SetDefault("s3.bucket", "")
	v.SetDefault("s3.endpoint", "")
	v.SetDefault("s3.public_base_url", "")
	v.SetDefault("s3.thumb_width", 320)
	v.SetDefault("s3.max_upload_mb", 20)

	v.SetDefault("consul.enabled", false)
	v.SetDefault("consul.address", "localhost:8500")
	v.SetDefault("consul.service_name", "sortie-chat")
	v.SetDefault("consul.service_host", "localhost")

	v.SetDefault("notify.timeout_seconds", 3)
	v.SetDefault("notify.breaker_max_failures", 5)
	v.SetDefault("notify.breaker_open_seconds", 30)
}

// Load reads path (optional) and overrides it from the environment, e.g.
// APP_PORT or MONGODB_URI. A .env file in the working dir is loaded first.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return nil, fmt.Errorf("read config %s: %w", path, err)
			}
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	// viper does not split env lists
	if len(c.Kafka.Brokers) == 1 && strings.Contains(c.Kafka.Brokers[0], ",") {
		c.Kafka.Brokers = strings.Split(c.Kafka.Brokers[0], ",")
	}
	if c.App.InstanceID == "" {
		host, _ := os.Hostname()
		c.App.InstanceID = fmt.Sprintf("%s-%d", host, os.Getpid())
	}

	c.RequestTimeout = time.Duration(c.App.RequestTimeoutSeconds) * time.Second
	c.ShutdownTimeout = time.Duration(c.App.ShutdownSeconds) * time.Second
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.MembershipTTL = time.Duration(c.Redis.MembershipTTLSeconds) * time.Second
	c.NotifyTimeout = time.Duration(c.Notify.TimeoutSeconds) * time.Second
	c.BreakerOpen = time.Duration(c.Notify.BreakerOpenSeconds) * time.Second

	if err := c.validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) validate() error {
	switch strings.ToUpper(c.JWT.Alg) {
	case "HS256":
		if c.JWT.HSSecret == "" {
			return errors.New("config: jwt.hs_secret is required for HS256")
		}
	case "RS256":
		if c.JWT.PublicKeyPath == "" {
			return errors.New("config: jwt.public_key_path is required for RS256")
		}
	default:
		return fmt.Errorf("config: unsupported jwt.alg %q", c.JWT.Alg)
	}
	switch c.Storage.Driver {
	case "mongo", "memory":
	default:
		return fmt.Errorf("config: unknown storage.driver %q", c.Storage.Driver)
	}
	if c.RequestTimeout <= 0 {
		return errors.New("config: app.request_timeout_seconds must be positive")
	}
	return nil
}
