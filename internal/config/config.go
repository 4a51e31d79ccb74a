package config

import (
	"bytes"
	"os"
	"strings"

	"github.com/spf13/viper"
)

type AppCfg struct {
	Name    string
	Version string
	Env     string
	Host    string
	Port    int
}

type LogCfg struct {
	Level string
}

type DBCfg struct {
	DSN         string
	MaxOpen     int
	MaxIdle     int
	AutoMigrate bool
}

type RedisCfg struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
}

type MQCfg struct {
	URL      string
	Exchange string
}

type S3Cfg struct {
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	Bucket       string
	UsePathStyle bool
	SSE          string
}

// AuthCfg configures verification of platform user bearer tokens.
type AuthCfg struct {
	JWTSecret string
	Issuer    string
}

type DeployCfg struct {
	// PlatformDomain is the base domain tenant subdomains are assigned under.
	PlatformDomain string
	// PublicAPIBaseURL is advertised in manifests as the runtime query host.
	PublicAPIBaseURL string
	// EncryptionKey is the base64 encoded 32 byte secret codec key.
	EncryptionKey  string
	SitesPrefix    string
	ManifestPrefix string
	// MaxUploadBytes caps an upload request body. Zero disables the cap.
	MaxUploadBytes int64
}

type TursoCfg struct {
	APIBaseURL string
	APIToken   string
	OrgSlug    string
	Group      string
	TimeoutSec int
	MaxRetries int
}

type RuntimeCfg struct {
	QueryTimeoutSec    int
	ResolveCacheTTLSec int
	MaxBodyBytes       int64
}

type TelemetryCfg struct {
	Enabled      bool
	OtlpEndpoint string
	SampleRatio  float64
}

type Config struct {
	App       AppCfg
	Log       LogCfg
	Database  DBCfg
	Redis     RedisCfg
	RabbitMQ  MQCfg
	S3        S3Cfg
	Auth      AuthCfg
	Deploy    DeployCfg
	Turso     TursoCfg
	Runtime   RuntimeCfg
	Telemetry TelemetryCfg
}

func Load() (*Config, error) {
	base := viper.New()
	base.SetConfigName("config")
	base.SetConfigType("yaml")
	base.AddConfigPath("./configs")
	base.AddConfigPath(".")
	base.AutomaticEnv()
	base.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	base.SetEnvPrefix("APP") // e.g. APP_TURSO_APITOKEN -> turso.apiToken

	setDefaults(base)

	if err := base.ReadInConfig(); err == nil {
		// Expand ${ENV} once before parsing.
		path := base.ConfigFileUsed()
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		expanded := os.ExpandEnv(string(raw))

		v := viper.New()
		v.SetConfigType("yaml")
		if err := v.ReadConfig(bytes.NewBufferString(expanded)); err != nil {
			return nil, err
		}
		v.AutomaticEnv()
		v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		v.SetEnvPrefix("APP")
		setDefaults(v)

		cfg := new(Config)
		if err := v.Unmarshal(&cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	// No file: env + defaults only
	cfg := new(Config)
	if err := base.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "deploy-platform")
	v.SetDefault("app.version", "0.1.0")
	v.SetDefault("app.env", "debug")
	v.SetDefault("app.host", "0.0.0.0")
	v.SetDefault("app.port", 8080)
	v.SetDefault("log.level", "info")
	v.SetDefault("database.maxOpen", 20)
	v.SetDefault("database.maxIdle", 5)
	v.SetDefault("redis.poolSize", 10)
	v.SetDefault("rabbitmq.exchange", "deploy_events")
	v.SetDefault("s3.region", "auto")
	v.SetDefault("s3.usePathStyle", true)
	v.SetDefault("deploy.sitesPrefix", "sites")
	v.SetDefault("deploy.manifestPrefix", "manifests")
	v.SetDefault("deploy.maxUploadBytes", 50<<20)
	v.SetDefault("turso.apiBaseURL", "https://api.turso.tech/v1")
	v.SetDefault("turso.group", "default")
	v.SetDefault("turso.timeoutSec", 15)
	v.SetDefault("turso.maxRetries", 3)
	v.SetDefault("runtime.queryTimeoutSec", 30)
	v.SetDefault("runtime.resolveCacheTTLSec", 15)
	v.SetDefault("runtime.maxBodyBytes", 1<<20)
	v.SetDefault("telemetry.sampleRatio", 1.0)
}

// MissingEnv lists the settings a deploy needs that are still empty, named by
// their environment variable.
func (c *Config) MissingEnv() []string {
	required := []struct {
		env string
		val string
	}{
		{"APP_DATABASE_DSN", c.Database.DSN},
		{"APP_S3_ENDPOINT", c.S3.Endpoint},
		{"APP_S3_BUCKET", c.S3.Bucket},
		{"APP_S3_ACCESSKEY", c.S3.AccessKey},
		{"APP_S3_SECRETKEY", c.S3.SecretKey},
		{"APP_TURSO_APITOKEN", c.Turso.APIToken},
		{"APP_TURSO_ORGSLUG", c.Turso.OrgSlug},
		{"APP_DEPLOY_PLATFORMDOMAIN", c.Deploy.PlatformDomain},
		{"APP_DEPLOY_ENCRYPTIONKEY", c.Deploy.EncryptionKey},
		{"APP_AUTH_JWTSECRET", c.Auth.JWTSecret},
	}
	missing := make([]string, 0)
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			missing = append(missing, r.env)
		}
	}
	return missing
}
