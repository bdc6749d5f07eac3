package config

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/vault-client-go"
	"github.com/spf13/viper"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config is resolved once at process start and never mutated afterwards.
type Config struct {
	AppEnv     string `mapstructure:"APP_ENV"`
	AppName    string `mapstructure:"APP_NAME"`
	AppVersion string `mapstructure:"APP_VERSION"`
	NodeID     int64  `mapstructure:"NODE_ID"`
	TLS        struct {
		Enable   bool   `mapstructure:"ENABLE"`
		CertPath string `mapstructure:"CERT_PATH"`
		KeyPath  string `mapstructure:"KEY_PATH"`
	} `mapstructure:"TLS"`
	Server struct {
		Addr            string        `mapstructure:"ADDR"`
		ReadTimeout     time.Duration `mapstructure:"READ_TIMEOUT"`
		WriteTimeout    time.Duration `mapstructure:"WRITE_TIMEOUT"`
		IdleTimeout     time.Duration `mapstructure:"IDLE_TIMEOUT"`
		ShutdownTimeout time.Duration `mapstructure:"SHUTDOWN_TIMEOUT"`
		MaxUploadBytes  int64         `mapstructure:"MAX_UPLOAD_BYTES"`
	} `mapstructure:"HTTP_SERVER"`
	Vault struct {
		Enabled   bool   `mapstructure:"ENABLED"`
		Path      string `mapstructure:"PATH"`
		MountPath string `mapstructure:"MOUNT_PATH"`
	} `mapstructure:"VAULT"`
	Payment     Payment `mapstructure:"PAYMENT"`
	Ledger      Ledger  `mapstructure:"LEDGER"`
	Email       Email   `mapstructure:"EMAIL"`
	CMS         CMS     `mapstructure:"CMS"`
	Media       Media   `mapstructure:"MEDIA"`
	Fulfillment struct {
		ProductName string `mapstructure:"PRODUCT_NAME"`
		BulkPrefix  string `mapstructure:"BULK_PREFIX"`
	} `mapstructure:"FULFILLMENT"`
	Minio struct {
		Endpoint   string `mapstructure:"ENDPOINT"`
		AccessKey  string `mapstructure:"ACCESS_KEY"`
		SecretKey  string `mapstructure:"SECRET_KEY"`
		Secure     bool   `mapstructure:"SECURE"`
		BucketName string `mapstructure:"BUCKET_NAME"`
		PublicURL  string `mapstructure:"PUBLIC_URL"`
	} `mapstructure:"MINIO"`
	Redis struct {
		Addr        string        `mapstructure:"ADDR"`
		Password    string        `mapstructure:"PASSWORD"`
		DB          int           `mapstructure:"DB"`
		PoolSize    int           `mapstructure:"POOL_SIZE"`
		PoolTimeout time.Duration `mapstructure:"POOL_TIMEOUT"`
	} `mapstructure:"REDIS"`
	Kafka struct {
		Addrs        string        `mapstructure:"ADDR"`
		Topic        string        `mapstructure:"TOPIC"`
		FlushTimeout time.Duration `mapstructure:"FLUSH_TIMEOUT"`
	} `mapstructure:"KAFKA"`
	Otel struct {
		Endpoint    string  `mapstructure:"ENDPOINT"`
		Insecure    bool    `mapstructure:"INSECURE"`
		SampleRatio float64 `mapstructure:"SAMPLE_RATIO"`
	} `mapstructure:"OTEL"`
}

// Credentials holds one payment environment's secrets.
type Credentials struct {
	SecretKey     string `mapstructure:"SECRET_KEY"`
	WebhookSecret string `mapstructure:"WEBHOOK_SECRET"`
}

type Payment struct {
	Test         Credentials   `mapstructure:"TEST"`
	Live         Credentials   `mapstructure:"LIVE"`
	Tolerance    time.Duration `mapstructure:"TOLERANCE"`
	CheckoutMode string        `mapstructure:"CHECKOUT_MODE"`
	SuccessURL   string        `mapstructure:"SUCCESS_URL"`
	CancelURL    string        `mapstructure:"CANCEL_URL"`
	Bulk         struct {
		Currency     string `mapstructure:"CURRENCY"`
		UnitPrice    string `mapstructure:"UNIT_PRICE"`
		DiscountFrom int    `mapstructure:"DISCOUNT_FROM"`
		DiscountPct  string `mapstructure:"DISCOUNT_PCT"`
		ProductName  string `mapstructure:"PRODUCT_NAME"`
		MaxItems     int    `mapstructure:"MAX_ITEMS"`
	} `mapstructure:"BULK"`
}

type Ledger struct {
	Driver          string `mapstructure:"DRIVER"`
	SpreadsheetID   string `mapstructure:"SPREADSHEET_ID"`
	CredentialsFile string `mapstructure:"CREDENTIALS_FILE"`
	WorkbookPath    string `mapstructure:"WORKBOOK_PATH"`
	SalesSheet      string `mapstructure:"SALES_SHEET"`
	PendingSheet    string `mapstructure:"PENDING_SHEET"`
	ErrorSheet      string `mapstructure:"ERROR_SHEET"`
	CacheSize       int    `mapstructure:"CACHE_SIZE"`
	CacheBackend    string `mapstructure:"CACHE_BACKEND"`
	CacheKey        string `mapstructure:"CACHE_KEY"`
}

type Email struct {
	APIURL     string `mapstructure:"API_URL"`
	APIKey     string `mapstructure:"API_KEY"`
	FromEmail  string `mapstructure:"FROM_EMAIL"`
	FromName   string `mapstructure:"FROM_NAME"`
	TemplateID string `mapstructure:"TEMPLATE_ID"`
	BulkTmplID string `mapstructure:"BULK_TEMPLATE_ID"`
}

type CMS struct {
	BaseURL       string        `mapstructure:"BASE_URL"`
	Username      string        `mapstructure:"USERNAME"`
	AppPassword   string        `mapstructure:"APP_PASSWORD"`
	PostType      string        `mapstructure:"POST_TYPE"`
	Timeout       time.Duration `mapstructure:"TIMEOUT"`
	ReadyAttempts int           `mapstructure:"READY_ATTEMPTS"`
	ReadyBackoff  time.Duration `mapstructure:"READY_BACKOFF"`
}

type Media struct {
	MaxDimension int    `mapstructure:"MAX_DIMENSION"`
	Quality      int    `mapstructure:"QUALITY"`
	FFmpegPath   string `mapstructure:"FFMPEG_PATH"`
	BackupPrefix string `mapstructure:"BACKUP_PREFIX"`
}

var ErrInvalidConfig = errors.New("invalid configuration")

var Module = fx.Module("config", fx.Provide(Provide))

type Params struct {
	fx.In
	Vault *vault.Client `optional:"true"`
}

func Provide(p Params) (*Config, error) {
	cfg, err := Load(".")
	if err != nil {
		return nil, err
	}

	if cfg.Vault.Enabled && p.Vault != nil {
		if err := overlayVault(context.Background(), p.Vault, cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads config.yaml from the given directories and overlays the environment.
// A missing file is not an error; every key can come from the environment.
func Load(paths ...string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("APP_ENV", "development")
	v.SetDefault("APP_NAME", "appraisal-fulfillment")
	v.SetDefault("NODE_ID", 1)
	v.SetDefault("HTTP_SERVER.ADDR", "8080")
	v.SetDefault("HTTP_SERVER.READ_TIMEOUT", 15*time.Second)
	v.SetDefault("HTTP_SERVER.WRITE_TIMEOUT", 30*time.Second)
	v.SetDefault("HTTP_SERVER.IDLE_TIMEOUT", 120*time.Second)
	v.SetDefault("HTTP_SERVER.SHUTDOWN_TIMEOUT", 2*time.Minute)
	v.SetDefault("HTTP_SERVER.MAX_UPLOAD_BYTES", 64<<20)
	v.SetDefault("VAULT.MOUNT_PATH", "secret")
	v.SetDefault("PAYMENT.TOLERANCE", 5*time.Minute)
	v.SetDefault("PAYMENT.CHECKOUT_MODE", "test")
	v.SetDefault("PAYMENT.BULK.CURRENCY", "usd")
	v.SetDefault("PAYMENT.BULK.UNIT_PRICE", "59.00")
	v.SetDefault("PAYMENT.BULK.DISCOUNT_FROM", 5)
	v.SetDefault("PAYMENT.BULK.DISCOUNT_PCT", "10")
	v.SetDefault("PAYMENT.BULK.PRODUCT_NAME", "Bulk Appraisal")
	v.SetDefault("PAYMENT.BULK.MAX_ITEMS", 50)
	v.SetDefault("LEDGER.DRIVER", "sheets")
	v.SetDefault("LEDGER.SALES_SHEET", "Sales")
	v.SetDefault("LEDGER.PENDING_SHEET", "Pending Appraisals")
	v.SetDefault("LEDGER.ERROR_SHEET", "Error Log")
	v.SetDefault("LEDGER.CACHE_SIZE", 4096)
	v.SetDefault("LEDGER.CACHE_BACKEND", "memory")
	v.SetDefault("LEDGER.CACHE_KEY", "ledger:sales:seen")
	v.SetDefault("EMAIL.API_URL", "https://api.sendgrid.com/v3/mail/send")
	v.SetDefault("CMS.POST_TYPE", "appraisals")
	v.SetDefault("CMS.TIMEOUT", 30*time.Second)
	v.SetDefault("CMS.READY_ATTEMPTS", 3)
	v.SetDefault("CMS.READY_BACKOFF", 2*time.Second)
	v.SetDefault("MEDIA.MAX_DIMENSION", 2048)
	v.SetDefault("MEDIA.QUALITY", 85)
	v.SetDefault("MEDIA.FFMPEG_PATH", "ffmpeg")
	v.SetDefault("MEDIA.BACKUP_PREFIX", "submissions")
	v.SetDefault("FULFILLMENT.PRODUCT_NAME", "Appraisal")
	v.SetDefault("FULFILLMENT.BULK_PREFIX", "bulk")
	v.SetDefault("REDIS.POOL_SIZE", 10)
	v.SetDefault("REDIS.POOL_TIMEOUT", 4*time.Second)
	v.SetDefault("KAFKA.TOPIC", "appraisal.fulfillment")
	v.SetDefault("KAFKA.FLUSH_TIMEOUT", 10*time.Second)
	v.SetDefault("OTEL.SAMPLE_RATIO", 1.0)

	// Unmarshal only sees env vars for keys viper already knows about.
	for _, key := range []string{
		"APP_VERSION", "TLS.ENABLE", "TLS.CERT_PATH", "TLS.KEY_PATH",
		"VAULT.ENABLED", "VAULT.PATH",
		"PAYMENT.TEST.SECRET_KEY", "PAYMENT.TEST.WEBHOOK_SECRET",
		"PAYMENT.LIVE.SECRET_KEY", "PAYMENT.LIVE.WEBHOOK_SECRET",
		"PAYMENT.SUCCESS_URL", "PAYMENT.CANCEL_URL",
		"LEDGER.SPREADSHEET_ID", "LEDGER.CREDENTIALS_FILE", "LEDGER.WORKBOOK_PATH",
		"EMAIL.API_KEY", "EMAIL.FROM_EMAIL", "EMAIL.FROM_NAME", "EMAIL.TEMPLATE_ID", "EMAIL.BULK_TEMPLATE_ID",
		"CMS.BASE_URL", "CMS.USERNAME", "CMS.APP_PASSWORD",
		"MINIO.ENDPOINT", "MINIO.ACCESS_KEY", "MINIO.SECRET_KEY", "MINIO.SECURE", "MINIO.BUCKET_NAME", "MINIO.PUBLIC_URL",
		"REDIS.ADDR", "REDIS.PASSWORD", "REDIS.DB", "KAFKA.ADDR",
		"OTEL.ENDPOINT", "OTEL.INSECURE",
	} {
		if !v.IsSet(key) {
			v.SetDefault(key, "")
		}
	}
}

// Validate reports configuration that makes the pipeline unusable.
// Missing payment credentials are reported here, before any verification attempt.
func (c *Config) Validate() error {
	var missing []string
	if c.Payment.Test.WebhookSecret == "" {
		missing = append(missing, "PAYMENT.TEST.WEBHOOK_SECRET")
	}
	if c.Payment.Live.WebhookSecret == "" {
		missing = append(missing, "PAYMENT.LIVE.WEBHOOK_SECRET")
	}
	if c.TLS.Enable && (c.TLS.CertPath == "" || c.TLS.KeyPath == "") {
		missing = append(missing, "TLS.CERT_PATH/TLS.KEY_PATH")
	}
	switch c.Ledger.Driver {
	case "sheets":
		if c.Ledger.SpreadsheetID == "" {
			missing = append(missing, "LEDGER.SPREADSHEET_ID")
		}
	case "xlsx":
		if c.Ledger.WorkbookPath == "" {
			missing = append(missing, "LEDGER.WORKBOOK_PATH")
		}
	default:
		return fmt.Errorf("%w: unsupported LEDGER.DRIVER %q", ErrInvalidConfig, c.Ledger.Driver)
	}

	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}

// Credentials returns the secrets configured for a payment environment.
func (p Payment) Credentials(live bool) Credentials {
	if live {
		return p.Live
	}
	return p.Test
}

func overlayVault(ctx context.Context, client *vault.Client, cfg *Config) error {
	path := cfg.Vault.Path
	if path == "" {
		path = cfg.AppEnv
	}

	zap.L().Info("Starting Get Secrets", zap.String("path", path))
	secret, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath(cfg.Vault.MountPath))
	if err != nil {
		zap.L().Error("failed get secret from vault", zap.Error(err))
		return fmt.Errorf("read vault secret %s: %w", path, err)
	}
	zap.L().Info("Success Get Secret")

	get := func(key, fallback string) string {
		if val, ok := secret.Data.Data[key].(string); ok && val != "" {
			return val
		}
		return fallback
	}

	cfg.Payment.Test.SecretKey = get("stripe_test_secret_key", cfg.Payment.Test.SecretKey)
	cfg.Payment.Test.WebhookSecret = get("stripe_test_webhook_secret", cfg.Payment.Test.WebhookSecret)
	cfg.Payment.Live.SecretKey = get("stripe_live_secret_key", cfg.Payment.Live.SecretKey)
	cfg.Payment.Live.WebhookSecret = get("stripe_live_webhook_secret", cfg.Payment.Live.WebhookSecret)
	cfg.CMS.AppPassword = get("cms_app_password", cfg.CMS.AppPassword)
	cfg.Email.APIKey = get("sendgrid_api_key", cfg.Email.APIKey)
	cfg.Minio.SecretKey = get("minio_secret_key", cfg.Minio.SecretKey)
	cfg.Redis.Password = get("redis_password", cfg.Redis.Password)
	return nil
}
