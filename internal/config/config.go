// Package config собирает настройки сервера из .env, AWS SSM (production) и флагов.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/joho/godotenv"
	"github.com/labstack/gommon/log"
	"github.com/spf13/pflag"
)

const (
	StoragePostgres = "postgres"
	StorageMemory   = "memory"

	DocumentsS3   = "s3"
	DocumentsDisk = "disk"
)

type Config struct {
	Env             string
	Addr            string
	PostgresConn    string
	StorageDriver   string
	RunMigrations   bool
	DocumentsDriver string
	S3Bucket        string
	S3Region        string
	UploadDir       string

	JWTSecret         string
	PortalTokenSecret string
	PortalTokenTTL    time.Duration
	PortalBaseURL     string

	LogLevel string

	// IssueAdminToken != 0: напечатать JWT администратора с этим id и выйти
	IssueAdminToken int64
}

func (c *Config) Production() bool {
	return c.Env == "production"
}

// Load порядок: .env, затем SSM для production, затем переменные окружения и флаги
func Load(ctx context.Context, args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if getenvDefault("APP_ENV", "development") == "production" {
		region := getenvDefault("AWS_REGION", "us-east-2")
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
		if err != nil {
			return nil, fmt.Errorf("load aws config: %w", err)
		}
		n, err := applySSM(ctx, ssm.NewFromConfig(awsCfg), getenvDefault("SSM_PREFIX", "/workorders/prod/"))
		if err != nil {
			return nil, err
		}
		log.Debugf("loaded %d prod environment variables", n)
	}

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}
	if err := cfg.parseFlags(args); err != nil {
		return nil, err
	}
	return cfg, cfg.validate()
}

func fromEnv() (*Config, error) {
	ttl, err := time.ParseDuration(getenvDefault("PORTAL_TOKEN_TTL", "0s"))
	if err != nil {
		return nil, fmt.Errorf("PORTAL_TOKEN_TTL: %w", err)
	}
	migrate, err := strconv.ParseBool(getenvDefault("RUN_MIGRATIONS", "true"))
	if err != nil {
		return nil, fmt.Errorf("RUN_MIGRATIONS: %w", err)
	}
	return &Config{
		Env:               getenvDefault("APP_ENV", "development"),
		Addr:              getenvDefault("SERVER_ADDRESS", "0.0.0.0:8080"),
		PostgresConn:      os.Getenv("POSTGRES_CONN"),
		StorageDriver:     getenvDefault("STORAGE_DRIVER", StoragePostgres),
		RunMigrations:     migrate,
		DocumentsDriver:   getenvDefault("DOCUMENTS_DRIVER", DocumentsDisk),
		S3Bucket:          os.Getenv("S3_BUCKET_NAME"),
		S3Region:          getenvDefault("AWS_S3_REGION", "us-east-2"),
		UploadDir:         getenvDefault("UPLOAD_DIR", "./uploads"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		PortalTokenSecret: os.Getenv("PORTAL_TOKEN_SECRET"),
		PortalTokenTTL:    ttl,
		PortalBaseURL:     getenvDefault("PORTAL_BASE_URL", "/p/wo/"),
		LogLevel:          getenvDefault("LOG_LEVEL", "info"),
	}, nil
}

func (c *Config) parseFlags(args []string) error {
	flags := pflag.NewFlagSet("workorder-server", pflag.ContinueOnError)
	flags.StringVar(&c.Addr, "addr", c.Addr, "listen address")
	flags.StringVar(&c.StorageDriver, "storage", c.StorageDriver, "storage driver: postgres or memory")
	flags.StringVar(&c.DocumentsDriver, "documents", c.DocumentsDriver, "proof photo store: s3 or disk")
	flags.BoolVar(&c.RunMigrations, "migrate", c.RunMigrations, "apply database migrations on start")
	flags.StringVar(&c.LogLevel, "log-level", c.LogLevel, "debug, info, warn or error")
	flags.Int64Var(&c.IssueAdminToken, "issue-admin-token", 0, "print an admin JWT for this user id and exit")
	return flags.Parse(args)
}

func (c *Config) validate() error {
	switch c.StorageDriver {
	case StoragePostgres:
		if c.PostgresConn == "" {
			return errors.New("POSTGRES_CONN is required for postgres storage")
		}
	case StorageMemory:
		if c.Production() {
			return errors.New("memory storage is not allowed in production")
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	switch c.DocumentsDriver {
	case DocumentsS3:
		if c.S3Bucket == "" {
			return errors.New("S3_BUCKET_NAME is required for s3 documents")
		}
	case DocumentsDisk:
	default:
		return fmt.Errorf("unknown documents driver %q", c.DocumentsDriver)
	}
	if c.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if c.PortalTokenSecret == "" {
		return errors.New("PORTAL_TOKEN_SECRET is required")
	}
	if c.PortalTokenTTL < 0 {
		return errors.New("PORTAL_TOKEN_TTL must not be negative")
	}
	return nil
}

// GommonLevel уровень логгера по имени из LOG_LEVEL
func (c *Config) GommonLevel() log.Lvl {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return log.DEBUG
	case "warn":
		return log.WARN
	case "error":
		return log.ERROR
	case "off":
		return log.OFF
	default:
		return log.INFO
	}
}

type ssmAPI interface {
	GetParametersByPath(ctx context.Context, in *ssm.GetParametersByPathInput, opts ...func(*ssm.Options)) (*ssm.GetParametersByPathOutput, error)
}

// applySSM экспортирует параметры из префикса в окружение: /prefix/JWT_SECRET -> JWT_SECRET
func applySSM(ctx context.Context, client ssmAPI, prefix string) (int, error) {
	var (
		n    int
		next *string
	)
	for {
		out, err := client.GetParametersByPath(ctx, &ssm.GetParametersByPathInput{
			Path:           aws.String(prefix),
			WithDecryption: aws.Bool(true),
			Recursive:      aws.Bool(true),
			NextToken:      next,
		})
		if err != nil {
			return n, fmt.Errorf("unable to load prod environment: %w", err)
		}
		for _, p := range out.Parameters {
			key := strings.TrimPrefix(aws.ToString(p.Name), prefix)
			if err := os.Setenv(key, aws.ToString(p.Value)); err != nil {
				return n, fmt.Errorf("unable to set environment variable %s: %w", key, err)
			}
			n++
		}
		if out.NextToken == nil {
			return n, nil
		}
		next = out.NextToken
	}
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
