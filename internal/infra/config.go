package infra

import (
	"errors"
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"auction_go/internal/domain"

	"github.com/caarlos0/env/v6"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultAddr            = ":8080"
	DefaultInboxSize       = 1024
	DefaultSignatureWindow = 30 * time.Second
	DefaultStoragePath     = "data/auction.db"
	DefaultDumpPath        = "panic_dump.json"
)

// Config는 애플리케이션의 모든 설정을 담습니다.
// LoadConfig로 로드된 후에 환경 변수(AUCTION_*)를 통해 민감 내용을 덮어씁니다.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Auction struct {
		Owner        string          `yaml:"owner" env:"AUCTION_OWNER"`
		MinPrice     decimal.Decimal `yaml:"min_price" env:"AUCTION_MIN_PRICE"`
		UnitDecimals int32           `yaml:"unit_decimals" env:"AUCTION_UNIT_DECIMALS"`
		Duration     time.Duration   `yaml:"duration" env:"AUCTION_DURATION"`
		// push | pull
		Settlement        string `yaml:"settlement" env:"AUCTION_SETTLEMENT"`
		EmergencyWithdraw bool   `yaml:"emergency_withdraw" env:"AUCTION_EMERGENCY_WITHDRAW"`
		// Recipients that refuse incoming transfers (test deployments).
		RejectingRecipients []string `yaml:"rejecting_recipients" env:"AUCTION_REJECTING_RECIPIENTS" envSeparator:","`
	} `yaml:"auction"`

	Server struct {
		Addr            string        `yaml:"addr" env:"AUCTION_ADDR"`
		InboxSize       int           `yaml:"inbox_size" env:"AUCTION_INBOX_SIZE"`
		SignatureWindow time.Duration `yaml:"signature_window" env:"AUCTION_SIGNATURE_WINDOW"`
		DumpPath        string        `yaml:"dump_path" env:"AUCTION_DUMP_PATH"`
		PprofAddr       string        `yaml:"pprof_addr" env:"AUCTION_PPROF_ADDR"`
	} `yaml:"server"`

	Auth struct {
		// identity -> shared HMAC secret
		Secrets map[string]string `yaml:"secrets" env:"AUCTION_AUTH_SECRETS" envSeparator:"," envKeyValSeparator:":"`
	} `yaml:"auth"`

	Storage struct {
		Path string `yaml:"path" env:"AUCTION_STORAGE_PATH"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level" env:"AUCTION_LOG_LEVEL"`
		Dir   string `yaml:"dir" env:"AUCTION_LOG_DIR"`
	} `yaml:"logging"`
}

// LoadConfig는 설정 파일을 읽고 파싱합니다.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, &domain.ConfigError{Field: "path", Err: fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)}
		}
		return nil, err
	}
	return ParseConfig(data)
}

// ParseConfig decodes YAML, applies environment overrides and defaults, then validates.
func ParseConfig(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// 보안 우선 - 환경 변수 오버라이드 지원
	if err := overrideWithEnv(&cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()

	// 설정 유효성 검사
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Auction.Settlement == "" {
		c.Auction.Settlement = "push"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = DefaultAddr
	}
	if c.Server.InboxSize == 0 {
		c.Server.InboxSize = DefaultInboxSize
	}
	if c.Server.SignatureWindow == 0 {
		c.Server.SignatureWindow = DefaultSignatureWindow
	}
	if c.Server.DumpPath == "" {
		c.Server.DumpPath = DefaultDumpPath
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
	if c.Logging.Dir == "" {
		c.Logging.Dir = "logs"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if !domain.Identity(c.Auction.Owner).Valid() {
		return &domain.ConfigError{Field: "auction.owner", Err: domain.ErrInvalidIdentity}
	}
	if c.Auction.UnitDecimals < 0 || c.Auction.UnitDecimals > 18 {
		return &domain.ConfigError{Field: "auction.unit_decimals", Err: fmt.Errorf("must be within [0, 18], got %d", c.Auction.UnitDecimals)}
	}
	if _, err := c.MinPriceUnits(); err != nil {
		return &domain.ConfigError{Field: "auction.min_price", Err: err}
	}
	if c.Auction.Duration <= 0 {
		return &domain.ConfigError{Field: "auction.duration", Err: fmt.Errorf("must be positive, got %s", c.Auction.Duration)}
	}
	switch c.Auction.Settlement {
	case "push", "pull":
	default:
		return &domain.ConfigError{Field: "auction.settlement", Err: fmt.Errorf("unknown mode %q", c.Auction.Settlement)}
	}
	if c.Server.InboxSize < 0 {
		return &domain.ConfigError{Field: "server.inbox_size", Err: fmt.Errorf("must not be negative")}
	}
	if c.Server.SignatureWindow < 0 {
		return &domain.ConfigError{Field: "server.signature_window", Err: fmt.Errorf("must not be negative")}
	}
	for id, secret := range c.Auth.Secrets {
		if !domain.Identity(id).Valid() || secret == "" {
			return &domain.ConfigError{Field: "auth.secrets", Err: fmt.Errorf("empty identity or secret for %q", id)}
		}
	}
	return nil
}

// MinPriceUnits converts the configured decimal minimum price into base units.
// The conversion must be exact.
func (c *Config) MinPriceUnits() (int64, error) {
	units := c.Auction.MinPrice.Shift(c.Auction.UnitDecimals)
	if !units.Equal(units.Truncate(0)) {
		return 0, fmt.Errorf("%s has more than %d decimals", c.Auction.MinPrice, c.Auction.UnitDecimals)
	}
	if !units.IsPositive() {
		return 0, fmt.Errorf("%w: must be positive, got %s", domain.ErrInvalidAmount, c.Auction.MinPrice)
	}
	if !units.BigInt().IsInt64() {
		return 0, domain.ErrAmountOverflow
	}
	return units.IntPart(), nil
}

// FormatUnits renders base units as a decimal string for logs and the event feed.
func (c *Config) FormatUnits(units int64) string {
	return decimal.New(units, -c.Auction.UnitDecimals).String()
}

// overrideWithEnv는 환경 변수가 존재할 경우 설정 값을 덮어씁니다.
func overrideWithEnv(cfg *Config) error {
	return env.ParseWithFuncs(cfg, map[reflect.Type]env.ParserFunc{
		reflect.TypeOf(decimal.Decimal{}): func(v string) (interface{}, error) {
			return decimal.NewFromString(strings.TrimSpace(v))
		},
		reflect.TypeOf(map[string]string{}): func(v string) (interface{}, error) {
			return parseSecrets(v)
		},
	})
}

// parseSecrets는 "id:secret,id:secret" 형식을 파싱합니다.
func parseSecrets(v string) (map[string]string, error) {
	out := make(map[string]string)
	for _, pair := range strings.Split(v, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		id, secret, ok := strings.Cut(pair, ":")
		id, secret = strings.TrimSpace(id), strings.TrimSpace(secret)
		if !ok || id == "" || secret == "" {
			return nil, fmt.Errorf("invalid secret entry %q, want id:secret", pair)
		}
		out[id] = secret
	}
	return out, nil
}
