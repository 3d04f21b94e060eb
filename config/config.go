package config

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/tendermint/aquarius/libs/log"
)

const (
	// StoreBackendElasticsearch keeps assets in an Elasticsearch cluster.
	StoreBackendElasticsearch = "elasticsearch"
	// StoreBackendKV keeps assets in an embedded tm-db database.
	StoreBackendKV = "kv"

	AuditSinkNull = "null"
	AuditSinkPSQL = "psql"
)

// NOTE: Most of the structs & relevant comments + the
// default configuration options were used to manually
// generate the config.toml. Please reflect any changes
// made here in the defaultConfigTemplate constant in
// config/toml.go
var (
	DefaultAquariusDir = ".aquarius"
	defaultConfigDir   = "config"
	defaultDataDir     = "data"

	defaultConfigFileName = "config.toml"

	defaultConfigFilePath = filepath.Join(defaultConfigDir, defaultConfigFileName)
)

// Config defines the top level configuration for an aquarius node
type Config struct {
	// Top level options use an anonymous struct
	BaseConfig `mapstructure:",squash"`

	// Options for services
	Store           *StoreConfig           `mapstructure:"store"`
	Chain           *ChainConfig           `mapstructure:"chain"`
	Events          *EventsConfig          `mapstructure:"events"`
	Purgatory       *PurgatoryConfig       `mapstructure:"purgatory"`
	RBAC            *RBACConfig            `mapstructure:"rbac"`
	API             *APIConfig             `mapstructure:"api"`
	Audit           *AuditConfig           `mapstructure:"audit"`
	Instrumentation *InstrumentationConfig `mapstructure:"instrumentation"`
}

// DefaultConfig returns a default configuration for an aquarius node
func DefaultConfig() *Config {
	return &Config{
		BaseConfig:      DefaultBaseConfig(),
		Store:           DefaultStoreConfig(),
		Chain:           DefaultChainConfig(),
		Events:          DefaultEventsConfig(),
		Purgatory:       DefaultPurgatoryConfig(),
		RBAC:            DefaultRBACConfig(),
		API:             DefaultAPIConfig(),
		Audit:           DefaultAuditConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// TestConfig returns a configuration that can be used for testing
func TestConfig() *Config {
	return &Config{
		BaseConfig:      TestBaseConfig(),
		Store:           TestStoreConfig(),
		Chain:           DefaultChainConfig(),
		Events:          TestEventsConfig(),
		Purgatory:       DefaultPurgatoryConfig(),
		RBAC:            DefaultRBACConfig(),
		API:             TestAPIConfig(),
		Audit:           DefaultAuditConfig(),
		Instrumentation: DefaultInstrumentationConfig(),
	}
}

// SetRoot sets the RootDir for all Config structs
func (cfg *Config) SetRoot(root string) *Config {
	cfg.BaseConfig.RootDir = root
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *Config) ValidateBasic() error {
	if err := cfg.BaseConfig.ValidateBasic(); err != nil {
		return err
	}
	if err := cfg.Store.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [store] section: %w", err)
	}
	if err := cfg.Chain.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [chain] section: %w", err)
	}
	if err := cfg.Events.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [events] section: %w", err)
	}
	if err := cfg.Purgatory.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [purgatory] section: %w", err)
	}
	if err := cfg.API.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [api] section: %w", err)
	}
	if err := cfg.Audit.ValidateBasic(); err != nil {
		return fmt.Errorf("error in [audit] section: %w", err)
	}
	return nil
}

//-----------------------------------------------------------------------------
// BaseConfig

// BaseConfig defines the base configuration for an aquarius node
type BaseConfig struct {
	// The root directory for all data.
	// This should be set in viper so it can unmarshal into this struct
	RootDir string `mapstructure:"home"`

	// Output level for logging
	LogLevel string `mapstructure:"log-level"`

	// Output format: 'plain' (colored text) or 'json'
	LogFormat string `mapstructure:"log-format"`

	// Hex encoded secp256k1 key used to sign validation responses and
	// decryption requests sent to the Provider.
	PrivateKey string `mapstructure:"private-key"`

	// Database backend for the embedded store: goleveldb | memdb
	DBBackend string `mapstructure:"db-backend"`

	// Database directory
	DBPath string `mapstructure:"db-dir"`
}

// DefaultBaseConfig returns a default base configuration for an aquarius node
func DefaultBaseConfig() BaseConfig {
	return BaseConfig{
		LogLevel:  log.LogLevelInfo,
		LogFormat: log.LogFormatPlain,
		DBBackend: "goleveldb",
		DBPath:    "data",
	}
}

// TestBaseConfig returns a base configuration for testing an aquarius node
func TestBaseConfig() BaseConfig {
	cfg := DefaultBaseConfig()
	cfg.DBBackend = "memdb"
	cfg.LogLevel = log.LogLevelDebug
	return cfg
}

// DBDir returns the full path to the database directory
func (cfg BaseConfig) DBDir() string {
	return rootify(cfg.DBPath, cfg.RootDir)
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg BaseConfig) ValidateBasic() error {
	switch cfg.LogFormat {
	case log.LogFormatJSON, log.LogFormatText, log.LogFormatPlain:
	default:
		return errors.New("unknown log format (must be 'plain', 'text' or 'json')")
	}

	switch strings.ToLower(cfg.LogLevel) {
	case log.LogLevelDebug, log.LogLevelInfo, log.LogLevelWarn, log.LogLevelError:
	default:
		return fmt.Errorf("unknown log level %q", cfg.LogLevel)
	}

	switch cfg.DBBackend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unsupported db-backend %q (must be goleveldb or memdb)", cfg.DBBackend)
	}

	if cfg.PrivateKey != "" {
		key := strings.TrimPrefix(cfg.PrivateKey, "0x")
		if len(key) != 64 {
			return errors.New("private-key must be 32 hex encoded bytes")
		}
	}
	return nil
}

//-----------------------------------------------------------------------------
// StoreConfig

// StoreConfig defines where assets are cached.
type StoreConfig struct {
	// elasticsearch | kv
	Backend string `mapstructure:"backend"`

	// Name of the asset index. Chain bookkeeping lives in "<index>_plus".
	Index string `mapstructure:"index"`

	// Elasticsearch node address, e.g. "http://elasticsearch:9200"
	ESAddress  string `mapstructure:"es-address"`
	ESUsername string `mapstructure:"es-username"`
	ESPassword string `mapstructure:"es-password"`

	// TLS material used when es-address is an https URL.
	TLSCACert     string `mapstructure:"tls-ca-cert"`
	TLSClientCert string `mapstructure:"tls-client-cert"`
	TLSClientKey  string `mapstructure:"tls-client-key"`
	TLSVerify     bool   `mapstructure:"tls-verify"`

	// Interval between Ping attempts while waiting for the store to come up.
	RetryInterval time.Duration `mapstructure:"retry-interval"`
}

// DefaultStoreConfig returns a default configuration for the asset store.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Backend:       StoreBackendElasticsearch,
		Index:         "aquarius",
		ESAddress:     "http://localhost:9200",
		TLSVerify:     true,
		RetryInterval: 5 * time.Second,
	}
}

// TestStoreConfig returns a store configuration for testing.
func TestStoreConfig() *StoreConfig {
	cfg := DefaultStoreConfig()
	cfg.Backend = StoreBackendKV
	cfg.RetryInterval = 10 * time.Millisecond
	return cfg
}

// IsTLSEnabled reports whether the Elasticsearch connection is over https.
func (cfg *StoreConfig) IsTLSEnabled() bool {
	return strings.HasPrefix(cfg.ESAddress, "https://")
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *StoreConfig) ValidateBasic() error {
	switch cfg.Backend {
	case StoreBackendElasticsearch:
		if _, err := url.ParseRequestURI(cfg.ESAddress); err != nil {
			return fmt.Errorf("invalid es-address: %w", err)
		}
	case StoreBackendKV:
	default:
		return fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
	if cfg.Index == "" {
		return errors.New("index can't be empty")
	}
	if cfg.RetryInterval <= 0 {
		return errors.New("retry-interval must be positive")
	}
	return nil
}

//-----------------------------------------------------------------------------
// ChainConfig

// ChainConfig defines how the node talks to the EVM network.
type ChainConfig struct {
	// JSON-RPC endpoint of the EVM node, e.g. "http://172.15.0.3:8545"
	RPCURL string `mapstructure:"rpc-url"`

	// Optional websocket endpoint used to subscribe to new heads. When empty
	// and rpc-url is a ws(s) URL, rpc-url is used.
	WSURL string `mapstructure:"ws-url"`

	// Contract addresses file produced by the contracts deployment.
	AddressFile string `mapstructure:"address-file"`

	// Timeout applied to every JSON-RPC request.
	RequestTimeout time.Duration `mapstructure:"request-timeout"`

	// Bounds of the wait for the address file to appear.
	ArtifactsWaitAttempts int           `mapstructure:"artifacts-wait-attempts"`
	ArtifactsWaitInterval time.Duration `mapstructure:"artifacts-wait-interval"`
}

// DefaultChainConfig returns a default chain configuration.
func DefaultChainConfig() *ChainConfig {
	return &ChainConfig{
		RPCURL:                "http://localhost:8545",
		RequestTimeout:        30 * time.Second,
		ArtifactsWaitAttempts: 50,
		ArtifactsWaitInterval: 5 * time.Second,
	}
}

// WebsocketURL returns the endpoint to subscribe to new heads, or "" when
// none is available.
func (cfg *ChainConfig) WebsocketURL() string {
	if cfg.WSURL != "" {
		return cfg.WSURL
	}
	if strings.HasPrefix(cfg.RPCURL, "ws://") || strings.HasPrefix(cfg.RPCURL, "wss://") {
		return cfg.RPCURL
	}
	return ""
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *ChainConfig) ValidateBasic() error {
	if _, err := url.ParseRequestURI(cfg.RPCURL); err != nil {
		return fmt.Errorf("invalid rpc-url: %w", err)
	}
	if cfg.RequestTimeout <= 0 {
		return errors.New("request-timeout must be positive")
	}
	if cfg.ArtifactsWaitAttempts < 1 {
		return errors.New("artifacts-wait-attempts must be at least 1")
	}
	if cfg.ArtifactsWaitInterval < 0 {
		return errors.New("artifacts-wait-interval can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// EventsConfig

// EventsConfig defines the behaviour of the events monitor.
type EventsConfig struct {
	// Run the events monitor alongside the API.
	Enabled bool `mapstructure:"enabled"`

	// Delete every asset of the chain and restart from start-block.
	CleanStart bool `mapstructure:"clean-start"`

	// Pause between two polls of the chain.
	SleepTime time.Duration `mapstructure:"sleep-time"`

	// Number of blocks processed (and committed) at once.
	ChunkSize int64 `mapstructure:"chunk-size"`

	// First block to scan when nothing was processed yet. Negative means
	// "use the address file".
	StartBlock int64 `mapstructure:"start-block"`

	// Only cache assets published by these addresses. Empty allows all.
	AllowedPublishers []string `mapstructure:"allowed-publishers"`

	// Only cache assets carrying a MetadataValidated proof from one of these
	// addresses. Empty disables the check.
	AllowedValidators []string `mapstructure:"allowed-validators"`
}

// DefaultEventsConfig returns a default events monitor configuration.
func DefaultEventsConfig() *EventsConfig {
	return &EventsConfig{
		Enabled:    true,
		SleepTime:  10 * time.Second,
		ChunkSize:  1000,
		StartBlock: -1,
	}
}

// TestEventsConfig returns an events configuration for testing.
func TestEventsConfig() *EventsConfig {
	cfg := DefaultEventsConfig()
	cfg.SleepTime = 50 * time.Millisecond
	cfg.ChunkSize = 10
	return cfg
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *EventsConfig) ValidateBasic() error {
	if cfg.SleepTime <= 0 {
		return errors.New("sleep-time must be positive")
	}
	if cfg.ChunkSize < 1 {
		return errors.New("chunk-size must be at least 1")
	}
	return nil
}

//-----------------------------------------------------------------------------
// PurgatoryConfig

// PurgatoryConfig defines the lists of flagged assets and accounts.
type PurgatoryConfig struct {
	AssetURL   string `mapstructure:"asset-url"`
	AccountURL string `mapstructure:"account-url"`

	// Minimum time between two refreshes of the lists.
	UpdateInterval time.Duration `mapstructure:"update-interval"`
}

// DefaultPurgatoryConfig returns a default purgatory configuration.
func DefaultPurgatoryConfig() *PurgatoryConfig {
	return &PurgatoryConfig{
		UpdateInterval: time.Hour,
	}
}

// IsEnabled reports whether at least one purgatory list is configured.
func (cfg *PurgatoryConfig) IsEnabled() bool {
	return cfg.AssetURL != "" || cfg.AccountURL != ""
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *PurgatoryConfig) ValidateBasic() error {
	if cfg.UpdateInterval < 0 {
		return errors.New("update-interval can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// RBACConfig

// RBACConfig points at an optional role based access control server that
// must approve DDOs submitted for validation.
type RBACConfig struct {
	URL string `mapstructure:"url"`
}

// DefaultRBACConfig returns a default RBAC configuration.
func DefaultRBACConfig() *RBACConfig {
	return &RBACConfig{}
}

// IsEnabled reports whether an RBAC server is configured.
func (cfg *RBACConfig) IsEnabled() bool { return cfg.URL != "" }

//-----------------------------------------------------------------------------
// APIConfig

// APIConfig defines the HTTP API server.
type APIConfig struct {
	// TCP address for the HTTP API to listen on
	ListenAddress string `mapstructure:"listen-address"`

	// A list of origins a cross-domain request can be executed from.
	// If the special '*' value is present in the list, all origins will be allowed.
	CORSAllowedOrigins []string `mapstructure:"cors-allowed-origins"`

	// A list of methods the client is allowed to use with cross-domain requests.
	CORSAllowedMethods []string `mapstructure:"cors-allowed-methods"`

	// A list of non simple headers the client is allowed to use with cross-domain requests.
	CORSAllowedHeaders []string `mapstructure:"cors-allowed-headers"`

	// Maximum size of request body, in bytes
	MaxBodyBytes int64 `mapstructure:"max-body-bytes"`

	// Timeouts of the HTTP server.
	ReadTimeout  time.Duration `mapstructure:"read-timeout"`
	WriteTimeout time.Duration `mapstructure:"write-timeout"`
}

// DefaultAPIConfig returns a default configuration for the HTTP API.
func DefaultAPIConfig() *APIConfig {
	return &APIConfig{
		ListenAddress:      "tcp://0.0.0.0:5000",
		CORSAllowedOrigins: []string{},
		CORSAllowedMethods: []string{"HEAD", "GET", "POST"},
		CORSAllowedHeaders: []string{"Origin", "Accept", "Content-Type", "X-Requested-With", "X-Server-Time"},
		MaxBodyBytes:       int64(1000000), // 1MB
		ReadTimeout:        10 * time.Second,
		WriteTimeout:       60 * time.Second,
	}
}

// TestAPIConfig returns an API configuration for testing.
func TestAPIConfig() *APIConfig {
	cfg := DefaultAPIConfig()
	cfg.ListenAddress = "tcp://127.0.0.1:0"
	return cfg
}

// IsCorsEnabled returns true if cross-origin resource sharing is enabled.
func (cfg *APIConfig) IsCorsEnabled() bool {
	return len(cfg.CORSAllowedOrigins) != 0
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *APIConfig) ValidateBasic() error {
	if !strings.Contains(cfg.ListenAddress, "://") {
		return errors.New("listen-address must be fully formed, e.g. tcp://0.0.0.0:5000")
	}
	if cfg.MaxBodyBytes < 0 {
		return errors.New("max-body-bytes can't be negative")
	}
	if cfg.ReadTimeout < 0 || cfg.WriteTimeout < 0 {
		return errors.New("timeouts can't be negative")
	}
	return nil
}

//-----------------------------------------------------------------------------
// AuditConfig

// AuditConfig selects where processed on-chain events are recorded.
type AuditConfig struct {
	// null | psql
	Sink string `mapstructure:"sink"`

	// PostgreSQL connection string, e.g.
	// "postgresql://<user>:<password>@<host>:<port>/<db>?sslmode=disable"
	PsqlConn string `mapstructure:"psql-conn"`
}

// DefaultAuditConfig returns a default configuration for the audit sink.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{Sink: AuditSinkNull}
}

// ValidateBasic performs basic validation (checking param bounds, etc.) and
// returns an error if any check fails.
func (cfg *AuditConfig) ValidateBasic() error {
	switch cfg.Sink {
	case AuditSinkNull:
	case AuditSinkPSQL:
		if cfg.PsqlConn == "" {
			return errors.New("psql-conn is required for the psql sink")
		}
	default:
		return fmt.Errorf("unsupported audit sink %q", cfg.Sink)
	}
	return nil
}

//-----------------------------------------------------------------------------
// InstrumentationConfig

// InstrumentationConfig defines the configuration for metrics reporting.
type InstrumentationConfig struct {
	// When true, Prometheus metrics are served under /metrics on
	// the API listen address.
	Prometheus bool `mapstructure:"prometheus"`

	// Instrumentation namespace.
	Namespace string `mapstructure:"namespace"`
}

// DefaultInstrumentationConfig returns a default configuration for metrics
// reporting.
func DefaultInstrumentationConfig() *InstrumentationConfig {
	return &InstrumentationConfig{
		Prometheus: false,
		Namespace:  "aquarius",
	}
}

//-----------------------------------------------------------------------------
// Utils

// helper function to make config creation independent of root dir
func rootify(path, root string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}
