package config

import (
	"bytes"
	"path/filepath"
	"strings"
	"text/template"

	"github.com/creachadair/atomicfile"

	tmos "github.com/tendermint/aquarius/libs/os"
)

// defaultDirPerm is the default permissions used when creating directories.
const defaultDirPerm = 0700

var configTemplate *template.Template

func init() {
	var err error
	tmpl := template.New("configFileTemplate").Funcs(template.FuncMap{
		"StringsJoin": strings.Join,
	})
	if configTemplate, err = tmpl.Parse(defaultConfigTemplate); err != nil {
		panic(err)
	}
}

/****** these are for production settings ***********/

// EnsureRoot creates the root, config, and data directories if they don't exist,
// and returns an error if it fails.
func EnsureRoot(rootDir string) error {
	if err := tmos.EnsureDir(rootDir, defaultDirPerm); err != nil {
		return err
	}
	if err := tmos.EnsureDir(filepath.Join(rootDir, defaultConfigDir), defaultDirPerm); err != nil {
		return err
	}
	return tmos.EnsureDir(filepath.Join(rootDir, defaultDataDir), defaultDirPerm)
}

// ConfigFilePath returns the location of config.toml under rootDir.
func ConfigFilePath(rootDir string) string {
	return filepath.Join(rootDir, defaultConfigFilePath)
}

// WriteConfigFile renders config using the template and writes it to
// the config.toml of rootDir. This function is called by
// cmd/aquarius/commands/init.go
func WriteConfigFile(rootDir string, config *Config) error {
	return config.WriteToTemplate(ConfigFilePath(rootDir))
}

// WriteToTemplate writes the config to the exact file specified by
// the path, in the default toml template and does not mangle the path
// or filename at all.
func (cfg *Config) WriteToTemplate(path string) error {
	var buffer bytes.Buffer

	if err := configTemplate.Execute(&buffer, cfg); err != nil {
		return err
	}

	return atomicfile.WriteData(path, buffer.Bytes(), 0644)
}

// Note: any changes to the comments/variables/mapstructure
// must be reflected in the appropriate struct in config/config.go
const defaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

# NOTE: Any path below can be absolute (e.g. "/var/aquarius/data") or
# relative to the home directory (e.g. "data"). The home directory is
# "$HOME/.aquarius" by default, but could be changed via $AQUARIUS_HOME env variable
# or --home cmd flag.

# The deployment environment variables (DB_HOSTNAME, NETWORK_URL,
# ADDRESS_FILE, ALLOWED_PUBLISHERS, ...) override the values below.

#######################################################################
###                   Main Base Config Options                      ###
#######################################################################

# Output level for logging, including package level options
log-level = "{{ .BaseConfig.LogLevel }}"

# Output format: 'plain' (colored text) or 'json'
log-format = "{{ .BaseConfig.LogFormat }}"

# Hex encoded secp256k1 key used to sign validation responses and
# decryption requests. Prefer the PRIVATE_KEY environment variable.
private-key = "{{ .BaseConfig.PrivateKey }}"

# Database backend of the embedded store: goleveldb | memdb
db-backend = "{{ .BaseConfig.DBBackend }}"

# Database directory
db-dir = "{{ js .BaseConfig.DBPath }}"

#######################################################################
###                 Advanced Configuration Options                  ###
#######################################################################

#######################################################
###            Asset Store Configuration Options    ###
#######################################################
[store]

# elasticsearch | kv
backend = "{{ .Store.Backend }}"

# Name of the asset index. Chain bookkeeping is kept in "<index>_plus".
index = "{{ .Store.Index }}"

es-address = "{{ .Store.ESAddress }}"
es-username = "{{ .Store.ESUsername }}"
es-password = "{{ .Store.ESPassword }}"

# TLS material used when es-address is an https URL.
tls-ca-cert = "{{ js .Store.TLSCACert }}"
tls-client-cert = "{{ js .Store.TLSClientCert }}"
tls-client-key = "{{ js .Store.TLSClientKey }}"
tls-verify = {{ .Store.TLSVerify }}

# Interval between connection attempts while the store is unavailable.
retry-interval = "{{ .Store.RetryInterval }}"

#######################################################
###            Chain Configuration Options          ###
#######################################################
[chain]

# JSON-RPC endpoint of the EVM node
rpc-url = "{{ .Chain.RPCURL }}"

# Websocket endpoint used to subscribe to new heads (optional)
ws-url = "{{ .Chain.WSURL }}"

# Contract addresses produced by the contracts deployment
address-file = "{{ js .Chain.AddressFile }}"

request-timeout = "{{ .Chain.RequestTimeout }}"

# How long "start --wait-artifacts" and "wait-artifacts" wait for the address file.
artifacts-wait-attempts = {{ .Chain.ArtifactsWaitAttempts }}
artifacts-wait-interval = "{{ .Chain.ArtifactsWaitInterval }}"

#######################################################
###         Events Monitor Configuration Options    ###
#######################################################
[events]

enabled = {{ .Events.Enabled }}

# Delete every asset of the chain on start and re-index from start-block.
clean-start = {{ .Events.CleanStart }}

# Pause between two polls of the chain.
sleep-time = "{{ .Events.SleepTime }}"

# Number of blocks processed at once.
chunk-size = {{ .Events.ChunkSize }}

# First block to scan. A negative value reads startBlock from the address file.
start-block = {{ .Events.StartBlock }}

# Only cache assets published by these addresses. Empty allows all.
allowed-publishers = [{{ range .Events.AllowedPublishers }}{{ printf "%q, " . }}{{end}}]

# Only cache assets validated by one of these addresses. Empty disables the check.
allowed-validators = [{{ range .Events.AllowedValidators }}{{ printf "%q, " . }}{{end}}]

#######################################################
###          Purgatory Configuration Options        ###
#######################################################
[purgatory]

asset-url = "{{ .Purgatory.AssetURL }}"
account-url = "{{ .Purgatory.AccountURL }}"
update-interval = "{{ .Purgatory.UpdateInterval }}"

#######################################################
###            RBAC Configuration Options           ###
#######################################################
[rbac]

url = "{{ .RBAC.URL }}"

#######################################################
###             API Server Configuration Options    ###
#######################################################
[api]

# TCP address for the HTTP API to listen on
listen-address = "{{ .API.ListenAddress }}"

# A list of origins a cross-domain request can be executed from
# Default value '[]' disables cors support
# Use '["*"]' to allow any origin
cors-allowed-origins = [{{ range .API.CORSAllowedOrigins }}{{ printf "%q, " . }}{{end}}]

# A list of methods the client is allowed to use with cross-domain requests
cors-allowed-methods = [{{ range .API.CORSAllowedMethods }}{{ printf "%q, " . }}{{end}}]

# A list of non simple headers the client is allowed to use with cross-domain requests
cors-allowed-headers = [{{ range .API.CORSAllowedHeaders }}{{ printf "%q, " . }}{{end}}]

# Maximum size of request body, in bytes
max-body-bytes = {{ .API.MaxBodyBytes }}

read-timeout = "{{ .API.ReadTimeout }}"
write-timeout = "{{ .API.WriteTimeout }}"

#######################################################
###           Audit Sink Configuration Options      ###
#######################################################
[audit]

# null | psql
sink = "{{ .Audit.Sink }}"

# postgresql://<user>:<password>@<host>:<port>/<db>?sslmode=disable
psql-conn = "{{ .Audit.PsqlConn }}"

#######################################################
###       Instrumentation Configuration Options     ###
#######################################################
[instrumentation]

# When true, Prometheus metrics are served under /metrics on the API
# listen address.
prometheus = {{ .Instrumentation.Prometheus }}

# Instrumentation namespace
namespace = "{{ .Instrumentation.Namespace }}"
`
