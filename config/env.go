package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// minSleepTime is the lowest pause between two polls accepted from the
// OCN_EVENTS_MONITOR_QUITE_TIME variable.
const minSleepTime = 10 * time.Second

// LookupEnvFunc mirrors os.LookupEnv.
type LookupEnvFunc func(key string) (string, bool)

// ApplyEnv overrides cfg with the environment variables exported by the
// deployment composition (DB_*, NETWORK_URL, ADDRESS_FILE, ...). Values that
// are present but malformed are reported as errors rather than ignored, except
// OCN_EVENTS_MONITOR_QUITE_TIME which falls back to minSleepTime.
func ApplyEnv(cfg *Config, lookup LookupEnvFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	env := envReader{lookup: lookup}

	env.str("LOG_LEVEL", func(v string) { cfg.LogLevel = strings.ToLower(v) })
	env.str("PRIVATE_KEY", func(v string) { cfg.PrivateKey = v })

	// store
	env.str("DB_MODULE", func(v string) { cfg.Store.Backend = strings.ToLower(v) })
	env.str("DB_INDEX", func(v string) { cfg.Store.Index = v })
	env.str("DB_USERNAME", func(v string) { cfg.Store.ESUsername = v })
	env.str("DB_PASSWORD", func(v string) { cfg.Store.ESPassword = v })
	env.str("DB_CA_CERTS", func(v string) { cfg.Store.TLSCACert = v })
	env.str("DB_CLIENT_CERT", func(v string) { cfg.Store.TLSClientCert = v })
	env.str("DB_CLIENT_KEY", func(v string) { cfg.Store.TLSClientKey = v })
	env.boolean("DB_VERIFY_CERTS", func(v bool) { cfg.Store.TLSVerify = v })
	if addr, ok, err := esAddressFromEnv(lookup); err != nil {
		env.errs = append(env.errs, err)
	} else if ok {
		cfg.Store.ESAddress = addr
	}

	// chain
	env.str("EVENTS_RPC", func(v string) { cfg.Chain.RPCURL = v })
	env.str("NETWORK_URL", func(v string) { cfg.Chain.RPCURL = v })
	env.str("ADDRESS_FILE", func(v string) { cfg.Chain.AddressFile = v })

	// events
	env.boolean("EVENTS_ALLOW", func(v bool) { cfg.Events.Enabled = v })
	env.boolean("RUN_EVENTS_MONITOR", func(v bool) { cfg.Events.Enabled = v })
	env.boolean("EVENTS_CLEAN_START", func(v bool) { cfg.Events.CleanStart = v })
	env.str("OCN_EVENTS_MONITOR_QUITE_TIME", func(v string) { cfg.Events.SleepTime = parseSleepTime(v) })
	env.integer("BLOCKS_CHUNK_SIZE", func(v int64) { cfg.Events.ChunkSize = v })
	env.integer("METADATA_CONTRACT_BLOCK", func(v int64) { cfg.Events.StartBlock = v })
	env.list("ALLOWED_PUBLISHERS", func(v []string) { cfg.Events.AllowedPublishers = v })
	env.list("ALLOWED_VALIDATORS", func(v []string) { cfg.Events.AllowedValidators = v })

	// ancillary services
	env.str("ASSET_PURGATORY_URL", func(v string) { cfg.Purgatory.AssetURL = v })
	env.str("ACCOUNT_PURGATORY_URL", func(v string) { cfg.Purgatory.AccountURL = v })
	env.str("RBAC_SERVER_URL", func(v string) { cfg.RBAC.URL = v })
	env.str("AQUARIUS_BIND_URL", func(v string) { cfg.API.ListenAddress = bindURLToListenAddress(v) })
	env.str("EVENTS_PSQL_CONN", func(v string) {
		cfg.Audit.Sink = AuditSinkPSQL
		cfg.Audit.PsqlConn = v
	})

	return env.err()
}

// esAddressFromEnv assembles the Elasticsearch URL from DB_SCHEME,
// DB_HOSTNAME, DB_PORT and DB_SSL.
func esAddressFromEnv(lookup LookupEnvFunc) (string, bool, error) {
	host, ok := lookup("DB_HOSTNAME")
	if !ok || host == "" {
		return "", false, nil
	}

	scheme := "http"
	if v, ok := lookup("DB_SCHEME"); ok && v != "" {
		scheme = strings.ToLower(v)
	}
	if v, ok := lookup("DB_SSL"); ok && v != "" {
		ssl, err := parseBool(v)
		if err != nil {
			return "", false, fmt.Errorf("DB_SSL: %w", err)
		}
		if ssl {
			scheme = "https"
		}
	}

	port := "9200"
	if v, ok := lookup("DB_PORT"); ok && v != "" {
		if _, err := strconv.ParseUint(v, 10, 16); err != nil {
			return "", false, fmt.Errorf("DB_PORT: invalid port %q", v)
		}
		port = v
	}

	return fmt.Sprintf("%s://%s:%s", scheme, host, port), true, nil
}

// parseSleepTime reads a pause in whole seconds. Unreadable values and
// values below minSleepTime yield minSleepTime.
func parseSleepTime(v string) time.Duration {
	secs, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		return minSleepTime
	}
	d := time.Duration(secs) * time.Second
	if d < minSleepTime {
		return minSleepTime
	}
	return d
}

// bindURLToListenAddress turns "http://0.0.0.0:5000" into "tcp://0.0.0.0:5000".
func bindURLToListenAddress(v string) string {
	for _, p := range []string{"http://", "https://"} {
		if strings.HasPrefix(v, p) {
			return "tcp://" + strings.TrimPrefix(v, p)
		}
	}
	if !strings.Contains(v, "://") {
		return "tcp://" + v
	}
	return v
}

// parseBool accepts the truthy spellings used across the deployment files
// ("1", "true", "yes", "on").
func parseBool(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on", "t", "y":
		return true, nil
	case "0", "false", "no", "off", "f", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid boolean %q", v)
}

type envReader struct {
	lookup LookupEnvFunc
	errs   []error
}

func (e *envReader) str(key string, set func(string)) {
	if v, ok := e.lookup(key); ok && v != "" {
		set(v)
	}
}

func (e *envReader) boolean(key string, set func(bool)) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := parseBool(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: %w", key, err))
		return
	}
	set(b)
}

func (e *envReader) integer(key string, set func(int64)) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: invalid integer %q", key, v))
		return
	}
	set(i)
}

func (e *envReader) list(key string, set func([]string)) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	var l []string
	if err := json.Unmarshal([]byte(v), &l); err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s: expected a JSON list of strings: %w", key, err))
		return
	}
	set(l)
}

func (e *envReader) err() error {
	switch len(e.errs) {
	case 0:
		return nil
	case 1:
		return e.errs[0]
	}
	msgs := make([]string, 0, len(e.errs))
	for _, err := range e.errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Errorf("invalid environment: %s", strings.Join(msgs, "; "))
}
