package app

import (
	"fmt"
	"os"

	"feedsync/pkg/config"
)

// validateConfig performs quick, fail-fast validation of the effective
// configuration before starting long-running services.
func validateConfig(eff config.EffectiveConfigResult) error {
	if eff.DBPath == "" {
		return fmt.Errorf("database path is empty: set --db flag, FEEDSYNC_DB_PATH env, or storage.db_path in config")
	}

	cert := eff.Config.Server.TLS.CertFile
	key := eff.Config.Server.TLS.KeyFile
	if (cert != "" && key == "") || (cert == "" && key != "") {
		return fmt.Errorf("incomplete TLS configuration: both server.tls.cert_file and server.tls.key_file must be set")
	}
	if cert != "" {
		if _, err := os.Stat(cert); err != nil {
			return fmt.Errorf("tls cert file not accessible: %w", err)
		}
		if _, err := os.Stat(key); err != nil {
			return fmt.Errorf("tls key file not accessible: %w", err)
		}
	}

	switch eff.Config.Server.Engine {
	case "", "nethttp", "fasthttp":
	default:
		return fmt.Errorf("unknown server.engine %q: use nethttp or fasthttp", eff.Config.Server.Engine)
	}

	if eff.Config.Feed.Window < 0 {
		return fmt.Errorf("feed.window must not be negative")
	}
	return nil
}
