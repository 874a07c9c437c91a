package config

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Accepted names for the enumerated settings.
var (
	filterNames    = []string{"trim", "stddev"}
	estimatorNames = []string{"adjusted_mean", "regression"}
	rankingNames   = []string{"price", "distance"}
	logLevels      = []string{"debug", "info", "warn", "error"}
	logFormats     = []string{"text", "json"}
)

// problems collects validation failures.
type problems []string

func (p *problems) check(ok bool, format string, args ...any) {
	if !ok {
		*p = append(*p, fmt.Sprintf(format, args...))
	}
}

func (p *problems) oneOf(env, value string, allowed []string) {
	p.check(slices.Contains(allowed, value), "%s (%q) must be one of: %s", env, value, strings.Join(allowed, ", "))
}

// Validate reports every invalid setting in one error.
func (c *Config) Validate() error {
	var p problems

	db := c.Database
	p.check(db.URL != "", "DATABASE_URL is required")
	p.check(db.MaxConns > 0, "DB_MAX_CONNS must be positive")
	p.check(db.MinConns >= 0, "DB_MIN_CONNS must be non-negative")
	p.check(db.MaxConns >= db.MinConns, "DB_MAX_CONNS (%d) must be >= DB_MIN_CONNS (%d)", db.MaxConns, db.MinConns)

	srv := c.Server
	p.check(srv.Port > 0 && srv.Port <= 65535, "SERVER_PORT (%d) must be 1-65535", srv.Port)
	p.check(srv.ReadTimeout >= 0, "SERVER_READ_TIMEOUT must be non-negative")
	p.check(srv.ShutdownTimeout > 0, "SERVER_SHUTDOWN_TIMEOUT must be positive")

	imp := c.Import
	p.check(imp.BatchSize > 0, "IMPORT_BATCH_SIZE must be positive")
	p.check(imp.MaxConcurrent > 0, "IMPORT_MAX_CONCURRENT must be positive")
	p.check(imp.AcquireTimeout > 0, "IMPORT_ACQUIRE_TIMEOUT must be positive")
	p.check(imp.MaxUploadSize > 0, "IMPORT_MAX_UPLOAD_SIZE must be positive")
	p.check(imp.FetchRetries > 0, "IMPORT_FETCH_RETRIES must be positive")

	val := c.Valuation
	p.oneOf("VALUATION_FILTER", val.Filter, filterNames)
	p.oneOf("VALUATION_ESTIMATOR", val.Estimator, estimatorNames)
	p.oneOf("VALUATION_RANKING", val.Ranking, rankingNames)
	p.check(val.TrimFraction >= 0 && val.TrimFraction < 0.5, "OUTLIER_TRIM_PCT (%g) must be in [0, 0.5)", val.TrimFraction)
	p.check(val.StdDevMultiple > 0, "OUTLIER_STDDEV_MULTIPLE must be positive")
	p.check(val.DepreciationPer10k >= 0, "DEPRECIATION_PER_10K must be non-negative")

	p.check(!c.Rate.Enabled || c.Rate.RequestsPerMinute > 0,
		"RATE_LIMIT_REQUESTS_PER_MINUTE must be positive when rate limiting is enabled")

	p.oneOf("LOG_LEVEL", strings.ToLower(c.Logging.Level), logLevels)
	p.oneOf("LOG_FORMAT", strings.ToLower(c.Logging.Format), logFormats)

	if len(p) > 0 {
		return fmt.Errorf("validation failed:\n  - %s", strings.Join(p, "\n  - "))
	}
	return nil
}

// String renders the settings worth logging at startup. The database
// password is masked.
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %s, Database: {URL: %s, MaxConns: %d, MinConns: %d}, "+
		"Import: {BatchSize: %d, MaxConcurrent: %d}, "+
		"Valuation: {Filter: %s, Estimator: %s, Ranking: %s, TrimFraction: %g, DepreciationPer10k: %d, Statuses: %v}, "+
		"Logging: {Level: %q, Format: %q}}",
		c.Server.Addr(),
		maskURL(c.Database.URL), c.Database.MaxConns, c.Database.MinConns,
		c.Import.BatchSize, c.Import.MaxConcurrent,
		c.Valuation.Filter, c.Valuation.Estimator, c.Valuation.Ranking,
		c.Valuation.TrimFraction, c.Valuation.DepreciationPer10k, c.Valuation.Statuses,
		c.Logging.Level, c.Logging.Format,
	)
}

// maskURL hides the password of a connection URL. Unparseable values are
// masked entirely.
func maskURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" {
		return "[MASKED]"
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "xxxxx")
	}
	return u.String()
}
