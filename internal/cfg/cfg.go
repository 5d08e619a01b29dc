package cfg

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
)

// EnvPrefix is prepended to upper-cased flag names when reading the environment.
const EnvPrefix = "CVSITE_"

type App struct {
	LogJSON           bool
	LogLevel          string
	HTTPPort          int
	AdminPort         int
	EnablePprof       bool
	EnablePyroscope   bool
	EnableTracing     bool
	PyroServer        string
	PyroTenantID      string
	OTLPEndpoint      string
	TraceSample       float64
	StacktraceLevel   string
	IncludeErrorLinks bool
	MaxErrorLinks     int

	DataDir    string
	MaxBackups int

	AdminUsername     string
	AdminPasswordHash string
	TokenSecret       string
	TokenTTL          time.Duration
	SecretsSSMPrefix  string

	BackupS3Bucket string
	BackupS3Prefix string

	LoginRate        float64
	LoginBurst       int
	TrustedProxyHops int
}

// Register binds every setting to fs. Defaults live here.
func Register(fs *flag.FlagSet, c *App) {
	registerObservability(fs, c)
	registerStore(fs, c)
	registerAuth(fs, c)
}

func registerObservability(fs *flag.FlagSet, c *App) {
	fs.IntVar(&c.HTTPPort, "http-port", 8080, "public API listen port")
	fs.IntVar(&c.AdminPort, "admin-port", 9000, "metrics, probes and pprof listen port")
	fs.BoolVar(&c.LogJSON, "log-json", true, "emit JSON logs instead of logfmt")
	fs.StringVar(&c.LogLevel, "log-level", "info", "minimum log level: debug, info, warn or error")
	fs.StringVar(&c.StacktraceLevel, "stacktrace-level", "error", "attach stacks to records at or above this level")
	fs.BoolVar(&c.IncludeErrorLinks, "include-error-links", true, "log the source location of each wrapped error")
	fs.IntVar(&c.MaxErrorLinks, "max-error-links", 5, "error chain depth rendered in logs")
	fs.BoolVar(&c.EnablePprof, "enable-pprof", true, "serve /debug/pprof on the admin port")
	fs.BoolVar(&c.EnablePyroscope, "enable-pyroscope", false, "push continuous profiles to -pyro-server")
	fs.StringVar(&c.PyroServer, "pyro-server", "", "pyroscope server URL")
	fs.StringVar(&c.PyroTenantID, "pyro-tenant", "", "pyroscope tenant (X-Scope-OrgID)")
	fs.BoolVar(&c.EnableTracing, "enable-tracing", false, "export spans to -otlp-endpoint")
	fs.StringVar(&c.OTLPEndpoint, "otlp-endpoint", "", "OTLP gRPC collector host:port")
	fs.Float64Var(&c.TraceSample, "trace-sample", 0.0, "root span sampling ratio")
}

func registerStore(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.DataDir, "data-dir", "./data", "directory holding cv_content.json and backups/")
	fs.IntVar(&c.MaxBackups, "max-backups", 10, "backups kept after each write")
	fs.StringVar(&c.BackupS3Bucket, "backup-s3-bucket", "", "S3 bucket receiving a copy of every backup (off when empty)")
	fs.StringVar(&c.BackupS3Prefix, "backup-s3-prefix", "apps/linnemanlabs-cv/backups", "key prefix for mirrored backups")
}

func registerAuth(fs *flag.FlagSet, c *App) {
	fs.StringVar(&c.AdminUsername, "admin-username", "", "admin principal allowed to log in")
	fs.StringVar(&c.AdminPasswordHash, "admin-password-hash", "", "admin password hash (salt:hexhash, see cvctl hash-password)")
	fs.StringVar(&c.TokenSecret, "token-secret", "", "HS256 signing secret for bearer tokens (random per process when empty)")
	fs.DurationVar(&c.TokenTTL, "token-ttl", time.Hour, "bearer token lifetime")
	fs.StringVar(&c.SecretsSSMPrefix, "secrets-ssm-prefix", "", "SSM path holding admin-username, admin-password-hash and token-secret parameters")
	fs.Float64Var(&c.LoginRate, "login-rate", 0.2, "login attempts per second allowed per client ip")
	fs.IntVar(&c.LoginBurst, "login-burst", 5, "login attempt burst per client ip")
	fs.IntVar(&c.TrustedProxyHops, "trusted-proxy-hops", 0, "X-Forwarded-For entries added by trusted proxies")
}

// FillFromEnv sets any flag not explicitly passed on the CLI from
// environment variables. Flag "foo-bar" maps to PREFIX_FOO_BAR.
// Precedence: cli flag > env var > default.
func FillFromEnv(fs *flag.FlagSet, prefix string, logf func(string, ...any)) {
	explicit := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	fs.VisitAll(func(f *flag.Flag) {
		key := EnvKey(prefix, f.Name)
		envVal, envSet := os.LookupEnv(key)
		if !envSet {
			return
		}
		if explicit[f.Name] {
			if logf != nil {
				logf("flag -%s: cli value overrides env %s", f.Name, key)
			}
			return
		}
		prev := f.Value.String()
		if err := fs.Set(f.Name, envVal); err != nil {
			_ = fs.Set(f.Name, prev)
			if logf != nil {
				logf("flag -%s: ignoring invalid env %s: %v", f.Name, key, err)
			}
		}
	})
}

// EnvKey maps a flag name to its environment variable.
func EnvKey(prefix, flagName string) string {
	return prefix + strings.ReplaceAll(strings.ToUpper(flagName), "-", "_")
}

// problems collects validation failures under their env names.
type problems []error

func (p *problems) addf(format string, args ...any) {
	*p = append(*p, fmt.Errorf(format, args...))
}

func (p *problems) port(name string, v int) {
	if v < 1 || v > 65535 {
		p.addf("%s%s=%d is not a TCP port", EnvPrefix, name, v)
	}
}

func (p *problems) level(name, v string) {
	if _, err := log.ParseLevel(v); err != nil {
		p.addf("%s%s: %w", EnvPrefix, name, err)
	}
}

func (p *problems) intRange(name string, v, lo, hi int) {
	if v < lo || v > hi {
		p.addf("%s%s=%d outside %d..%d", EnvPrefix, name, v, lo, hi)
	}
}

func (p *problems) required(name, v string) bool {
	if strings.TrimSpace(v) == "" {
		p.addf("%s%s is required", EnvPrefix, name)
		return false
	}
	return true
}

// Validate reports every invalid setting at once, joined. Secret values are
// never echoed.
func Validate(c App) error {
	var p problems
	p.observability(c)
	p.store(c)
	p.auth(c)
	return errors.Join(p...)
}

func (p *problems) observability(c App) {
	p.port("HTTP_PORT", c.HTTPPort)
	p.port("ADMIN_PORT", c.AdminPort)
	if c.AdminPort == c.HTTPPort {
		p.addf("%sADMIN_PORT and %sHTTP_PORT are both %d", EnvPrefix, EnvPrefix, c.HTTPPort)
	}
	p.level("LOG_LEVEL", c.LogLevel)
	if c.StacktraceLevel != "" {
		p.level("STACKTRACE_LEVEL", c.StacktraceLevel)
	}
	if c.IncludeErrorLinks {
		p.intRange("MAX_ERROR_LINKS", c.MaxErrorLinks, 1, 64)
	}
	if c.TraceSample < 0 || c.TraceSample > 1 {
		p.addf("%sTRACE_SAMPLE=%g outside 0..1", EnvPrefix, c.TraceSample)
	}
	if c.EnablePyroscope {
		if p.required("PYRO_SERVER", c.PyroServer) {
			if u, err := url.Parse(c.PyroServer); err != nil || u.Scheme == "" || u.Host == "" {
				p.addf("%sPYRO_SERVER %q is not an absolute URL", EnvPrefix, c.PyroServer)
			}
		}
		p.required("PYRO_TENANT", c.PyroTenantID)
	}
	// the gRPC exporter takes host:port without a scheme
	if c.EnableTracing && p.required("OTLP_ENDPOINT", c.OTLPEndpoint) {
		if _, _, err := net.SplitHostPort(c.OTLPEndpoint); err != nil {
			p.addf("%sOTLP_ENDPOINT %q is not host:port", EnvPrefix, c.OTLPEndpoint)
		}
	}
}

func (p *problems) store(c App) {
	p.required("DATA_DIR", c.DataDir)
	p.intRange("MAX_BACKUPS", c.MaxBackups, 1, 1000)
	if c.BackupS3Bucket != "" && strings.HasPrefix(c.BackupS3Prefix, "/") {
		p.addf("%sBACKUP_S3_PREFIX %q must not start with /", EnvPrefix, c.BackupS3Prefix)
	}
}

func (p *problems) auth(c App) {
	p.required("ADMIN_USERNAME", c.AdminUsername)
	if p.required("ADMIN_PASSWORD_HASH", c.AdminPasswordHash) && strings.Count(c.AdminPasswordHash, ":") != 1 {
		p.addf("%sADMIN_PASSWORD_HASH must have the form salt:hexhash", EnvPrefix)
	}
	if c.TokenTTL <= 0 || c.TokenTTL > 24*time.Hour {
		p.addf("%sTOKEN_TTL=%s outside (0, 24h]", EnvPrefix, c.TokenTTL)
	}
	if c.SecretsSSMPrefix != "" && !strings.HasPrefix(c.SecretsSSMPrefix, "/") {
		p.addf("%sSECRETS_SSM_PREFIX %q must start with /", EnvPrefix, c.SecretsSSMPrefix)
	}
	if c.LoginRate <= 0 {
		p.addf("%sLOGIN_RATE=%g must be positive", EnvPrefix, c.LoginRate)
	}
	if c.LoginBurst < 1 {
		p.addf("%sLOGIN_BURST=%d must be at least 1", EnvPrefix, c.LoginBurst)
	}
	p.intRange("TRUSTED_PROXY_HOPS", c.TrustedProxyHops, 0, 10)
}
