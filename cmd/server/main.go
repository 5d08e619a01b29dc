package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/go-chi/chi/v5"

	"github.com/keithlinneman/linnemanlabs-cv/internal/authgate"
	"github.com/keithlinneman/linnemanlabs-cv/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-cv/internal/contentstore"
	"github.com/keithlinneman/linnemanlabs-cv/internal/cvhttp"
	"github.com/keithlinneman/linnemanlabs-cv/internal/health"
	"github.com/keithlinneman/linnemanlabs-cv/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-cv/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-cv/internal/provenancehttp"
	"github.com/keithlinneman/linnemanlabs-cv/internal/ratelimit"
	"github.com/keithlinneman/linnemanlabs-cv/internal/s3mirror"
	"github.com/keithlinneman/linnemanlabs-cv/internal/secrets"

	"github.com/keithlinneman/linnemanlabs-cv/internal/httpserver"
	"github.com/keithlinneman/linnemanlabs-cv/internal/log"
	"github.com/keithlinneman/linnemanlabs-cv/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-cv/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-cv/internal/prof"
	v "github.com/keithlinneman/linnemanlabs-cv/internal/version"
)

// time between failing readiness and closing listeners
const drainPeriod = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	cfg.Register(flag.CommandLine, &conf)
	flag.BoolVar(&showVersion, "V", false, "Print version+build information and exit")
	flag.Parse()

	if showVersion {
		fmt.Println(vi.String())
		os.Exit(0)
	}

	cfg.FillFromEnv(flag.CommandLine, cfg.EnvPrefix, func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	})

	lvl, err := log.ParseLevel(conf.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid log level %s: %v\n", conf.LogLevel, err)
		os.Exit(1)
	}
	stackLvl, err := log.ParseLevel(conf.StacktraceLevel)
	if err != nil {
		stackLvl = lvl
	}
	lg, err := log.New(log.Options{
		App:               v.AppName,
		Version:           vi.Version,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        conf.LogJSON,
		MaxErrorLinks:     conf.MaxErrorLinks,
		IncludeErrorLinks: conf.IncludeErrorLinks,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		os.Exit(1)
	}
	defer lg.Sync()
	L := lg.With("component", "server")
	ctx = log.WithContext(ctx, L)

	// AWS clients are only built when a feature needs them
	var awsCfg *aws.Config
	loadAWS := func() aws.Config {
		if awsCfg == nil {
			c, err := config.LoadDefaultConfig(ctx)
			if err != nil {
				L.Error(ctx, err, "failed to load AWS config")
				os.Exit(1)
			}
			awsCfg = &c
		}
		return *awsCfg
	}

	// secrets from SSM fill whatever flags and env left empty
	if conf.SecretsSSMPrefix != "" {
		loader, err := secrets.NewLoader(ssm.NewFromConfig(loadAWS()), conf.SecretsSSMPrefix, L)
		if err != nil {
			L.Error(ctx, err, "failed to create secrets loader")
			os.Exit(1)
		}
		creds, err := loader.Load(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load secrets from ssm", "prefix", conf.SecretsSSMPrefix)
			os.Exit(1)
		}
		creds.Apply(&conf.AdminUsername, &conf.AdminPasswordHash, &conf.TokenSecret)
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		os.Exit(1)
	}

	L.Info(ctx, "initializing application",
		"version", vi.Version,
		"commit", vi.Commit,
		"commit_date", vi.CommitDate,
		"build_id", vi.BuildId,
		"build_date", vi.BuildDate,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.VCSDirty,
		"http_port", conf.HTTPPort,
		"admin_port", conf.AdminPort,
		"enable_pprof", conf.EnablePprof,
		"enable_pyroscope", conf.EnablePyroscope,
		"enable_tracing", conf.EnableTracing,
		"otlp_endpoint", conf.OTLPEndpoint,
		"pyro_server", conf.PyroServer,
		"trace_sample", conf.TraceSample,
		"data_dir", conf.DataDir,
		"max_backups", conf.MaxBackups,
		"token_ttl", conf.TokenTTL,
		"secrets_ssm_prefix", conf.SecretsSSMPrefix,
		"backup_s3_bucket", conf.BackupS3Bucket,
		"backup_s3_prefix", conf.BackupS3Prefix,
		"login_rate", conf.LoginRate,
		"login_burst", conf.LoginBurst,
		"trusted_proxy_hops", conf.TrustedProxyHops,
	)

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, "server", vi)

	stopProf, err := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags:          prof.TagsFor("server", vi),
		OnActive:      m.SetProfilingActive,
	})
	if err != nil {
		L.Error(ctx, err, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Insecure: the collector runs on localhost
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  true,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: "server",
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL, _ = otelx.Init(ctx, otelx.Options{})
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	storeOpts := contentstore.Options{
		Dir:            conf.DataDir,
		MaxBackups:     conf.MaxBackups,
		Logger:         L.With("component", "contentstore"),
		OnWrite:        m.StoreWrite,
		OnRecovered:    m.StoreRecovered,
		OnBackup:       m.StoreBackup,
		OnPruned:       m.StorePruned,
		OnMirrorFailed: m.StoreMirrorFailed,
	}
	if conf.BackupS3Bucket != "" {
		mirror, err := s3mirror.New(s3mirror.Options{
			Logger:               L,
			Client:               s3.NewFromConfig(loadAWS()),
			Bucket:               conf.BackupS3Bucket,
			Prefix:               conf.BackupS3Prefix,
			ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		})
		if err != nil {
			L.Error(ctx, err, "failed to create backup mirror")
			os.Exit(1)
		}
		storeOpts.Mirror = mirror
		L.Info(ctx, "mirroring backups to s3", "bucket", conf.BackupS3Bucket, "prefix", conf.BackupS3Prefix)
	}
	store, err := contentstore.New(ctx, storeOpts)
	if err != nil {
		L.Error(ctx, err, "failed to open content store", "data_dir", conf.DataDir)
		os.Exit(1)
	}

	secret := conf.TokenSecret
	if secret == "" {
		secret, err = authgate.GenerateSecret()
		if err != nil {
			L.Error(ctx, err, "failed to generate token secret")
			os.Exit(1)
		}
		L.Warn(ctx, "no token secret configured, generated one for this process; tokens will not survive a restart")
	}
	gate, err := authgate.New(authgate.Options{
		Username:     conf.AdminUsername,
		PasswordHash: conf.AdminPasswordHash,
		Secret:       secret,
		TTL:          conf.TokenTTL,
		Issuer:       v.AppName,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create auth gate")
		os.Exit(1)
	}
	if !gate.HashConfigured() {
		L.Warn(ctx, "admin password hash does not parse, every login will be rejected")
	}

	loginLimiter := ratelimit.New(ctx,
		ratelimit.WithRate(conf.LoginRate, conf.LoginBurst),
		ratelimit.WithDetail("Too many login attempts"),
		ratelimit.WithMaxVisitors(10000),
		ratelimit.WithOnDenied(func(ip string) {
			m.IncRateLimitDenied()
			m.IncLogin("rate_limited")
		}),
		// logged once per visitor lifetime in the limiter
		ratelimit.WithOnFirstDenied(func(ip string) {
			L.Warn(ctx, "login rate limit triggered", "ip", ip)
		}),
		ratelimit.WithOnCapacity(func() {
			L.Warn(ctx, "login rate limit capacity reached, rejecting new visitors until some are evicted")
		}),
	)

	api, err := cvhttp.New(cvhttp.Options{
		Store:           store,
		Auth:            gate,
		Logger:          L,
		LoginLimiter:    loginLimiter.Middleware,
		OnLogin:         m.IncLogin,
		OnTokenRejected: m.IncTokenRejected,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create api")
		os.Exit(1)
	}

	provenance := provenancehttp.NewAPI(store, vi, nil, L)

	var shutdownGate health.ShutdownGate
	readiness := health.All(
		shutdownGate.Probe(),
		health.Timeout(health.DirWritable(conf.DataDir), 2*time.Second),
	)

	appHTTPStop, err := httpserver.Start(ctx, &httpserver.Options{
		Logger: L,
		Port:   conf.HTTPPort,
		Routes: func(r chi.Router) {
			api.RegisterRoutes(r)
			provenance.RegisterRoutes(r)
		},
		MaxBodyBytes: httpserver.DefaultMaxBodyBytes,
		MetricsMW:    m.Middleware,
		ClientIPOpts: httpmw.ClientIPOptions{TrustedHops: conf.TrustedProxyHops},
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start app http listener")
		os.Exit(1)
	}
	defer func() { _ = appHTTPStop(context.Background()) }()

	// the ops listener also rejects public peers in middleware, in case the
	// security group ever lets them through
	opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
		Port:         conf.AdminPort,
		Metrics:      m.Handler(),
		EnablePprof:  conf.EnablePprof,
		Health:       health.Fixed(true, ""),
		Readiness:    readiness,
		UseRecoverMW: true,
		OnPanic:      m.IncHttpPanic,
	})
	if err != nil {
		L.Error(ctx, err, "failed to start ops http listener")
		os.Exit(1)
	}
	defer func() { _ = opsHTTPStop(context.Background()) }()

	if err := notifySystemd(); err != nil {
		// not fatal; systemd kills us after its start timeout if it was waiting
		L.Warn(ctx, "failed to notify systemd of readiness", "error", err)
	}

	<-ctx.Done()
	stop()

	L.Info(context.Background(), "shutdown signal received")
	shutdownGate.Set("draining")
	L.Info(context.Background(), "shutdown gate closed, draining", "period", drainPeriod)

	forceCh := make(chan os.Signal, 1)
	signal.Notify(forceCh, os.Interrupt, syscall.SIGTERM)
	select {
	case <-time.After(drainPeriod):
		L.Info(context.Background(), "drain period complete")
	case <-forceCh:
		L.Warn(context.Background(), "second signal received, skipping drain")
	}
	signal.Stop(forceCh)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := appHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "app http server shutdown")
	}
	if err := opsHTTPStop(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "ops http server shutdown")
	}
	if err := shutdownOTEL(shutdownCtx); err != nil {
		L.Error(context.Background(), err, "otel shutdown")
	}
	stopProf()

	L.Info(context.Background(), "shutdown complete")
}

func notifySystemd() error {
	// NOTIFY_SOCKET is set when started by systemd with Type=notify
	addr := os.Getenv("NOTIFY_SOCKET")
	if addr == "" {
		return fmt.Errorf("NOTIFY_SOCKET not set, skipping systemd notify")
	}
	conn, err := net.Dial("unixgram", addr)
	if err != nil {
		return fmt.Errorf("systemd notify failed: dial failed: %w", err)
	}
	if _, err := conn.Write([]byte("READY=1")); err != nil {
		_ = conn.Close()
		return fmt.Errorf("systemd notify failed: write failed: %w", err)
	}
	if err := conn.Close(); err != nil {
		return fmt.Errorf("systemd notify failed: close failed: %w", err)
	}
	return nil
}
