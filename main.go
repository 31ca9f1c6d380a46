package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alapierre/go-tra-vfd/png"
	"github.com/alapierre/go-tra-vfd/vfd"
	"github.com/alapierre/go-tra-vfd/vfd/config"
	"github.com/alapierre/go-tra-vfd/vfd/httpapi"
	"github.com/alapierre/go-tra-vfd/vfd/keys"
	"github.com/alapierre/go-tra-vfd/vfd/ledger"
	"github.com/alapierre/go-tra-vfd/vfd/metrics"
	"github.com/alapierre/go-tra-vfd/vfd/qr"
	"github.com/alapierre/go-tra-vfd/vfd/queue"
	"github.com/alapierre/go-tra-vfd/vfd/store"
	"github.com/alapierre/go-tra-vfd/vfd/util"
	"github.com/alapierre/go-tra-vfd/vfd/zreport"
	"github.com/gin-gonic/gin"
	"github.com/go-faster/errors"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

func main() {

	configFile := flag.String("config", util.GetEnvOrDefault("VFD_CONFIG", ""), "configuration file (yaml, json or toml)")
	flag.Parse()

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("configuration: %v", err)
	}
	setupLogging(cfg.Log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logrus.Fatal(err)
	}
}

func setupLogging(c config.Log) {
	level, err := logrus.ParseLevel(c.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	if util.DebugEnabled() {
		level = logrus.DebugLevel
	}
	logrus.SetLevel(level)

	if c.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	if level < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
}

func run(ctx context.Context, cfg *config.Config) error {

	env, _ := cfg.Environment()
	clock := clockwork.NewRealClock()
	m := metrics.New()

	cred, err := keys.Load(cfg.KeyOptions())
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Database.Path, cfg.Database.SlowThreshold)
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(db); err != nil {
			logrus.Warnf("close store: %v", err)
		}
	}()

	l := ledger.New(db, clock)

	reg, err := register(ctx, cfg, env, cred, db, l, clock, m)
	if err != nil {
		return err
	}
	cred = vfd.Credential(cred, reg)

	transport := newTransport(cfg, env, cred, m, vfd.WithTokenPath(reg.TokenPath))
	tokens := vfd.NewTokenProvider(
		vfd.NewAuthFacade(transport),
		vfd.RegistrationCredentials(db),
		vfd.WithClock(clock),
		vfd.WithRefreshSkew(cfg.Token.RefreshSkew),
		vfd.WithTokenMetrics(m),
	)
	client := vfd.NewVfdClient(transport, tokens, cred)

	q := queue.New(db, l, client, reg.Issuer(), queue.Options{
		Retry:        cfg.RetryPolicy(),
		Workers:      cfg.Queue.Workers,
		PollInterval: cfg.Queue.PollInterval,
		VerifyURL:    qr.VerifyBaseURL(env),
		Clock:        clock,
		Metrics:      m,
		QR:           png.Renderer{},
	})
	if err := q.Start(ctx); err != nil {
		return err
	}

	at, _ := cfg.ZReportAt()
	reports := zreport.New(db, l, client, reg.Issuer(), zreport.Options{
		At:               at,
		RetryInterval:    cfg.ZReport.RetryInterval,
		Header:           cfg.ZReport.Header,
		User:             cfg.ZReport.User,
		RegistrationDate: reg.RegisteredAt.Format("2006-01-02"),
		FWVersion:        cfg.ZReport.FWVersion,
		FWChecksum:       cfg.ZReport.FWChecksum,
		Clock:            clock,
		Metrics:          m,
	})
	if cfg.ZReport.Enabled {
		if err := reports.Start(ctx); err != nil {
			return err
		}
		defer reports.Stop()
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           httpapi.NewServer(q, reports, m).Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logrus.WithField("addr", cfg.Server.Addr).Info("local api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logrus.Info("shutting down")
	case err = <-serveErr:
		logrus.Errorf("local api: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	if serr := srv.Shutdown(shutdownCtx); serr != nil {
		logrus.Warnf("shutdown local api: %v", serr)
	}
	if serr := q.Stop(shutdownCtx); serr != nil {
		logrus.Warnf("stop queue: %v", serr)
	}
	return err
}

// register loads the stored registration or registers the device once.
// Registration needs no token, so its client carries no token provider.
func register(ctx context.Context, cfg *config.Config, env vfd.Environment, cred *keys.FiscalCredential,
	db *gorm.DB, l *ledger.Ledger, clock clockwork.Clock, m *metrics.Metrics) (*store.Registration, error) {

	client := vfd.NewVfdClient(newTransport(cfg, env, cred, m), nil, cred)
	reg, err := vfd.NewRegistrar(client, db, l, clock).Ensure(ctx)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{
		"regId":       reg.RegID,
		"receiptCode": reg.ReceiptCode,
		"serial":      reg.Serial,
	}).Info("device registered")
	return reg, nil
}

func newTransport(cfg *config.Config, env vfd.Environment, cred *keys.FiscalCredential, m *metrics.Metrics, extra ...vfd.ClientOption) *vfd.Client {
	opts := []vfd.ClientOption{
		vfd.WithTimeout(cfg.HTTP.Timeout),
		vfd.WithClientName(cfg.HTTP.ClientName),
		vfd.WithRateLimit(cfg.HTTP.RateLimit, cfg.HTTP.RateBurst),
		vfd.WithMetrics(m),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, vfd.WithBaseURL(cfg.BaseURL))
	}
	return vfd.NewClient(env, cred.CertSerialHeader(), append(opts, extra...)...)
}
