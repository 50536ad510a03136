// Package main starts a printcmd server.
package main

import (
	"context"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"time"

	"github.com/printcmd/printcmd/device"
	"github.com/printcmd/printcmd/engine"
	enginehttp "github.com/printcmd/printcmd/engine/http"
	"github.com/printcmd/printcmd/fleet"
	"github.com/printcmd/printcmd/logkeys"
	approvalhttp "github.com/printcmd/printcmd/subsystem/approval/http"
	"github.com/printcmd/printcmd/subsystem/notify"
	notifyhttp "github.com/printcmd/printcmd/subsystem/notify/http"
	vaulthttp "github.com/printcmd/printcmd/subsystem/vault/http"
	"github.com/printcmd/printcmd/utils/uuid"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/envflag"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log/stdlogfmt"
)

// overridden by -ldflags -X
var version = "unknown"

const (
	apiUsername = "printcmd"
	apiRealm    = "printcmd"
)

func main() {
	var (
		flDebug    = flag.Bool("debug", false, "log debug messages")
		flListen   = flag.String("listen", ":9005", "HTTP listen address")
		flVersion  = flag.Bool("version", false, "print version and exit")
		flAPIKey   = flag.String("api", "", "API key for API endpoints")
		flDevURL   = flag.String("device-url", device.DefaultBaseURL, "URL of the device-control API")
		flFleetURL = flag.String("fleet-url", fleet.DefaultBaseURL, "URL of the fleet API")
		flStorage  = flag.String("storage", "file", "name of storage backend")
		flDSN      = flag.String("storage-dsn", "", "data source name (e.g. connection string or path)")
		flKeychain = flag.Bool("keychain", false, "store credentials in the OS keychain")
		flSceneCap = flag.Uint("scene-cap", engine.DefaultSceneCap, "maximum resident scenes")
		flIdleSec  = flag.Uint("scene-idle", uint(engine.DefaultIdleTimeout/time.Second), "scene idle expiry in seconds")
		flWorkSec  = flag.Uint("worker-interval", uint(engine.DefaultWorkerDuration/time.Second), "interval for worker in seconds")
		flPollSec  = flag.Uint("poll-interval", uint(notify.DefaultPollerDuration/time.Second), "interval for notification poller in seconds")
		flHourly   = flag.Uint("tenant-hourly", fleet.DefaultTenantHourlyLimit, "per-tenant fleet API hourly request budget")
	)
	envflag.Parse("PRINTCMD_", []string{"version"})

	if *flVersion {
		fmt.Println(version)
		return
	}

	logger := stdlogfmt.New(stdlogfmt.WithDebugFlag(*flDebug))

	// configure storage
	storage, err := parseStorage(*flStorage, *flDSN, *flKeychain)
	if err != nil {
		logger.Info(logkeys.Message, "parse storage", logkeys.Error, err)
		os.Exit(1)
	}

	// configure the device-control and fleet API clients
	dev := device.New(*flDevURL, device.WithLogger(logger.With("service", "device")))
	fleetClient := fleet.New(storage.vault,
		fleet.WithLogger(logger.With("service", "fleet")),
		fleet.WithBaseURL(*flFleetURL),
		fleet.WithRateLimits(fleet.DefaultProcessRate, int(*flHourly)),
	)

	// configure the workflow engine
	e := engine.New(dev, storage.engine,
		engine.WithLogger(logger.With("service", "engine")),
		engine.WithSceneCap(int(*flSceneCap)),
	)

	// configure the scene expiry worker
	var eWorker *engine.Worker
	if *flWorkSec > 0 {
		eWorker = engine.NewWorker(e,
			engine.WithWorkerLogger(logger.With("service", "engine worker")),
			engine.WithWorkerDuration(time.Second*time.Duration(*flWorkSec)),
			engine.WithIdleTimeout(time.Second*time.Duration(*flIdleSec)),
		)
	}

	// configure the notification poller
	var poller *notify.Poller
	if *flPollSec > 0 {
		poller = notify.New(
			notify.FleetSource{Client: fleetClient},
			storage.notify,
			notify.LogSink{Logger: logger.With("service", "notify sink")},
			notify.WithLogger(logger.With("service", "notify")),
			notify.WithDuration(time.Second*time.Duration(*flPollSec)),
		)
	}

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	if *flAPIKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, *flAPIKey, apiRealm)
			})

			approvalhttp.HandleAPIv1("/v1", mux, logger, storage.approval,
				// a revoked tenant loses its credential, cached
				// fleet token, and subscriptions
				approvalhttp.RevokerFunc(func(ctx context.Context, tenantID string) error {
					if err := storage.vault.DeleteCredential(ctx, tenantID); err != nil {
						return err
					}
					fleetClient.InvalidateTenant(tenantID)
					return storage.notify.DeleteTenantSubscriptions(ctx, tenantID)
				}),
			)

			// tenant-scoped endpoints require approval
			mux.Group(func(mux *flow.Mux) {
				mux.Use(approvalhttp.ApprovedOnlyMiddleware(storage.approval, logger.With("handler", "approval gate")))

				vaulthttp.HandleAPIv1("/v1", mux, logger, storage.vault, fleetClient)
				enginehttp.HandleAPIv1("/v1", mux, logger, e)
				notifyhttp.HandleAPIv1("/v1", mux, logger, storage.notify, uuid.NewUUID())
			})
		})
	}

	if eWorker != nil {
		go func() {
			err := eWorker.Run(context.Background())
			logs := []interface{}{logkeys.Message, "engine worker stopped"}
			if err != nil {
				logger.Info(append(logs, logkeys.Error, err)...)
				return
			}
			logger.Debug(logs...)
		}()
	}

	if poller != nil {
		go func() {
			err := poller.Run(context.Background())
			logs := []interface{}{logkeys.Message, "notification poller stopped"}
			if err != nil {
				logger.Info(append(logs, logkeys.Error, err)...)
				return
			}
			logger.Debug(logs...)
		}()
	}

	logger.Info(logkeys.Message, "starting server", "listen", *flListen)
	err = http.ListenAndServe(*flListen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
	logs := []interface{}{logkeys.Message, "server shutdown"}
	if err != nil {
		logs = append(logs, logkeys.Error, err)
	}
	logger.Info(logs...)
}

// newTraceID generates a new HTTP trace ID for context logging.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
