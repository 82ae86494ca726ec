package cmd

import (
	"github.com/materials-commons/mcdrop/pkg/config"
	"github.com/materials-commons/mcdrop/pkg/mcdb"
	"github.com/materials-commons/mcdrop/pkg/mcdb/stor"
	"github.com/materials-commons/mcdrop/pkg/metrics"
	"github.com/materials-commons/mcdrop/pkg/notify"
	"github.com/materials-commons/mcdrop/pkg/sandbox"
	"github.com/materials-commons/mcdrop/pkg/xfer"
	"github.com/pkg/errors"
)

type serviceDeps struct {
	settings config.Settings
	notifier notify.Notifier
	metrics  *metrics.Metrics
	migrate  bool
}

// openService connects to the database and builds an xfer.Service over the
// configured temp root. The periodic task is not started.
func openService(deps serviceDeps) (*xfer.Service, *stor.Stors, error) {
	db := mcdb.MustConnectToDB(deps.settings)

	if deps.migrate {
		if err := mcdb.RunMigrations(db); err != nil {
			return nil, nil, errors.Wrap(err, "migrations failed")
		}
	}

	root, err := sandbox.New(deps.settings.TempRoot)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "unable to use temp root %s", deps.settings.TempRoot)
	}

	stors := stor.NewGormStors(db)
	svc, err := xfer.NewService(xfer.Deps{
		Stors:    stors,
		Root:     root,
		Settings: deps.settings,
		Notifier: deps.notifier,
		Metrics:  deps.metrics,
	})

	if err != nil {
		return nil, nil, err
	}

	return svc, stors, nil
}
