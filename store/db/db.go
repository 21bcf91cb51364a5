// Package db dispatches the storage driver named in the profile.
package db

import (
	"github.com/pkg/errors"

	"github.com/JohnnyHuang0515/TravelAI-sub001/internal/profile"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store/db/postgres"
	"github.com/JohnnyHuang0515/TravelAI-sub001/store/db/sqlite"
)

// NewDBDriver creates a new db driver based on the profile.
func NewDBDriver(profile *profile.Profile) (store.Driver, error) {
	var driver store.Driver
	var err error

	switch profile.Driver {
	case "sqlite":
		driver, err = sqlite.NewDB(profile)
	case "postgres":
		driver, err = postgres.NewDB(profile)
	default:
		return nil, errors.Errorf("unsupported database driver %q", profile.Driver)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to create db driver")
	}
	return driver, nil
}
