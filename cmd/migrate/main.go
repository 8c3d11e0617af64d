package main

import (
	"errors"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"

	"github.com/saccopay/backoffice/internal/database"
	"github.com/saccopay/backoffice/internal/logging"
)

func main() {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	if err := viper.ReadInConfig(); err != nil {
		logrus.Warnf("config file not found, using defaults: %v", err)
	}
	logging.Setup()

	db := database.InitDatabase()
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		logrus.WithError(err).Fatal("postgres.WithInstance")
	}

	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		logrus.WithError(err).Fatal("migrate.NewWithDatabaseInstance")
	}

	preVersion, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		logrus.WithError(err).Fatal("m.Version")
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		logrus.WithError(err).Fatal("m.Up")
	}

	postVersion, _, err := m.Version()
	if err != nil {
		logrus.WithError(err).Fatal("m.Version")
	}

	logrus.WithFields(logrus.Fields{
		"preMigrationVersion":  preVersion,
		"postMigrationVersion": postVersion,
	}).Info("migration status")
}
