package logging

import (
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Setup configures the process-wide logrus logger. JSON output so the
// back-office log shipper can index fields.
func Setup() {
	viper.SetDefault("log.level", "info")

	logrus.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyLevel: "loglevel",
		},
	})
	logrus.SetOutput(os.Stdout)

	level, err := logrus.ParseLevel(viper.GetString("log.level"))
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)
}
