package config

import (
	"bytes"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

// Setup builds the process logger and loads the yaml config file into conf.
// The logger is returned even when loading fails so callers can report the
// failure through it.
func Setup(configFile string, conf *Config) (*zap.Logger, error) {
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(zapcore.EncoderConfig{
			TimeKey:        "ts",
			MessageKey:     "msg",
			EncodeDuration: zapcore.MillisDurationEncoder,
			EncodeTime:     zapcore.RFC3339NanoTimeEncoder,
			LineEnding:     zapcore.DefaultLineEnding,
			LevelKey:       "level",
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
		}),
		zapcore.AddSync(os.Stderr),
		zapcore.InfoLevel,
	)

	log := zap.New(core)

	fileContent, err := os.ReadFile(configFile)
	if err != nil {
		return log, fmt.Errorf("error read file config %s: %w", configFile, err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(fileContent))
	if err := dec.Decode(conf); err != nil {
		return log, fmt.Errorf("error parse file config %s: %w", configFile, err)
	}

	applyDefaults(conf)

	if err := Validate(conf); err != nil {
		return log, err
	}

	return log, nil
}

func applyDefaults(conf *Config) {
	if conf.Shell == "" {
		conf.Shell = "/bin/sh"
	}
	if conf.State.Backend == "" {
		conf.State.Backend = "files"
	}
	if conf.State.Mysql.MarkersTableName == "" {
		conf.State.Mysql.MarkersTableName = "host_migration_markers"
	}
}

func Validate(conf *Config) error {
	if err := validator.New().Struct(conf); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	if conf.State.Backend == "mysql" && conf.State.Mysql.DSN == "" {
		return fmt.Errorf("invalid config: state.mysql.dsn is required for the mysql backend")
	}

	return nil
}
