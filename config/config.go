package config

// Mysql holds the connection settings for the mysql state backend.
type Mysql struct {
	DSN              string `yaml:"dsn"`
	DatabaseName     string `yaml:"databaseName"`
	MarkersTableName string `yaml:"markersTableName"`
}

// State selects and configures the durable marker store.
type State struct {
	Backend string `yaml:"backend" validate:"required,oneof=files badger mysql"`

	// Dir is the marker directory for the files and badger backends.
	Dir string `yaml:"dir" validate:"required_unless=Backend mysql"`

	// LegacyDir is an optional pre-ikou marker location, consulted
	// read-only for import.
	LegacyDir string `yaml:"legacyDir"`

	Mysql Mysql `yaml:"mysql"`
}

// Config is the full engine configuration.
type Config struct {
	// UnitsDir is the migration unit store directory.
	UnitsDir string `yaml:"unitsDir" validate:"required"`

	// HistoryFile is the append-only audit log path. Empty disables history.
	HistoryFile string `yaml:"historyFile"`

	// Shell is the interpreter for unit bodies. Defaults to /bin/sh.
	Shell string `yaml:"shell"`

	State State `yaml:"state"`
}
