// Package config loads the learner's INI configuration file (sections
// DEFAULT, DATABASE, PARAMETERS) into an explicit struct that callers
// pass around, rather than a global singleton — so config can vary
// per-invocation and tests don't have to reset shared state.
package config

import (
	"fmt"

	"github.com/go-ini/ini"

	"github.com/jtomasevic/sharly/internal/errs"
)

// Config holds the parsed, validated contents of the INI configuration
// file. All fields are read-only once loaded.
type Config struct {
	ItemList string

	DatabaseEngine   string
	DatabaseHost     string
	DatabasePort     int
	DatabaseUser     string
	DatabasePassword string
	DatabaseName     string

	TInit                  int
	TInc                   int
	TIncStable             int
	N                      int
	AnomalyWeightThreshold int
}

// Load reads and validates the configuration file at path. Any missing
// file, unparsable value, or missing required key is a fatal
// *errs.ConfigError; DATABASE host, user and password are optional.
func Load(path string) (*Config, error) {
	file, err := ini.Load(path)
	if err != nil {
		return nil, &errs.ConfigError{Path: path, Err: err}
	}

	c := &Config{}

	def := file.Section("DEFAULT")
	c.ItemList = def.Key("item_list").String()
	if c.ItemList == "" {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("missing DEFAULT.item_list")}
	}

	db := file.Section("DATABASE")
	c.DatabaseEngine = db.Key("engine").String()
	c.DatabaseHost = db.Key("host").String()
	c.DatabaseUser = db.Key("user").String()
	c.DatabasePassword = db.Key("password").String()
	c.DatabaseName = db.Key("name").String()
	if c.DatabaseEngine == "" || c.DatabaseName == "" {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("missing DATABASE.engine or DATABASE.name")}
	}
	if c.DatabasePort, err = db.Key("port").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("DATABASE.port: %w", err)}
	}

	params := file.Section("PARAMETERS")
	if c.TInit, err = params.Key("t_init").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("PARAMETERS.t_init: %w", err)}
	}
	if c.TInc, err = params.Key("t_inc").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("PARAMETERS.t_inc: %w", err)}
	}
	if c.TIncStable, err = params.Key("t_inc_stable").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("PARAMETERS.t_inc_stable: %w", err)}
	}
	if c.N, err = params.Key("n").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("PARAMETERS.n: %w", err)}
	}
	if c.AnomalyWeightThreshold, err = params.Key("anomaly_weight_threshold").Int(); err != nil {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("PARAMETERS.anomaly_weight_threshold: %w", err)}
	}

	if c.TInit <= 0 || c.TInc <= 0 || c.TIncStable <= 0 || c.N < 0 {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("t_init, t_inc, t_inc_stable must be positive and n must be non-negative")}
	}
	if c.TIncStable%c.TInc != 0 {
		return nil, &errs.ConfigError{Path: path, Err: fmt.Errorf("t_inc_stable must be a multiple of t_inc")}
	}

	return c, nil
}
