package instance

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	yaml "gopkg.in/yaml.v3"
)

// positional order of the plain-text formats
var fieldNames = []string{
	"time_periods",
	"max_active_depots_per_period",
	"max_customers_per_depot",
	"depot_usage_cost",
	"n_depots",
	"n_customers",
	"depot_exclusion_radius",
	"num_priority_groups",
	"board_x_dim",
	"board_y_dim",
	"rng_seed",
}

// FieldNames lists the configuration options in positional order.
func FieldNames() []string { return append([]string(nil), fieldNames...) }

// LoadFile reads a configuration from a YAML file (.yaml, .yml) or from a
// text file holding the eleven values one per line.
func LoadFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read instance file: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return DecodeYAML(data)
	}

	var values []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			values = append(values, line)
		}
	}
	if err := sc.Err(); err != nil {
		return Config{}, fmt.Errorf("read instance file: %w", err)
	}
	if len(values) != len(fieldNames) {
		return Config{}, invalid("%d parameters in %s, want %d", len(values), path, len(fieldNames))
	}
	cfg, err := ParseValues(values[:len(values)-1])
	if err != nil {
		return Config{}, err
	}
	seed, err := strconv.ParseInt(values[len(values)-1], 10, 64)
	if err != nil {
		return Config{}, invalid("rng_seed: %v", err)
	}
	cfg.Seed = seed
	return cfg, cfg.Validate()
}

// DecodeYAML decodes a configuration document. Missing keys keep their
// defaults; unknown keys are rejected.
func DecodeYAML(data []byte) (Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("%w: yaml: %v", ErrInvalidConfig, err)
	}
	return cfg, cfg.Validate()
}

// ParseValues parses the ten positional values (every option but the seed).
// The seed is left at DefaultSeed.
func ParseValues(values []string) (Config, error) {
	if len(values) != len(fieldNames)-1 {
		return Config{}, invalid("%d values expected, %d given", len(fieldNames)-1, len(values))
	}
	ints := make([]int, len(values))
	var usageCost float64
	for k, v := range values {
		var err error
		if fieldNames[k] == "depot_usage_cost" {
			usageCost, err = strconv.ParseFloat(v, 64)
		} else {
			ints[k], err = strconv.Atoi(v)
		}
		if err != nil {
			return Config{}, invalid("%s: %q is not a number", fieldNames[k], v)
		}
	}
	cfg := Config{
		TimePeriods:              ints[0],
		MaxActiveDepotsPerPeriod: ints[1],
		MaxCustomersPerDepot:     ints[2],
		DepotUsageCost:           usageCost,
		Depots:                   ints[4],
		Customers:                ints[5],
		DepotExclusionRadius:     ints[6],
		PriorityGroups:           ints[7],
		BoardX:                   ints[8],
		BoardY:                   ints[9],
		Seed:                     DefaultSeed,
	}
	return cfg, cfg.Validate()
}

// Summary renders the configuration one option per line, in positional order.
func (c Config) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "time periods = %d\n", c.TimePeriods)
	fmt.Fprintf(&b, "max operating depots per period = %d\n", c.MaxActiveDepotsPerPeriod)
	fmt.Fprintf(&b, "max customers per depot = %d\n", c.MaxCustomersPerDepot)
	fmt.Fprintf(&b, "depot usage cost = %g\n", c.DepotUsageCost)
	fmt.Fprintf(&b, "number of depots = %d\n", c.Depots)
	fmt.Fprintf(&b, "number of customers = %d\n", c.Customers)
	fmt.Fprintf(&b, "depot exclusion radius = %d\n", c.DepotExclusionRadius)
	fmt.Fprintf(&b, "number of priority groups = %d\n", c.PriorityGroups)
	fmt.Fprintf(&b, "board x dimension = %d\n", c.BoardX)
	fmt.Fprintf(&b, "board y dimension = %d\n", c.BoardY)
	fmt.Fprintf(&b, "rng seed = %d\n", c.Seed)
	return b.String()
}
