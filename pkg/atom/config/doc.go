/*
Package config provides type-safe configuration extraction from map[string]any.

config wraps a map[string]any and provides typed accessor methods that return
defaults on missing keys and type mismatches. The executor and event packages
read their declarative setup through it:

	executors:
	  - name: io
	    type: dynamic
	    core_workers: 2
	    max_workers: 8
	    keep_alive: 30s
	buses:
	  orders:
	    failure_policy: continue
	    stop_on_cancelled: true

	cfg, err := config.FromFile("atom.yaml")
	for _, ec := range cfg.Sections("executors") {
	    name := ec.String("name", "")
	    core := ec.Int("core_workers", 1)
	}
	orders := cfg.Section("buses").Section("orders")

Duration accepts strings for time.ParseDuration, numbers as seconds, and
time.Duration values. Integer accessors accept floats only when they carry no
fractional part, since JSON decodes every number as float64.

Config is safe for concurrent read access. The underlying map is not
modified after creation.
*/
package config
