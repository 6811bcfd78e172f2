/*
Package config provides type-safe configuration extraction from
map[string]any, used to load dispatcher options (directly, or through
orchestrator.Options.Cfg) from a YAML or JSON file.

	cfg, err := config.FromFile("orchestrator.yaml")
	if err != nil {
	    log.Fatal(err)
	}

	d := dispatcher.New(
	    dispatcher.WithTickInterval(cfg.Duration("tick_interval", time.Second)),
	    dispatcher.WithCapacity(cfg.Int("capacity", 25)),
	    dispatcher.WithFailSagaOnUnknownWorker(cfg.Bool("fail_saga_on_unknown_worker", true)),
	)

Config is safe for concurrent read access once constructed.
*/
package config
