// Package config loads navilinkd settings.
//
// Load starts from built-in defaults, overlays the YAML file, then applies
// NAVILINK_* environment variables and validates the result. Every
// problem found is reported in one error.
//
// Secrets (the NaviLink password, JWT secret, admin password hash, InfluxDB
// token and NATS password) belong in the environment, not the file.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
//	interval := cfg.GetPollingInterval()
package config
