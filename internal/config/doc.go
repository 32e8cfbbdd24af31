// Package config provides configuration loading and validation for the speech
// check client and the reference analysis service.
// Settings come from a YAML file layered over Default(), then from a few
// SPEECHCHECK_* environment variables, optionally seeded from a .env file.
package config
