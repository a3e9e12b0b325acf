// Package config loads the service configuration from a YAML file.
// Secrets are kept out of the file by referencing environment variables as
// ${VAR}; a .env file in the working directory is loaded first when present.
// Each section validates itself and provides duration helpers.
package config
