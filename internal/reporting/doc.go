// Package reporting forwards absorbed failures (recognition, persistence,
// panics in HTTP handlers) to Sentry when a DSN is configured.
package reporting
