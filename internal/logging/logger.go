// Package logging builds the terminal's zap logger.
package logging

import "go.uber.org/zap"

// New returns a production logger, or a development logger when env is
// "dev" or "development".
func New(env string) (*zap.Logger, error) {
	switch env {
	case "dev", "development":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}
