package main

import "go.uber.org/zap"

// newLogger returns a console or JSON zap.Logger per --log-json: a
// single flag switching the production vs. development zap configs,
// rather than a parsed logging config block.
func newLogger() (*zap.Logger, error) {
	if flagLogJSON {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}
