// Package log provides the logging abstraction used by suntrack components.
//
// Components accept a Logger so that they can be embedded without pulling
// a concrete logging library into callers. A zerolog adapter is provided
// for the CLI, and a no-op logger for tests.
//
//	logger := log.NewZerologAdapterWithLogger(zerolog.New(os.Stderr))
//	logger.Info("actuator moved", log.Uint8("actuator", 1), log.Float64("position_mm", 15.5))
package log
