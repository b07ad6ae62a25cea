// Package logx configures notifyrelay's structured logging.
//
// Components receive a logx.Logger (a thin wrapper over zerolog) and derive
// scoped loggers with With(logx.String("comp", ...)). The zero Logger is a
// safe no-op so engines can be constructed in tests without wiring sinks.
//
// Console output is human readable (short timestamp + short caller); the
// optional file sink writes JSON lines suitable for shipping.
package logx
