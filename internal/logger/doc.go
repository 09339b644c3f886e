// Package logger wraps zap with a global sugared logger, context helpers
// (ToContext/FromContext/WithName/WithKV/WithFields), level parsing, and
// convenience functions (Infof, ErrorKV, ...).
//
// Services accept a context and log through the package-level helpers, so
// scoped loggers travel with the call chain.
package logger
