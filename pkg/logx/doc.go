// Package logx provides a small structured logging facade over zerolog.
//
// Services receive a logx.Logger value; the zero value and Nop() are safe
// no-op loggers, which keeps tests free of logging setup.
package logx
