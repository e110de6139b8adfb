// Package logx is a thin structured logging layer over zerolog.
//
// It exists so components take a small Logger value instead of a
// zerolog.Logger, and so sinks/levels can be swapped at runtime
// without re-plumbing every component.
package logx
