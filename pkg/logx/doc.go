// Package logx wraps zerolog for shotbot.
//
// Console output is human readable, the optional file is JSON, and warnings can be
// forwarded as HTML to the operator log channel through a rate-limited Forwarder.
package logx
