// Package logging configures structured slog output for the legalcodes
// binary. Logs are JSON lines written to a size-rotated file under
// ~/.legalcodes/logs/ and, unless the process speaks a protocol on its
// standard streams (MCP over stdio), mirrored to stderr.
package logging
