// Package services owns the process-wide backends of ragpipe.
//
// A Registry is built once at startup from configuration and handed to the
// HTTP gateway, the MCP server and the CLI commands. Backends are created
// lazily on first use, at most once, and released together by Close.
package services
