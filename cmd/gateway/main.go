// Command gateway is the entry point for the sandbox gateway server:
// it owns the worker pool, the execution proxy, and the HTTP API that
// clients and the CLI speak to.
//
// Usage:
//
//	gateway serve [flags]
package main

import (
	"github.com/wardenhq/sandbox-gateway/internal/cli"
)

func main() {
	cli.Execute()
}
