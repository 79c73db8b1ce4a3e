// Command mcpmon is a transparent hot-reload supervisor for MCP servers
// speaking newline-delimited JSON-RPC over stdio.
package main

import (
	"github.com/neilopet/mcpmon/cmd/mcpmon/cmd"
)

func main() {
	cmd.Execute()
}
