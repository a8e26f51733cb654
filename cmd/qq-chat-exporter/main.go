// Command qq-chat-exporter is the CLI entrypoint: export, serve, schedule,
// migrate, and doctor subcommands all live in the root cmd package.
package main

import (
	"github.com/nextlevelbuilder/qq-chat-exporter/cmd"
)

func main() {
	cmd.Execute()
}
