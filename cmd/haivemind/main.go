// Command haivemind runs the hAIvemind control plane: the HTTP API, the /ws
// observer duplex channel, and the background session-retention and plugin
// autoload watchers described in the project's on-disk/wire contract.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "haivemind",
		Short: "hAIvemind orchestrates coding-agent sessions across projects",
		Long: `hAIvemind decomposes prompts into task DAGs, runs them through a
coding-agent CLI backend, verifies the result, and reflects on what was
learned — all observable over a websocket duplex channel.`,
	}
	cmd.AddCommand(serveCmd())
	cmd.AddCommand(recoverCmd())
	cmd.AddCommand(versionCmd())
	return cmd
}

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("haivemind", version)
		},
	}
}
