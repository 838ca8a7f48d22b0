package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:          "codesage",
		Short:        "Code-generation assistant with persistent chat sessions",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfgPath, "config", os.Getenv("CODESAGE_CONFIG"),
		"path to a JSON or YAML config file (env CODESAGE_CONFIG)")

	root.AddCommand(
		newServeCmd(&cfgPath),
		newChatCmd(&cfgPath),
		newSessionsCmd(&cfgPath),
		newSplitCmd(),
	)
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	return root
}
