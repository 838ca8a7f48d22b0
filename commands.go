package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"codesage/internal/api"
	"codesage/internal/blocks"
	"codesage/internal/render"
	"codesage/internal/worker"
)

func newServeCmd(cfgPath *string) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				log.Fatalf("init: %v", err)
			}
			defer a.Close()

			queue := worker.NewQueue(a.cfg.BasicConfig.QueueSize, a.logger)
			defer queue.Close()
			handlers := api.NewHandler(a.assistant, queue, a.logger)

			router := gin.Default()
			handlers.RegisterRoutes(router)

			if addr == "" {
				addr = a.cfg.BasicConfig.ServerAddress
			}
			a.logger.Info("listening", "addr", addr, "driver", a.cfg.BasicConfig.StorageDriver)
			if err := router.Run(addr); err != nil {
				log.Fatalf("server stopped: %v", err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides basic_config.server_address)")
	return cmd
}

func newChatCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Chat in the terminal; /quit exits",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				log.Fatalf("init: %v", err)
			}
			defer a.Close()
			return runChat(cmd.Context(), a, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}
}

func runChat(ctx context.Context, a *app, in io.Reader, out io.Writer) error {
	if id, ok := a.store.Current(); ok {
		if se, err := a.store.Get(id); err == nil {
			fmt.Fprintln(out, render.Notice(fmt.Sprintf("Continuing %q. Type /quit to exit.", se.Title)))
		}
	}
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit":
			return nil
		}

		reply, err := a.assistant.Submit(ctx, line, nil)
		if err != nil {
			fmt.Fprintln(out, render.Warning(err.Error()))
			continue
		}
		switch {
		case reply.Command != nil:
			fmt.Fprintln(out, render.Notice(reply.Command.Notice))
			if reply.Sessions != nil {
				fmt.Fprintln(out, render.Sessions(reply.Sessions))
			}
		case reply.Assistant != nil:
			fmt.Fprintln(out, render.Message(*reply.Assistant))
		}
		for _, w := range reply.Warnings {
			fmt.Fprintln(out, render.Warning(w))
		}
	}
}

func newSessionsCmd(cfgPath *string) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List saved sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), *cfgPath)
			if err != nil {
				log.Fatalf("init: %v", err)
			}
			defer a.Close()
			list := a.store.List()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(list)
			}
			fmt.Fprintln(cmd.OutOrStdout(), render.Sessions(list))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func newSplitCmd() *cobra.Command {
	var asJSON, codeOnly bool
	cmd := &cobra.Command{
		Use:   "split [file]",
		Short: "Split markdown into prose and fenced code segments",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("open %s: %w", args[0], err)
				}
				defer f.Close()
				in = f
			}
			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			segs := blocks.Split(string(data))
			if codeOnly {
				segs = blocks.Code(segs)
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(segs)
			}
			fmt.Fprint(cmd.OutOrStdout(), render.Segments(segs))
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print segments as JSON")
	cmd.Flags().BoolVar(&codeOnly, "code", false, "keep only fenced code segments")
	return cmd
}
