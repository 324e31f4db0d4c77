package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmot-chat/marmot/controller"
	"github.com/marmot-chat/marmot/internal/config"
	"github.com/marmot-chat/marmot/internal/logger"
	"github.com/marmot-chat/marmot/internal/metrics"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a marmot session from a config file",
	Long: `Load a config file, bootstrap (or rejoin) the MLS group it
describes, connect to the MoQ transport, and drive the session from an
interactive line-oriented console: typed lines are sent as group
messages, and "/rotate", "/invite <pubkey> [admin]", "/remove <pubkey>",
"/epoch", and "/root" drive the remaining host-engine operations.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "marmot.yaml", "path to the marmot config file")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadFromFile(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log, closeLog, err := buildLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer closeLog()

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		go func() {
			if err := metrics.StartServer(cfg.Metrics.Addr); err != nil {
				log.Error("metrics server stopped", logger.Error(err))
			}
		}()
		log.Info("metrics server listening", logger.String("addr", cfg.Metrics.Addr))
	}

	ctl, err := controller.NewController(cfg, log)
	if err != nil {
		return fmt.Errorf("build controller: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	done := make(chan struct{})
	go func() {
		ctl.Run(ctx)
		close(done)
	}()
	go printEvents(ctl)

	ctl.Bootstrap()
	ctl.ConnectTransport()

	runConsole(ctl, ctx)

	ctl.Shutdown()
	<-done
	return nil
}

func buildLogger(cfg *config.LoggingConfig) (logger.Logger, func(), error) {
	var (
		out   *os.File
		level logger.Level
	)
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	case "file":
		f, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	default:
		return nil, nil, fmt.Errorf("unknown logging output %q", cfg.Output)
	}

	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = logger.DebugLevel
	case "warn":
		level = logger.WarnLevel
	case "error":
		level = logger.ErrorLevel
	default:
		level = logger.InfoLevel
	}

	l := logger.NewLogger(out, level)
	if strings.ToLower(cfg.Format) == "pretty" {
		l.SetPrettyPrint(true)
	}

	closer := func() {
		if out != os.Stdout && out != os.Stderr {
			out.Close()
		}
	}
	return l, closer, nil
}

// printEvents renders the controller's event stream to stdout. Host
// applications would wire these into a UI instead; the console runner
// only needs enough surface to exercise the engine end to end.
func printEvents(ctl *controller.Controller) {
	for ev := range ctl.Events() {
		switch ev.Kind() {
		case controller.EventStatus:
			status, _ := ev.Status()
			fmt.Printf("[status] %s\n", status)
		case controller.EventReady:
			ready, _ := ev.Ready()
			fmt.Printf("[transport] ready=%v\n", ready)
		case controller.EventMessage:
			msg, _ := ev.Message()
			marker := "peer"
			if msg.Local {
				marker = "you"
			}
			fmt.Printf("[%s] %s: %s\n", msg.CreatedAt.Format("15:04:05"), marker, msg.Content)
		case controller.EventCommit:
			c, _ := ev.Commit()
			fmt.Printf("[commit] total merged: %d\n", c.Total)
		case controller.EventRoster:
			roster, _ := ev.Roster()
			fmt.Printf("[roster] %d member(s)\n", len(roster.Members))
		case controller.EventMemberJoined:
			m, _ := ev.MemberJoined()
			fmt.Printf("[member] joined: %s (admin=%v)\n", m.PubKey, m.IsAdmin)
		case controller.EventMemberUpdated:
			m, _ := ev.MemberUpdated()
			fmt.Printf("[member] updated: %s (admin=%v)\n", m.PubKey, m.IsAdmin)
		case controller.EventMemberLeft:
			pk, _ := ev.MemberLeft()
			fmt.Printf("[member] left: %s\n", pk)
		case controller.EventInviteGenerated:
			inv, _ := ev.InviteGenerated()
			fmt.Printf("[invite] pending for %s (admin=%v)\n", inv.PubKey, inv.IsAdmin)
		case controller.EventError:
			errEv, _ := ev.Error()
			fmt.Printf("[error] %s (fatal=%v)\n", errEv.Message, errEv.Fatal)
		case controller.EventHandshake:
			h, _ := ev.Handshake()
			fmt.Printf("[handshake] %s\n", h.Phase)
		}
	}
}

func runConsole(ctl *controller.Controller, ctx context.Context) {
	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			handleConsoleLine(ctl, line)
		}
	}
}

func handleConsoleLine(ctl *controller.Controller, line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if !strings.HasPrefix(line, "/") {
		ctl.SendMessage(line)
		return
	}

	fields := strings.Fields(line)
	switch fields[0] {
	case "/rotate":
		ctl.RotateEpoch()
	case "/invite":
		if len(fields) < 2 {
			fmt.Println("usage: /invite <pubkey_hex> [admin]")
			return
		}
		isAdmin := len(fields) > 2 && fields[2] == "admin"
		ctl.InviteMember(fields[1], isAdmin)
	case "/remove":
		if len(fields) < 2 {
			fmt.Println("usage: /remove <pubkey_hex>")
			return
		}
		ctl.RemoveMember(fields[1])
	case "/epoch":
		epoch, err := ctl.CurrentEpoch()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("current epoch:", epoch)
	case "/root":
		root, err := ctl.GroupRoot()
		if err != nil {
			fmt.Println("error:", err)
			return
		}
		fmt.Println("group root:", root)
	default:
		fmt.Println("unknown command:", fields[0])
	}
}
