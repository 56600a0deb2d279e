package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/akiojin/gwt-sub001/internal/configstore"
	"github.com/akiojin/gwt-sub001/internal/orchestrator"
	"github.com/akiojin/gwt-sub001/internal/panemanager"
	"github.com/akiojin/gwt-sub001/internal/procrunner"
	"github.com/akiojin/gwt-sub001/internal/rpcserver"
	"github.com/akiojin/gwt-sub001/internal/worktree"
)

const (
	maxPanes             = 8 // mirrors rpcserver's maxTabs wire-contract cap
	progressTickSchedule = "@every 5s"
)

func newServeCmd() *cobra.Command {
	var port int
	var address string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the JSON-RPC server and orchestrator loop until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			initLogging()
			return runServe(port, address)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "bind port (default: settings web.port, 8080)")
	cmd.Flags().StringVar(&address, "address", "", "bind address (default: settings web.address, 127.0.0.1)")
	return cmd
}

func runServe(portFlag int, addressFlag string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, err := repoRoot(ctx)
	if err != nil {
		return err
	}
	store := configstore.New(root)
	settings := store.Load()

	resolvedPort := settings.Web.Port
	if portFlag != 0 {
		resolvedPort = uint16(portFlag)
	}
	resolvedAddress := settings.Web.Address
	if addressFlag != "" {
		resolvedAddress = addressFlag
	}

	authToken, err := generateAuthToken()
	if err != nil {
		return err
	}
	fmt.Printf("starting gwt server on %s:%d\n", resolvedAddress, resolvedPort)
	fmt.Printf("auth token (pass as the first frame on /rpc): %s\n", authToken)

	runner := procrunner.New()
	panes := panemanager.New(runner, maxPanes)
	reg := worktree.New(root, settings.ProtectedBranches)

	rpc := rpcserver.New(rpcserver.Config{Host: resolvedAddress, Port: int(resolvedPort), AuthToken: authToken}, panes)

	agentPath := settings.Agent.ClaudePath
	if agentPath == "" {
		agentPath = "claude"
	}
	engine := orchestrator.New(orchestrator.Config{
		LLM:       orchestrator.NewCLIClient(agentPath),
		Panes:     panes,
		Worktrees: reg,
	})

	c := cron.New()
	if _, err := c.AddFunc(progressTickSchedule, func() {
		select {
		case engine.Events <- orchestrator.ProgressTick{}:
		default:
		}
	}); err != nil {
		return err
	}
	c.Start()
	defer func() {
		cctx := c.Stop()
		<-cctx.Done()
	}()

	go engine.Run(ctx)

	errCh := make(chan error, 1)
	go func() { errCh <- rpc.Start(ctx) }()

	select {
	case <-ctx.Done():
		return rpc.Shutdown()
	case err := <-errCh:
		return err
	}
}

// generateAuthToken produces a random hex token for the RpcServer's
// required first-message auth handshake, per spec.md §4.7.
func generateAuthToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
