// Command attestix serves the attestation tool surface over newline-
// delimited JSON: one {"tool": name, "arguments": {...}} request per
// stdin line, one JSON response per stdout line. Logs go to stderr.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/VibeTensor/attestix/pkg/anchor"
	"github.com/VibeTensor/attestix/pkg/config"
	"github.com/VibeTensor/attestix/pkg/tools"
)

func main() {
	os.Exit(Run(os.Args, os.Stdin, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	logger := slog.New(slog.NewTextHandler(stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	container, err := tools.NewContainer(cfg, dialLedger(ctx, cfg, logger))
	if err != nil {
		logger.Error("startup failed", "error", err)
		return 1
	}
	registry := tools.NewDefaultRegistry(container)

	if len(args) > 1 && args[1] == "tools" {
		for _, name := range registry.Names() {
			fmt.Fprintln(stdout, name)
		}
		return 0
	}

	logger.Info("attestix ready",
		"did", container.ServerDID(),
		"data_dir", cfg.DataDir,
		"tools", len(registry.Names()))

	return serve(ctx, registry, stdin, stdout, logger)
}

// dialLedger connects the anchor ledger when EVM_PRIVATE_KEY is set.
// Failures degrade to local-only mode rather than refusing to start.
func dialLedger(ctx context.Context, cfg *config.Config, logger *slog.Logger) anchor.Ledger {
	if cfg.EVMPrivateKey == "" {
		return nil
	}
	network, ok := anchor.Networks[cfg.BaseNetwork]
	if !ok {
		logger.Warn("unknown BASE_NETWORK, anchoring disabled", "network", cfg.BaseNetwork)
		return nil
	}
	rpcURL := cfg.BaseRPCURL
	if rpcURL == "" {
		rpcURL = network.RPCURL
	}
	ledger, err := anchor.DialEVM(ctx, rpcURL, cfg.EVMPrivateKey, network.ChainID)
	if err != nil {
		logger.Warn("ledger unavailable, anchoring disabled", "error", err)
		return nil
	}
	logger.Info("ledger connected", "network", cfg.BaseNetwork, "wallet", ledger.Attester())
	return ledger
}

type request struct {
	Tool      string                 `json:"tool"`
	Arguments map[string]interface{} `json:"arguments"`
}

func serve(ctx context.Context, registry *tools.Registry, stdin io.Reader, stdout io.Writer, logger *slog.Logger) int {
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	out := bufio.NewWriter(stdout)
	defer out.Flush()

	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req request
		var reply string
		if err := json.Unmarshal(line, &req); err != nil {
			reply = fmt.Sprintf(`{"error":"bad request: %s"}`, jsonEscape(err.Error()))
		} else if req.Tool == "" {
			reply = `{"error":"tool name is required"}`
		} else {
			reply = registry.Call(ctx, req.Tool, req.Arguments)
		}

		// One response line per request line; compact so framing survives.
		compact, err := compactJSON(reply)
		if err != nil {
			logger.Error("handler produced invalid JSON", "tool", req.Tool, "error", err)
			compact = `{"error":"internal error"}`
		}
		fmt.Fprintln(out, compact)
		out.Flush()
	}
	if err := scanner.Err(); err != nil {
		logger.Error("stdin read failed", "error", err)
		return 1
	}
	return 0
}

func compactJSON(s string) (string, error) {
	var v interface{}
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return "", err
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func jsonEscape(s string) string {
	b, err := json.Marshal(s)
	if err != nil {
		return ""
	}
	// Drop the surrounding quotes.
	return string(b[1 : len(b)-1])
}
