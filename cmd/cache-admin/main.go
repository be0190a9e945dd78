// Package main administers a multicall result cache: creating or dropping
// its store, counting records, inspecting or deleting single entries and
// computing the CallID of a call.
//
// Usage:
//
//	cache-admin [-cache location] [-config file] [-verbose] <command> [args]
//
//	create                     create the store if it does not exist
//	drop -yes                  remove the store and every record in it
//	count                      print the number of cached records
//	get <call-id>...           print cached results as JSON lines
//	delete <call-id>...        delete cached results
//	id -chain-id N -block N -target A -signature S [arg...]
//	                           print the CallID of a call
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/archon-research/multicallcache/internal/adapters/outbound/cachestore"
	"github.com/archon-research/multicallcache/internal/config"
	"github.com/archon-research/multicallcache/internal/domain/entity"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/abicodec"
	"github.com/archon-research/multicallcache/internal/pkg/blockchain/callspec"
	"github.com/archon-research/multicallcache/internal/ports/outbound"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	configPath string
	cache      string
	verbose    bool
	command    string
	args       []string
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("cache-admin", flag.ContinueOnError)
	configPath := fs.String("config", "", "YAML config file (default: $MULTICALL_CONFIG_PATH)")
	cache := fs.String("cache", "", "Cache location (default: from config)")
	verbose := fs.Bool("verbose", false, "Enable verbose logging")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}
	if fs.NArg() == 0 {
		return cliConfig{}, errors.New("a command is required: create, drop, count, get, delete or id")
	}

	return cliConfig{
		configPath: *configPath,
		cache:      *cache,
		verbose:    *verbose,
		command:    fs.Arg(0),
		args:       fs.Args()[1:],
	}, nil
}

func run(args []string, stdout io.Writer) error {
	_ = godotenv.Load(".env")

	cli, err := parseFlags(args)
	if err != nil {
		return err
	}

	// id needs neither config nor a store
	if cli.command == "id" {
		return printCallID(cli.args, stdout)
	}

	cfg, err := config.Load(cli.configPath)
	if err != nil {
		return err
	}
	if cli.cache != "" {
		cfg.Cache = cli.cache
	}

	logLevel := cfg.Level()
	if cli.verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var handler func(ctx context.Context, cache outbound.AdminCache, args []string, stdout io.Writer) error
	switch cli.command {
	case "create":
		handler = createStore
	case "drop":
		handler = dropStore
	case "count":
		handler = countRecords
	case "get":
		handler = getRecords
	case "delete":
		handler = deleteRecords
	default:
		return fmt.Errorf("unknown command %q", cli.command)
	}

	cache, err := cachestore.Open(ctx, cfg.Cache, logger)
	if err != nil {
		return fmt.Errorf("opening cache: %w", err)
	}
	defer cache.Close()

	logger.Debug("running command", "command", cli.command, "cache", cfg.Cache)
	return handler(ctx, cache, cli.args, stdout)
}

func createStore(ctx context.Context, cache outbound.AdminCache, _ []string, stdout io.Writer) error {
	if err := cache.CreateStore(ctx); err != nil {
		return fmt.Errorf("creating store: %w", err)
	}
	_, err := fmt.Fprintln(stdout, "store ready")
	return err
}

func dropStore(ctx context.Context, cache outbound.AdminCache, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("drop", flag.ContinueOnError)
	yes := fs.Bool("yes", false, "Confirm that every cached record should be removed")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if !*yes {
		return errors.New("drop removes every cached record; pass -yes to confirm")
	}
	if err := cache.DropStore(ctx); err != nil {
		return fmt.Errorf("dropping store: %w", err)
	}
	_, err := fmt.Fprintln(stdout, "store dropped")
	return err
}

func countRecords(ctx context.Context, cache outbound.AdminCache, _ []string, stdout io.Writer) error {
	n, err := cache.Count(ctx)
	if err != nil {
		return fmt.Errorf("counting records: %w", err)
	}
	_, err = fmt.Fprintln(stdout, n)
	return err
}

// cachedEntry is the JSON form of one get result.
type cachedEntry struct {
	ID       string `json:"id"`
	Cached   bool   `json:"cached"`
	Status   string `json:"status,omitempty"`
	Response string `json:"response,omitempty"`
}

func getRecords(ctx context.Context, cache outbound.AdminCache, args []string, stdout io.Writer) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(stdout)
	for _, id := range ids {
		result, ok, err := cache.GetOne(ctx, id)
		if err != nil {
			return fmt.Errorf("getting %s: %w", id, err)
		}
		entry := cachedEntry{ID: id.Hex(), Cached: ok}
		if ok {
			entry.Status = result.Status().String()
			entry.Response = "0x" + hex.EncodeToString(result.Response)
		}
		if err := enc.Encode(entry); err != nil {
			return err
		}
	}
	return nil
}

func deleteRecords(ctx context.Context, cache outbound.AdminCache, args []string, stdout io.Writer) error {
	ids, err := parseIDs(args)
	if err != nil {
		return err
	}
	for _, id := range ids {
		deleted, err := cache.Delete(ctx, id)
		if err != nil {
			return fmt.Errorf("deleting %s: %w", id, err)
		}
		state := "absent"
		if deleted {
			state = "deleted"
		}
		if _, err := fmt.Fprintln(stdout, id.Hex(), state); err != nil {
			return err
		}
	}
	return nil
}

func parseIDs(args []string) ([]entity.CallID, error) {
	if len(args) == 0 {
		return nil, errors.New("at least one call id is required")
	}
	ids := make([]entity.CallID, 0, len(args))
	for _, arg := range args {
		id, err := entity.ParseCallID(arg)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func printCallID(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("id", flag.ContinueOnError)
	chainID := fs.Uint64("chain-id", 1, "Chain id")
	block := fs.Int64("block", -1, "Block number (required)")
	target := fs.String("target", "", "Contract address (required)")
	signature := fs.String("signature", "", "Function signature, e.g. balanceOf(address)(uint256) (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *target == "" || *signature == "" {
		return errors.New("-target and -signature are required")
	}

	callArgs := make([]any, 0, fs.NArg())
	for _, a := range fs.Args() {
		callArgs = append(callArgs, a)
	}
	labels, handlers, err := outputLabels(*signature)
	if err != nil {
		return err
	}
	call, err := callspec.New(*target, *signature, callArgs, labels, handlers)
	if err != nil {
		return err
	}
	id, err := call.ToID(*chainID, *block)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(stdout, id.Hex())
	return err
}

// outputLabels returns placeholder labels matching the signature's outputs.
// Labels do not take part in the CallID.
func outputLabels(signature string) ([]string, []callspec.Handler, error) {
	sig, err := abicodec.Parse(signature)
	if err != nil {
		return nil, nil, err
	}
	labels := make([]string, len(sig.Outputs))
	handlers := make([]callspec.Handler, len(sig.Outputs))
	for i := range labels {
		labels[i] = fmt.Sprintf("out%d", i)
		handlers[i] = callspec.Identity()
	}
	return labels, handlers, nil
}
