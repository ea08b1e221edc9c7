// Package main is a command-line renderer: it sends calls to the host over
// the bridge and prints the results.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	comms "github.com/nats-io/nats.go"

	"github.com/radekcihi/electrontrpc/internal/config"
	"github.com/radekcihi/electrontrpc/pkg/bridge"
	"github.com/radekcihi/electrontrpc/pkg/codec"
	"github.com/radekcihi/electrontrpc/pkg/commsutil"
	"github.com/radekcihi/electrontrpc/pkg/events"
	"github.com/radekcihi/electrontrpc/pkg/procedure"
	"github.com/radekcihi/electrontrpc/pkg/rpcerror"
)

const usage = `Usage: rpcclient <command> [args]
       rpcclient query <path> [input-json]        Run one query.
       rpcclient mutation <path> [input-json]     Run one mutation.
       rpcclient batch <type>:<path>[=json] ...   Run several calls as one batched request per type.
       rpcclient version                          Check this client against the host's version range.
       rpcclient watch                            Print host events until interrupted.
       rpcclient log <message>                    Send an error message to the host log.

Environment: COMMS_URL, RPC_SUBJECT, LOG_SUBJECT, EVENT_SUBJECT, RPC_TRANSFORMER,
RPC_CALL_TIMEOUT, RPC_ABORT_AFTER (abort calls locally after this long), CLIENT_VERSION.
`

func main() {
	args := os.Args[1:]
	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		fmt.Print(usage)
		return
	}

	cfg, err := config.LoadClientConfig()
	if err != nil {
		log.Fatalf("rpcclient: %v", err)
	}
	nc, err := commsutil.Connect(cfg.COMMSURL, cfg.COMMSName)
	if err != nil {
		log.Fatalf("rpcclient: %v", err)
	}
	defer nc.Close()

	transformer, _ := codec.Lookup(cfg.Transformer)
	ch := bridge.NewNATSChannel(nc, cfg.RPCSubject, cfg.LogSubject).WithTimeout(cfg.CallTimeout)
	client := bridge.NewClient(ch, bridge.WithCodec(codec.New(transformer)))

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	if cfg.AbortAfter > 0 {
		// cancellation, not a deadline: outstanding calls resolve as ABORTED
		var abort context.CancelFunc
		ctx, abort = context.WithCancel(ctx)
		timer := time.AfterFunc(cfg.AbortAfter, abort)
		defer timer.Stop()
		defer abort()
	}

	if err := run(ctx, cfg, nc, client, args); err != nil {
		fmt.Fprintln(os.Stderr, describeError(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.ClientConfig, nc *comms.Conn, client *bridge.Client, args []string) error {
	switch args[0] {
	case "query", "mutation":
		if len(args) < 2 {
			return fmt.Errorf("%s: require a procedure path", args[0])
		}
		op, err := buildOperation(procedure.Kind(args[0]), args[1], argOr(args, 2))
		if err != nil {
			return err
		}
		data, err := client.Send(ctx, op).Wait()
		if err != nil {
			return err
		}
		return printJSON(data)
	case "batch":
		if len(args) < 2 {
			return errors.New("batch: require at least one <type>:<path> call")
		}
		ops := make([]bridge.Operation, 0, len(args)-1)
		for _, arg := range args[1:] {
			op, err := parseOperation(arg)
			if err != nil {
				return err
			}
			ops = append(ops, op)
		}
		failed := 0
		for i, call := range client.SendBatch(ctx, ops) {
			data, err := call.Wait()
			fmt.Printf("[%d] %s %s: ", i, ops[i].Type, ops[i].Path)
			if err != nil {
				failed++
				fmt.Println(describeError(err))
				continue
			}
			if err := printJSON(data); err != nil {
				return err
			}
		}
		if failed > 0 {
			return fmt.Errorf("%d of %d calls failed", failed, len(ops))
		}
		return nil
	case "version":
		input := map[string]string{"client": "rpcclient@" + cfg.ClientVersion}
		data, err := client.Send(ctx, bridge.Operation{Type: procedure.KindQuery, Path: "app.version", Input: input}).Wait()
		if err != nil {
			return err
		}
		return printJSON(data)
	case "watch":
		sub, err := events.Subscribe(nc, cfg.EventSubject, func(ev *events.AppAction) {
			fmt.Printf("%s %s %s\n", ev.Timestamp, ev.Action, ev.Payload)
		})
		if err != nil {
			return err
		}
		defer sub.Unsubscribe()
		fmt.Printf("Watching %s (Ctrl+C to stop)\n", commsutil.EventWildcard(cfg.EventSubject))
		<-ctx.Done()
		return nil
	case "log":
		if len(args) < 2 {
			return errors.New("log: require a message")
		}
		if err := client.Log(ctx, strings.Join(args[1:], " ")); err != nil {
			return err
		}
		return nc.Flush()
	}
	return fmt.Errorf("unknown command %q\n%s", args[0], usage)
}

func argOr(args []string, i int) string {
	if len(args) > i {
		return args[i]
	}
	return ""
}

// parseOperation reads "<type>:<path>[=<json>]".
func parseOperation(arg string) (bridge.Operation, error) {
	kind, rest, ok := strings.Cut(arg, ":")
	if !ok {
		return bridge.Operation{}, fmt.Errorf("invalid call %q, want <type>:<path>[=json]", arg)
	}
	path, input, _ := strings.Cut(rest, "=")
	return buildOperation(procedure.Kind(kind), path, input)
}

func buildOperation(kind procedure.Kind, path, input string) (bridge.Operation, error) {
	if kind != procedure.KindQuery && kind != procedure.KindMutation {
		return bridge.Operation{}, fmt.Errorf("unsupported call type %q", kind)
	}
	if path == "" {
		return bridge.Operation{}, errors.New("empty procedure path")
	}
	op := bridge.Operation{Type: kind, Path: path}
	if input != "" {
		if !json.Valid([]byte(input)) {
			return bridge.Operation{}, fmt.Errorf("input for %s is not valid JSON", path)
		}
		op.Input = json.RawMessage(input)
	}
	return op, nil
}

func printJSON(data json.RawMessage) error {
	if len(data) == 0 {
		fmt.Println("(no data)")
		return nil
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		return fmt.Errorf("format result: %w", err)
	}
	fmt.Println(buf.String())
	return nil
}

// describeError renders protocol errors as "CODE: message".
func describeError(err error) string {
	var e *rpcerror.Error
	if errors.As(err, &e) {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return err.Error()
}
