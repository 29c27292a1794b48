package chain

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

// Verbose renders err as a single human-readable diagnostic. JSON-RPC errors
// include their code, message and any program logs the node attached.
func Verbose(err error) string {
	if err == nil {
		return ""
	}
	var rpcErr *jsonrpc.RPCError
	if !errors.As(err, &rpcErr) {
		return err.Error()
	}

	var b strings.Builder
	fmt.Fprintf(&b, "rpc error %d: %s", rpcErr.Code, rpcErr.Message)
	data, _ := rpcErr.Data.(map[string]any)
	if data != nil {
		if e, ok := data["err"]; ok && e != nil {
			fmt.Fprintf(&b, "; err=%v", e)
		}
	}
	if logs := logLines(data); len(logs) > 0 {
		b.WriteString("\nlogs:")
		for _, l := range logs {
			b.WriteString("\n  ")
			b.WriteString(l)
		}
	}
	return b.String()
}

func logLines(data map[string]any) []string {
	raw, _ := data["logs"].([]any)
	logs := make([]string, 0, len(raw))
	for _, l := range raw {
		if s, ok := l.(string); ok {
			logs = append(logs, s)
		}
	}
	return logs
}
