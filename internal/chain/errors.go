package chain

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"

	"github.com/gagliardetto/solana-go/rpc/jsonrpc"
)

func IsAccountNotFound(err error) bool {
	return errors.Is(err, ErrAccountNotFound)
}

// InstructionError is a custom program error raised by one instruction of a
// transaction. Index is -1 when the ledger did not report it.
type InstructionError struct {
	Index int
	Code  uint32
}

var customErrorPattern = regexp.MustCompile(`(?i)(?:instruction (\d+): )?custom program error: 0x([0-9a-f]+)`)

// ParseInstructionError extracts a custom program error from a signature
// status error value or a submission error.
func ParseInstructionError(v any) (InstructionError, bool) {
	switch typed := v.(type) {
	case nil:
		return InstructionError{}, false
	case *jsonrpc.RPCError:
		if out, ok := parseCustomErrorText(typed.Message); ok {
			return out, true
		}
		return ParseInstructionError(typed.Data)
	case error:
		var rpcErr *jsonrpc.RPCError
		if errors.As(typed, &rpcErr) {
			return ParseInstructionError(rpcErr)
		}
		return parseCustomErrorText(typed.Error())
	case string:
		return parseCustomErrorText(typed)
	case map[string]any:
		if raw, ok := typed["InstructionError"]; ok {
			return parseInstructionErrorTuple(raw)
		}
		if raw, ok := typed["err"]; ok {
			return ParseInstructionError(raw)
		}
		return InstructionError{}, false
	default:
		return InstructionError{}, false
	}
}

func parseInstructionErrorTuple(raw any) (InstructionError, bool) {
	tuple, ok := raw.([]any)
	if !ok || len(tuple) != 2 {
		return InstructionError{}, false
	}
	index, ok := numberToUint64(tuple[0])
	if !ok {
		return InstructionError{}, false
	}
	detail, ok := tuple[1].(map[string]any)
	if !ok {
		return InstructionError{}, false
	}
	code, ok := numberToUint64(detail["Custom"])
	if !ok {
		return InstructionError{}, false
	}
	return InstructionError{Index: int(index), Code: uint32(code)}, true
}

func parseCustomErrorText(text string) (InstructionError, bool) {
	match := customErrorPattern.FindStringSubmatch(text)
	if match == nil {
		return InstructionError{}, false
	}
	code, err := strconv.ParseUint(match[2], 16, 32)
	if err != nil {
		return InstructionError{}, false
	}
	out := InstructionError{Index: -1, Code: uint32(code)}
	if match[1] != "" {
		if index, err := strconv.Atoi(match[1]); err == nil {
			out.Index = index
		}
	}
	return out, true
}

func numberToUint64(v any) (uint64, bool) {
	switch n := v.(type) {
	case float64:
		if n < 0 {
			return 0, false
		}
		return uint64(n), true
	case json.Number:
		parsed, err := strconv.ParseUint(n.String(), 10, 64)
		return parsed, err == nil
	case int:
		return uint64(n), n >= 0
	case int64:
		return uint64(n), n >= 0
	case uint64:
		return n, true
	case uint32:
		return uint64(n), true
	default:
		return 0, false
	}
}

// DescribeStatusErr renders a signature status error for logs and wrapped errors.
func DescribeStatusErr(v any) string {
	if v == nil {
		return ""
	}
	if body, err := json.Marshal(v); err == nil {
		return string(body)
	}
	return fmt.Sprint(v)
}
