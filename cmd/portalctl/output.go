package main

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/ceyewan/fnportal/broadcast"
)

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printLines(w io.Writer, lines []string) error {
	if jsonOutput {
		return printJSON(w, lines)
	}
	for _, l := range lines {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return err
		}
	}
	return nil
}

// printActiveErrors 命令结束时仍处于活跃状态的错误，相当于界面上还没关掉的错误横幅
func printActiveErrors(w io.Writer, events []broadcast.Event) {
	for _, e := range events {
		fmt.Fprintf(w, "[%s] %s: %s\n", e.Severity, e.ErrorID, e.Message)
	}
}

func printEvent(w io.Writer, e broadcast.Event) {
	if jsonOutput {
		_ = json.NewEncoder(w).Encode(e)
		return
	}
	fmt.Fprintf(w, "%s %-7s %-40s %s\n", e.Time.Format(time.RFC3339), e.Type, e.ErrorID, e.Message)
}
