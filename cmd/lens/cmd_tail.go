// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/MakeNowJust/heredoc"
	"github.com/klauspost/compress/gzip"
	"github.com/spf13/cobra"
)

var tailCmd = &cobra.Command{
	Use:   "tail [traces.jsonl]",
	Short: "Pretty-print an exported trace file",
	Long: heredoc.Doc(`
		Read a JSONL trace file written by the file exporter and print one
		line per span: time, duration, name, status, and the gen_ai model
		and token-usage attributes when present. Files ending in .gz are
		decompressed on the fly.

		Examples:
		  lens tail traces.jsonl
		  lens tail -f traces.jsonl
		  lens tail --raw traces.jsonl.gz
	`),
	Args: cobra.ExactArgs(1),
	Run:  runTail,
}

func init() {
	rootCmd.AddCommand(tailCmd)
	tailCmd.Flags().BoolP("follow", "f", false, "keep watching the file for new spans")
	tailCmd.Flags().Bool("raw", false, "print raw JSON lines instead of the summary")
}

func runTail(cmd *cobra.Command, args []string) {
	path := args[0]
	follow, _ := cmd.Flags().GetBool("follow")
	raw, _ := cmd.Flags().GetBool("raw")

	if follow && strings.HasSuffix(path, ".gz") {
		fmt.Fprintln(os.Stderr, "--follow is not supported for gzip files")
		os.Exit(1)
	}

	f, err := os.Open(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
		os.Exit(1)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "open %s: %v\n", path, err)
			os.Exit(1)
		}
		defer gz.Close()
		r = gz
	}

	reader := bufio.NewReaderSize(r, 1<<20)
	var partial []byte
	for {
		chunk, err := reader.ReadBytes('\n')
		if len(chunk) > 0 {
			partial = append(partial, chunk...)
		}
		if err == io.EOF {
			if !follow {
				break
			}
			time.Sleep(500 * time.Millisecond)
			continue
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "read %s: %v\n", path, err)
			os.Exit(1)
		}
		line := strings.TrimSpace(string(partial))
		partial = partial[:0]
		if line == "" {
			continue
		}
		if raw {
			fmt.Println(line)
			continue
		}
		fmt.Println(formatSpanLine(line))
	}
}

// formatSpanLine turns one exported span into a single summary line. Lines
// that are not valid span JSON are passed through untouched.
func formatSpanLine(line string) string {
	var span map[string]any
	if err := json.Unmarshal([]byte(line), &span); err != nil {
		return line
	}

	var b strings.Builder
	if start, ok := span["start_time"].(string); ok {
		if t, err := time.Parse(time.RFC3339Nano, start); err == nil {
			b.WriteString(t.Format("15:04:05.000"))
		} else {
			b.WriteString(start)
		}
	}
	if dur, ok := span["duration_ms"].(float64); ok {
		fmt.Fprintf(&b, " %8.1fms", dur)
	}
	if name, ok := span["name"].(string); ok {
		fmt.Fprintf(&b, "  %-40s", name)
	}
	if status, ok := span["status"].(map[string]any); ok {
		if code, ok := status["status_code"].(string); ok && code != "" {
			fmt.Fprintf(&b, " [%s]", strings.ToLower(code))
		}
	}

	attrs, _ := span["attributes"].(map[string]any)
	if model := attrString(attrs, "gen_ai.response.model", "gen_ai.request.model"); model != "" {
		fmt.Fprintf(&b, " model=%s", model)
	}
	in := attrNumber(attrs, "gen_ai.usage.input_tokens")
	out := attrNumber(attrs, "gen_ai.usage.output_tokens")
	if in != nil || out != nil {
		fmt.Fprintf(&b, " tokens=%s/%s", formatTokens(in), formatTokens(out))
	}
	if session := attrString(attrs, "session.id"); session != "" {
		fmt.Fprintf(&b, " session=%s", session)
	}
	return b.String()
}

func attrString(attrs map[string]any, keys ...string) string {
	for _, key := range keys {
		if s, ok := attrs[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

func attrNumber(attrs map[string]any, key string) *float64 {
	if n, ok := attrs[key].(float64); ok {
		return &n
	}
	return nil
}

func formatTokens(n *float64) string {
	if n == nil {
		return "-"
	}
	return fmt.Sprintf("%.0f", *n)
}
