package main

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"

	"github.com/rickgao/rtlink/internal/connection"
)

// inputLine is one line read by sendLines.
type inputLine struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// sendLines sends every line of r through m until EOF. Bad lines are logged
// and skipped. It returns the number of lines the manager accepted.
func sendLines(r io.Reader, m connection.Manager, logger *slog.Logger) int {
	accepted := 0
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var in inputLine
		if err := json.Unmarshal(line, &in); err != nil {
			logger.Warn("skipping input line", "error", err)
			continue
		}
		if in.Type == "" {
			logger.Warn("skipping input line", "error", "missing type")
			continue
		}

		var payload any
		if len(in.Payload) > 0 {
			payload = in.Payload
		}
		res, err := m.Send(in.Type, payload)
		if err != nil {
			logger.Warn("send failed", "type", in.Type, "result", res, "error", err)
			continue
		}
		accepted++
	}
	if err := scanner.Err(); err != nil {
		logger.Error("reading input", "error", err)
	}
	return accepted
}
