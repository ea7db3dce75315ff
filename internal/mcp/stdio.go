package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
)

// stdioMaxLine bounds one newline-delimited message.
const stdioMaxLine = 4 << 20

// ServeStdio speaks newline-delimited JSON-RPC over the given streams.
// One message per line in, one response per line out; notifications
// produce no output. Returns when the input closes or ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), stdioMaxLine)

	encoder := json.NewEncoder(out)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		msgs, batch, err := parseMessages(line)
		if err != nil {
			if encErr := encoder.Encode(parseError()); encErr != nil {
				return encErr
			}
			continue
		}
		payload := s.processMessages(ctx, msgs, batch)
		if payload == nil {
			continue
		}
		if err := encoder.Encode(payload); err != nil {
			return err
		}
	}
	return scanner.Err()
}
