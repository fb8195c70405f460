package provider

import (
	"bufio"
	"io"
	"strings"
)

// doneSentinel terminates a delta-protocol event stream.
const doneSentinel = "[DONE]"

// sseReader yields the data payloads of a server-sent-event stream.
// Comment, id, and event-name lines are skipped; blank lines separate
// events and carry nothing themselves.
type sseReader struct {
	r *bufio.Reader
}

func newSSEReader(r io.Reader) *sseReader {
	return &sseReader{r: bufio.NewReader(r)}
}

// next returns the next data payload. io.EOF signals a clean end of
// stream; any other error is a transport failure mid-stream.
func (s *sseReader) next() (string, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.HasPrefix(strings.TrimSpace(line), "data:") {
				// Final event without a trailing newline.
				return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "data:")), nil
			}
			return "", err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		if strings.HasPrefix(line, "data:") {
			return strings.TrimSpace(strings.TrimPrefix(line, "data:")), nil
		}
	}
}
