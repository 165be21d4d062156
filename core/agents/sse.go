package agents

import (
	"bufio"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

const defaultEventName = "message"

// Event is one frame of an agent stream. Data holds the decoded JSON value
// when the frame's data decodes, and the raw text otherwise.
type Event struct {
	Name string
	Data any
	Raw  string
}

// frameReader reassembles frames from a body read in arbitrary pieces. A
// frame ends at an empty line; a trailing frame without one is returned at
// EOF.
type frameReader struct {
	reader *bufio.Reader
}

func newFrameReader(r io.Reader) *frameReader {
	return &frameReader{reader: bufio.NewReader(r)}
}

func (f *frameReader) Next() (Event, error) {
	var (
		name      string
		dataLines []string
		seen      bool
	)

	for {
		line, err := f.reader.ReadString('\n')
		eof := errors.Is(err, io.EOF)
		if err != nil && !eof {
			return Event{}, err
		}

		terminator := strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r") == "" && strings.HasSuffix(line, "\n")
		if terminator && seen {
			return buildEvent(name, dataLines), nil
		}

		line = strings.TrimRight(line, " \t\r\n")
		switch {
		case line == "", strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(line[len("event:"):])
			seen = true
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimLeft(line[len("data:"):], " \t"))
			seen = true
		}

		if eof {
			if !seen {
				return Event{}, io.EOF
			}
			return buildEvent(name, dataLines), nil
		}
	}
}

func buildEvent(name string, dataLines []string) Event {
	if name == "" {
		name = defaultEventName
	}

	raw := strings.Join(dataLines, "\n")
	event := Event{Name: name, Raw: raw, Data: raw}
	if raw == "" {
		return event
	}

	var decoded any
	if err := json.Unmarshal([]byte(raw), &decoded); err == nil {
		event.Data = decoded
	}
	return event
}
