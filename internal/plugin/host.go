package plugin

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Request is one line of the host protocol.
type Request struct {
	Op     string          `json:"op"`
	Config json.RawMessage `json:"config,omitempty"`
}

// Response answers exactly one Request.
type Response struct {
	Op      string      `json:"op"`
	OK      bool        `json:"ok"`
	Result  interface{} `json:"result,omitempty"`
	Restart bool        `json:"restart,omitempty"`
	Error   string      `json:"error,omitempty"`
	Kind    string      `json:"kind,omitempty"`
}

const (
	OpDescribe    = "describe"
	OpInit        = "init"
	OpPoll        = "poll"
	OpReconfigure = "reconfigure"
	OpShutdown    = "shutdown"

	KindConfiguration = "configuration"
	KindDataRetrieval = "data_retrieval"
	KindProtocol      = "protocol"
)

const maxRequestSize = 1 << 20

// Serve speaks line-delimited JSON with a host scheduler: one Request per
// input line, one Response per output line. It returns on EOF, after a
// shutdown request, or as soon as ctx is cancelled, even while waiting
// for input. A reader blocked in Read is left to the process exit.
func Serve(ctx context.Context, r io.Reader, w io.Writer, logger zerolog.Logger) error {
	encoder := json.NewEncoder(w)

	s := &session{logger: logger}
	defer s.close()

	stop := make(chan struct{})
	defer close(stop)
	lines, readErr := scanLines(r, stop)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var line []byte
		select {
		case <-ctx.Done():
			return ctx.Err()
		case l, ok := <-lines:
			if !ok {
				if err := <-readErr; err != nil {
					return fmt.Errorf("failed to read request: %w", err)
				}
				return nil
			}
			line = l
		}
		if len(line) == 0 {
			continue
		}

		var req Request
		var resp Response
		if err := json.Unmarshal(line, &req); err != nil {
			resp = failure("", KindProtocol, fmt.Errorf("malformed request: %w", err))
		} else {
			resp = s.handle(req)
		}

		if err := encoder.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
		if req.Op == OpShutdown && resp.OK {
			return nil
		}
	}
}

// scanLines feeds r line by line into the returned channel until EOF or
// stop. The channel is closed on EOF, after the read error (nil at EOF)
// has been queued.
func scanLines(r io.Reader, stop <-chan struct{}) (<-chan []byte, <-chan error) {
	lines := make(chan []byte)
	readErr := make(chan error, 1)

	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(r)
		scanner.Buffer(make([]byte, 0, 64*1024), maxRequestSize)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-stop:
				return
			}
		}
		readErr <- scanner.Err()
	}()

	return lines, readErr
}

type session struct {
	current *Handle
	logger  zerolog.Logger
}

func (s *session) handle(req Request) Response {
	switch req.Op {
	case OpDescribe:
		return Response{Op: req.Op, OK: true, Result: Describe()}

	case OpInit:
		if s.current != nil {
			return failure(req.Op, KindProtocol, errors.New("plugin already initialised"))
		}
		h, err := InitDocument(req.Config, s.logger)
		if err != nil {
			return failure(req.Op, KindConfiguration, err)
		}
		s.current = h
		return Response{Op: req.Op, OK: true, Result: h.Config()}

	case OpPoll:
		if s.current == nil {
			return failure(req.Op, KindProtocol, errors.New("plugin not initialised"))
		}
		result, err := s.current.Poll()
		if err != nil {
			return failure(req.Op, KindDataRetrieval, err)
		}
		return Response{Op: req.Op, OK: true, Result: result}

	case OpReconfigure:
		if s.current == nil {
			return failure(req.Op, KindProtocol, errors.New("plugin not initialised"))
		}
		next, err := s.current.ReconfigureDocument(req.Config)
		if err != nil {
			return failure(req.Op, KindConfiguration, err)
		}
		if next.RestartRequested() {
			s.current.Shutdown()
		}
		s.current = next
		return Response{Op: req.Op, OK: true, Result: next.Config(), Restart: next.RestartRequested()}

	case OpShutdown:
		if s.current == nil {
			return failure(req.Op, KindProtocol, errors.New("plugin not initialised"))
		}
		s.current.Shutdown()
		return Response{Op: req.Op, OK: true}

	default:
		return failure(req.Op, KindProtocol, fmt.Errorf("unknown op %q", req.Op))
	}
}

func (s *session) close() {
	if s.current != nil && !s.current.IsShutdown() {
		s.current.Shutdown()
	}
}

func failure(op, kind string, err error) Response {
	return Response{Op: op, OK: false, Error: err.Error(), Kind: kind}
}
