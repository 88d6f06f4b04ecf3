package executor

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/caffeineduck/sandproxy/policy"
	"go.uber.org/zap"
)

// Guests call the host by writing a frame to stderr:
//
//	\x00SANDPROXY:{"fn":"name","args":[...]}\x00
//
// and reading one JSON line from stdin:
//
//	{"data":...,"error":"...","kind":"..."}
const (
	protocolPrefix = "\x00SANDPROXY:"
	protocolSuffix = "\x00"
)

// Dispatcher routes guest calls. *sandbox.Sandbox satisfies it.
type Dispatcher interface {
	Dispatch(ctx context.Context, name string, args ...any) (any, error)
}

type callRequest struct {
	ID   string `json:"id,omitempty"`
	Fn   string `json:"fn"`
	Args []any  `json:"args"`
}

type callResponse struct {
	ID    string `json:"id,omitempty"`
	Data  any    `json:"data,omitempty"`
	Error string `json:"error,omitempty"`
	// Kind is set for policy refusals.
	Kind string `json:"kind,omitempty"`
}

// findMessage returns the index of the next frame in content, or -1.
func findMessage(content string) int {
	return strings.Index(content, protocolPrefix)
}

// extractMessage splits the frame at idx from content. ok is false when the
// frame is still incomplete; remaining then holds the partial frame.
func extractMessage(content string, idx int) (payload, remaining string, ok bool) {
	start := idx + len(protocolPrefix)
	end := strings.Index(content[start:], protocolSuffix)
	if end == -1 {
		return "", content[idx:], false
	}
	return content[start : start+end], content[start+end+len(protocolSuffix):], true
}

// protocolHandler intercepts stderr. Frames become dispatched calls;
// everything else is kept as plain stderr output.
type protocolHandler struct {
	ctx        context.Context
	dispatcher Dispatcher
	stdin      io.Writer
	logger     *zap.Logger

	mu         sync.Mutex
	buf        bytes.Buffer
	realStderr bytes.Buffer
	calls      int

	replies *replyQueue
}

// newProtocolHandler starts the reply writer. Call close once the guest has
// exited.
func newProtocolHandler(ctx context.Context, d Dispatcher, stdin io.Writer, logger *zap.Logger) *protocolHandler {
	p := &protocolHandler{
		ctx:        ctx,
		dispatcher: d,
		stdin:      stdin,
		logger:     logger,
		replies:    newReplyQueue(),
	}
	go p.replies.run(stdin)
	return p
}

func (p *protocolHandler) close() { p.replies.close() }

func (p *protocolHandler) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	content := p.buf.String()
	p.buf.Reset()

	for {
		idx := findMessage(content)
		if idx == -1 {
			// Hold back a trailing NUL that may open the next frame.
			if i := strings.LastIndexByte(content, 0); i != -1 && strings.HasPrefix(protocolPrefix, content[i:]) {
				p.realStderr.WriteString(content[:i])
				p.buf.WriteString(content[i:])
			} else {
				p.realStderr.WriteString(content)
			}
			break
		}

		p.realStderr.WriteString(content[:idx])
		payload, remaining, ok := extractMessage(content, idx)
		if !ok {
			p.buf.WriteString(remaining)
			break
		}
		content = remaining

		var req callRequest
		if err := sonic.ConfigStd.UnmarshalFromString(payload, &req); err != nil {
			p.respond(callResponse{Error: "invalid call format"})
			continue
		}
		p.calls++
		p.respond(p.handleCall(req))
	}

	return len(data), nil
}

func (p *protocolHandler) handleCall(req callRequest) callResponse {
	resp := callResponse{ID: req.ID}
	result, err := p.dispatcher.Dispatch(p.ctx, req.Fn, req.Args...)
	if err != nil {
		resp.Error = err.Error()
		var ve *policy.ValidationError
		if errors.As(err, &ve) {
			resp.Kind = string(ve.Kind)
		}
		p.logger.Debug("guest call failed", zap.String("fn", req.Fn), zap.Error(err))
		return resp
	}
	resp.Data = result
	return resp
}

// respond queues a reply line. Writing happens on the queue's goroutine
// because the guest reads stdin only after its stderr write returns.
func (p *protocolHandler) respond(resp callResponse) {
	data, err := sonic.ConfigStd.Marshal(resp)
	if err != nil {
		data, _ = sonic.ConfigStd.Marshal(callResponse{ID: resp.ID, Error: "unencodable result: " + err.Error()})
	}
	p.replies.push(append(data, '\n'))
}

// replyQueue writes replies in the order their frames arrived. It never
// blocks the producer.
type replyQueue struct {
	mu      sync.Mutex
	pending [][]byte
	wake    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func newReplyQueue() *replyQueue {
	return &replyQueue{wake: make(chan struct{}, 1), done: make(chan struct{})}
}

func (q *replyQueue) push(line []byte) {
	q.mu.Lock()
	q.pending = append(q.pending, line)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *replyQueue) take() [][]byte {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.pending
	q.pending = nil
	return batch
}

func (q *replyQueue) close() { q.once.Do(func() { close(q.done) }) }

// run writes until close. Lines still queued at close are written first;
// the executor unblocks a pending write by closing the guest's stdin.
func (q *replyQueue) run(w io.Writer) {
	for {
		select {
		case <-q.wake:
		case <-q.done:
		}
		for batch := q.take(); len(batch) > 0; batch = q.take() {
			for _, line := range batch {
				w.Write(line)
			}
		}
		select {
		case <-q.done:
			return
		default:
		}
	}
}

func (p *protocolHandler) Stderr() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.realStderr.String()
}

func (p *protocolHandler) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}
