package executor

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"

	"github.com/yairfalse/decom/internal/i18n"
	"github.com/yairfalse/decom/telemetry"
)

// PromptConfirmer lists the targets and waits for the operator to press
// Enter. End of input counts as a refusal.
type PromptConfirmer struct {
	in     *bufio.Reader
	logger *telemetry.Logger

	start sync.Once
	lines chan lineResult
}

// NewPromptConfirmer creates a confirmer reading answers from in
func NewPromptConfirmer(in io.Reader, logger *telemetry.Logger) *PromptConfirmer {
	if logger == nil {
		logger = telemetry.Nop()
	}
	return &PromptConfirmer{in: bufio.NewReader(in), logger: logger, lines: make(chan lineResult)}
}

// RequestConfirmation implements Confirmer
func (p *PromptConfirmer) RequestConfirmation(ctx context.Context, req ConfirmationRequest) (*ConfirmationResponse, error) {
	for _, id := range req.InstanceIDs {
		p.logger.Info().Str("instance_id", id).Msg(p.logger.T(i18n.InstanceTarget, id))
	}

	msg := req.Message
	if msg == "" {
		msg = p.logger.T(i18n.ConfirmTargets)
	}
	p.logger.Info().Int("instances", len(req.InstanceIDs)).Msg(msg)

	line, err := p.readLine(ctx)
	if err != nil {
		if err == io.EOF {
			return &ConfirmationResponse{Approved: false, Message: "no answer"}, nil
		}
		return &ConfirmationResponse{Approved: false}, err
	}
	return &ConfirmationResponse{Approved: true, Message: strings.TrimSpace(line)}, nil
}

// Pause logs message and blocks until a line is read, input ends, or ctx
// is done.
func (p *PromptConfirmer) Pause(ctx context.Context, message string) {
	p.logger.Info().Msg(message)
	_, _ = p.readLine(ctx)
}

type lineResult struct {
	line string
	err  error
}

// readLine waits for the next line. A single goroutine owns the reader, so
// a line left unread by a cancelled call goes to the next caller.
func (p *PromptConfirmer) readLine(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	p.start.Do(func() { go p.readLoop() })

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r, ok := <-p.lines:
		if !ok {
			return "", io.EOF
		}
		return r.line, r.err
	}
}

func (p *PromptConfirmer) readLoop() {
	defer close(p.lines)
	for {
		line, err := p.in.ReadString('\n')
		if err == io.EOF && line != "" {
			err = nil
		}
		p.lines <- lineResult{line: line, err: err}
		if err != nil {
			return
		}
	}
}
