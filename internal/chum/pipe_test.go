package chum

import (
	"context"
	"io"
)

// pipeFrame is one queued frame of pipeSession's fake transport.Session.
type pipeFrame struct {
	payload []byte
	binary  bool
}

// pipeSession is an in-memory transport.Session test double: two instances
// returned by newPipePair share a pair of channels, so writes on one side
// arrive as reads on the other, without a real socket or transport carrier.
type pipeSession struct {
	in  chan pipeFrame
	out chan pipeFrame
}

func newPipePair() (client, server *pipeSession) {
	c2s := make(chan pipeFrame, 64)
	s2c := make(chan pipeFrame, 64)
	client = &pipeSession{in: s2c, out: c2s}
	server = &pipeSession{in: c2s, out: s2c}
	return client, server
}

func (p *pipeSession) ReadFrame(ctx context.Context) ([]byte, bool, error) {
	select {
	case f, ok := <-p.in:
		if !ok {
			return nil, false, io.EOF
		}
		return f.payload, f.binary, nil
	case <-ctx.Done():
		return nil, false, ctx.Err()
	}
}

func (p *pipeSession) WriteText(ctx context.Context, payload []byte) error {
	select {
	case p.out <- pipeFrame{payload: payload}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeSession) WriteBinary(ctx context.Context, payload []byte) error {
	select {
	case p.out <- pipeFrame{payload: payload, binary: true}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeSession) Close() error {
	close(p.out)
	return nil
}

func (p *pipeSession) RemoteID() string { return "test-peer" }
