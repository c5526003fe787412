package terminal

import (
	"github.com/memscan/memscan/pkg/target"
	"github.com/memscan/memscan/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) Session() (starbind.SessionInfo, bool) {
	s, err := ctx.term.session()
	if err != nil {
		return starbind.SessionInfo{}, false
	}
	return starbind.SessionInfo{
		Type:       ctx.term.typename,
		Generation: s.Generation(),
		Count:      s.Len(),
		State:      s.State().String(),
	}, true
}

func (ctx starlarkContext) Candidates(start, limit int) ([]starbind.Candidate, error) {
	s, err := ctx.term.session()
	if err != nil {
		return nil, err
	}
	st, order := s.Type(), s.Config().ByteOrder
	cands := s.Candidates(start, limit)
	r := make([]starbind.Candidate, len(cands))
	for i, c := range cands {
		r[i] = starbind.Candidate{
			Index: start + i,
			Addr:  c.Addr,
			Value: formatInputValue(ctx.term.typename, st, c.Value, order),
		}
		if c.HasPrev {
			r[i].Prev = formatInputValue(ctx.term.typename, st, c.Prev, order)
		}
	}
	return r, nil
}

func (ctx starlarkContext) Regions(all bool) ([]target.Region, error) {
	sctx, done := ctx.term.scanContext()
	defer done()
	c, err := ctx.term.scanner.Regions(sctx)
	if err != nil {
		return nil, err
	}
	if all {
		return c.Regions(), nil
	}
	return c.Readable(), nil
}

func (ctx starlarkContext) MaxPrint() int {
	return ctx.term.maxPrint()
}
