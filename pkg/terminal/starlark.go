package terminal

import (
	"github.com/memsieve/memsieve/pkg/engine"
	"github.com/memsieve/memsieve/pkg/terminal/starbind"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Engine() *engine.Engine {
	return ctx.term.eng
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}
