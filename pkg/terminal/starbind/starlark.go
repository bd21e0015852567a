// Package starbind exposes the scanner to starlark scripts.
package starbind

import (
	"context"
	"fmt"
	"io"
	"os"
	"runtime"
	"sort"
	"strings"
	"sync"

	startime "go.starlark.net/lib/time"
	"go.starlark.net/resolve"
	"go.starlark.net/starlark"

	"github.com/memsieve/memsieve/pkg/engine"
	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/value"
)

const (
	memsieveCommandBuiltinName = "memsieve_command"
	attachBuiltinName          = "attach"
	detachBuiltinName          = "detach"
	scanBuiltinName            = "scan"
	resetBuiltinName           = "reset"
	countBuiltinName           = "count"
	matchesBuiltinName         = "matches"
	writeBuiltinName           = "write"
	regionsBuiltinName         = "regions"
	readFileBuiltinName        = "read_file"
	writeFileBuiltinName       = "write_file"
	helpBuiltinName            = "help"
	commandPrefix              = "command_"
	memsieveContextName        = "memsieve_context"
)

func init() {
	resolve.AllowNestedDef = true
	resolve.AllowLambda = true
	resolve.AllowFloat = true
	resolve.AllowSet = true
	resolve.AllowBitwise = true
	resolve.AllowRecursion = true
	resolve.AllowGlobalReassign = true
}

// Context is the context in which starlark scripts are evaluated.
type Context interface {
	Engine() *engine.Engine
	RegisterCommand(name, helpMsg string, cmdfn func(args string) error)
	CallCommand(cmdstr string) error
}

// Env is the environment used to evaluate starlark scripts.
type Env struct {
	env       starlark.StringDict
	doc       map[string]string
	contextMu sync.Mutex
	thread    *starlark.Thread
	cancelfn  context.CancelFunc

	ctx Context
	out io.Writer
}

type builtinFn func(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error)

// New creates a new starlark binding environment.
func New(ctx Context, out io.Writer) *Env {
	env := &Env{
		env: starlark.StringDict{},
		doc: map[string]string{},
		ctx: ctx,
		out: out,
	}

	// Make the "time" module available to Starlark scripts.
	env.env["time"] = startime.Module

	env.builtin(memsieveCommandBuiltinName, "(Command)", "executes a memsieve command.", env.memsieveCommand)
	env.builtin(attachBuiltinName, "(Pid)", "attaches to a process.", env.attach)
	env.builtin(detachBuiltinName, "()", "detaches from the current process.", env.detach)
	env.builtin(scanBuiltinName, "(MatchType, *Values)", "scans the attached process and returns the number of matches. MatchType is one of "+matchTypeList()+".", env.scan)
	env.builtin(resetBuiltinName, "()", "discards all matches.", env.reset)
	env.builtin(countBuiltinName, "()", "returns the number of matches.", env.count)
	env.builtin(matchesBuiltinName, "(Limit=0)", "returns up to Limit matches, all of them if Limit is 0.", env.matches)
	env.builtin(writeBuiltinName, "(Value, Index=None, Address=None)", "writes Value to one match, or to every match if neither Index nor Address is given. Returns the number of matches written.", env.write)
	env.builtin(regionsBuiltinName, "()", "returns the regions a full scan reads.", env.regions)
	env.builtin(readFileBuiltinName, "(Path)", "reads a file.", env.readFile)
	env.builtin(writeFileBuiltinName, "(Path, Text)", "writes text to the specified file.", env.writeFile)
	env.builtin(helpBuiltinName, "(Object)", "prints help for Object.", env.help)

	return env
}

func (env *Env) builtin(name, args, descr string, fn builtinFn) {
	env.env[name] = starlark.NewBuiltin(name, fn)
	env.doc[name] = name + args + "\n\n" + name + " " + descr
}

func matchTypeList() string {
	names := make([]string, 0, scan.MatchDecreasedBy+1)
	for mt := scan.MatchAny; mt <= scan.MatchDecreasedBy; mt++ {
		names = append(names, mt.String())
	}
	return strings.Join(names, ", ")
}

func (env *Env) memsieveCommand(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := isCancelled(thread); err != nil {
		return starlark.None, err
	}
	argstrs := make([]string, len(args))
	for i := range args {
		a, ok := args[i].(starlark.String)
		if !ok {
			return nil, fmt.Errorf("argument of %s is not a string", memsieveCommandBuiltinName)
		}
		argstrs[i] = string(a)
	}
	err := env.ctx.CallCommand(strings.Join(argstrs, " "))
	return starlark.None, decorateError(thread, err)
}

func (env *Env) attach(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var pid int
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "pid", &pid); err != nil {
		return nil, err
	}
	return starlark.None, decorateError(thread, env.ctx.Engine().Attach(pid))
}

func (env *Env) detach(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.None, decorateError(thread, env.ctx.Engine().Detach())
}

func (env *Env) scan(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(kwargs) != 0 {
		return nil, fmt.Errorf("%s: unexpected keyword arguments", b.Name())
	}
	if len(args) < 1 {
		return nil, fmt.Errorf("%s: missing match type", b.Name())
	}
	name, ok := args[0].(starlark.String)
	if !ok {
		return nil, fmt.Errorf("%s: match type is not a string", b.Name())
	}
	mt, err := scan.ParseMatchType(string(name))
	if err != nil {
		return nil, decorateError(thread, err)
	}
	vals := make([]value.Value, 0, len(args)-1)
	for _, arg := range args[1:] {
		v, err := starlarkToValue(arg)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		vals = append(vals, v)
	}
	n, err := env.ctx.Engine().Scan(threadContext(thread), mt, vals...)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) reset(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	env.ctx.Engine().Reset()
	return starlark.None, nil
}

func (env *Env) count(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	return starlark.MakeInt(env.ctx.Engine().Count()), nil
}

func (env *Env) matches(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	limit := 0
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "limit?", &limit); err != nil {
		return nil, err
	}
	var r []starlark.Value
	env.ctx.Engine().Matches(func(i int, m scan.Match) bool {
		if limit > 0 && i >= limit {
			return false
		}
		r = append(r, matchToStarlark(m))
		return true
	})
	return starlark.NewList(r), nil
}

func (env *Env) write(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var val, index, address starlark.Value = starlark.None, starlark.None, starlark.None
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &val, "index?", &index, "address?", &address); err != nil {
		return nil, err
	}
	v, err := starlarkToValue(val)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	eng := env.ctx.Engine()
	switch {
	case index != starlark.None:
		i, err := starlark.AsInt32(index)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		err = eng.WriteIndex(i, v)
		if err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeInt(1), nil
	case address != starlark.None:
		ai, ok := address.(starlark.Int)
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("address is not an integer"))
		}
		addr, ok := ai.Uint64()
		if !ok {
			return nil, decorateError(thread, fmt.Errorf("address %s out of range", ai))
		}
		if err := eng.WriteAddress(addr, v); err != nil {
			return nil, decorateError(thread, err)
		}
		return starlark.MakeInt(1), nil
	}
	n, err := eng.WriteAll(v)
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.MakeInt(n), nil
}

func (env *Env) regions(thread *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if err := starlark.UnpackArgs(b.Name(), args, kwargs); err != nil {
		return nil, err
	}
	regions, err := env.ctx.Engine().Regions()
	if err != nil {
		return nil, decorateError(thread, err)
	}
	r := make([]starlark.Value, len(regions))
	for i := range regions {
		r[i] = regionToStarlark(regions[i])
	}
	return starlark.NewList(r), nil
}

func (env *Env) readFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 1 {
		return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, decorateError(thread, fmt.Errorf("argument of read_file was not a string"))
	}
	buf, err := os.ReadFile(string(path))
	if err != nil {
		return nil, decorateError(thread, err)
	}
	return starlark.String(string(buf)), nil
}

func (env *Env) writeFile(thread *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	if len(args) != 2 {
		return nil, decorateError(thread, fmt.Errorf("wrong number of arguments"))
	}
	path, ok := args[0].(starlark.String)
	if !ok {
		return nil, decorateError(thread, fmt.Errorf("first argument of write_file was not a string"))
	}
	text := args[1].String()
	if s, ok := args[1].(starlark.String); ok {
		text = string(s)
	}
	err := os.WriteFile(string(path), []byte(text), 0640)
	return starlark.None, decorateError(thread, err)
}

func (env *Env) help(_ *starlark.Thread, _ *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	switch len(args) {
	case 0:
		fmt.Fprintln(env.out, "Available builtins:")
		bins := make([]string, 0, len(env.env))
		for name, value := range env.env {
			switch value.(type) {
			case *starlark.Builtin:
				bins = append(bins, name)
			}
		}
		sort.Strings(bins)
		for _, bin := range bins {
			fmt.Fprintf(env.out, "\t%s\n", bin)
		}
	case 1:
		switch x := args[0].(type) {
		case *starlark.Builtin:
			if env.doc[x.Name()] != "" {
				fmt.Fprintf(env.out, "%s\n", env.doc[x.Name()])
			} else {
				fmt.Fprintf(env.out, "no help for builtin %s\n", x.Name())
			}
		case *starlark.Function:
			fmt.Fprintf(env.out, "user defined function %s\n", x.Name())
			if doc := x.Doc(); doc != "" {
				fmt.Fprintln(env.out, doc)
			}
		default:
			fmt.Fprintf(env.out, "no help for object of type %T\n", args[0])
		}
	default:
		fmt.Fprintln(env.out, "wrong number of arguments ", len(args))
	}
	return starlark.None, nil
}

func (env *Env) printFunc() func(_ *starlark.Thread, msg string) {
	return func(_ *starlark.Thread, msg string) { fmt.Fprintln(env.out, msg) }
}

// Execute executes a script. Path is the name of the file to execute and
// source is the source code to execute.
// Source can be either a []byte, a string or a io.Reader. If source is nil
// Execute will execute the file specified by 'path'.
// After the file is executed if a function named mainFnName exists it will be called, passing args to it.
func (env *Env) Execute(path string, source interface{}, mainFnName string, args []starlark.Value) (_ starlark.Value, _err error) {
	defer func() {
		err := recover()
		if err == nil {
			return
		}
		_err = fmt.Errorf("panic executing starlark script: %v", err)
		fmt.Fprintf(env.out, "panic executing starlark script: %v\n", err)
		for i := 0; ; i++ {
			pc, file, line, ok := runtime.Caller(i)
			if !ok {
				break
			}
			fname := "<unknown>"
			fn := runtime.FuncForPC(pc)
			if fn != nil {
				fname = fn.Name()
			}
			fmt.Fprintf(env.out, "%s\n\tin %s:%d\n", fname, file, line)
		}
	}()

	thread := env.newThread()
	globals, err := starlark.ExecFile(thread, path, source, env.env)
	if err != nil {
		return starlark.None, err
	}

	err = env.exportGlobals(globals)
	if err != nil {
		return starlark.None, err
	}

	return env.callMain(thread, globals, mainFnName, args)
}

// exportGlobals saves globals with a name starting with a capital letter
// into the environment and creates commands from globals with a name
// starting with "command_"
func (env *Env) exportGlobals(globals starlark.StringDict) error {
	for name, val := range globals {
		switch {
		case strings.HasPrefix(name, commandPrefix):
			err := env.createCommand(name, val)
			if err != nil {
				return err
			}
		case name[0] >= 'A' && name[0] <= 'Z':
			env.env[name] = val
		}
	}
	return nil
}

// Cancel cancels the execution of a currently running script or function.
func (env *Env) Cancel() {
	if env == nil {
		return
	}
	env.contextMu.Lock()
	if env.cancelfn != nil {
		env.cancelfn()
		env.cancelfn = nil
	}
	if env.thread != nil {
		env.thread.Cancel("user interrupt")
	}
	env.contextMu.Unlock()
}

func (env *Env) newThread() *starlark.Thread {
	thread := &starlark.Thread{
		Print: env.printFunc(),
	}
	env.contextMu.Lock()
	var ctx context.Context
	ctx, env.cancelfn = context.WithCancel(context.Background())
	env.thread = thread
	env.contextMu.Unlock()
	thread.SetLocal(memsieveContextName, ctx)
	return thread
}

func (env *Env) createCommand(name string, val starlark.Value) error {
	fnval, ok := val.(*starlark.Function)
	if !ok {
		return nil
	}

	name = name[len(commandPrefix):]

	helpMsg := fnval.Doc()
	if helpMsg == "" {
		helpMsg = "user defined"
	}

	if fnval.NumParams() == 1 {
		if p0, _ := fnval.Param(0); p0 == "args" {
			env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
				_, err := starlark.Call(env.newThread(), fnval, starlark.Tuple{starlark.String(args)}, nil)
				return err
			})
			return nil
		}
	}

	env.ctx.RegisterCommand(name, helpMsg, func(args string) error {
		thread := env.newThread()
		if strings.TrimSpace(args) == "" {
			_, err := starlark.Call(thread, fnval, nil, nil)
			return err
		}
		argval, err := starlark.Eval(thread, "<input>", "("+args+")", env.env)
		if err != nil {
			return err
		}
		argtuple, ok := argval.(starlark.Tuple)
		if !ok {
			argtuple = starlark.Tuple{argval}
		}
		_, err = starlark.Call(thread, fnval, argtuple, nil)
		return err
	})
	return nil
}

// callMain calls the main function in globals, if one was defined.
func (env *Env) callMain(thread *starlark.Thread, globals starlark.StringDict, mainFnName string, args []starlark.Value) (starlark.Value, error) {
	if mainFnName == "" {
		return starlark.None, nil
	}
	mainval := globals[mainFnName]
	if mainval == nil {
		return starlark.None, nil
	}
	mainfn, ok := mainval.(*starlark.Function)
	if !ok {
		return starlark.None, fmt.Errorf("%s is not a function", mainFnName)
	}
	if mainfn.NumParams() != len(args) {
		return starlark.None, fmt.Errorf("wrong number of arguments for %s", mainFnName)
	}
	return starlark.Call(thread, mainfn, starlark.Tuple(args), nil)
}

func threadContext(thread *starlark.Thread) context.Context {
	if ctx, ok := thread.Local(memsieveContextName).(context.Context); ok {
		return ctx
	}
	return context.Background()
}

func isCancelled(thread *starlark.Thread) error {
	select {
	case <-threadContext(thread).Done():
		return threadContext(thread).Err()
	default:
	}
	return nil
}

func decorateError(thread *starlark.Thread, err error) error {
	if err == nil {
		return nil
	}
	pos := thread.CallFrame(1).Pos
	if pos.Col > 0 {
		return fmt.Errorf("%s:%d:%d: %w", pos.Filename(), pos.Line, pos.Col, err)
	}
	return fmt.Errorf("%s:%d: %w", pos.Filename(), pos.Line, err)
}
