// Package terminal implements functions for responding to user
// input and dispatching to appropriate engine commands.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"text/tabwriter"
	"unicode"

	"github.com/cosiner/argv"
	"github.com/derekparker/trie"

	"github.com/memsieve/memsieve/pkg/config"
	"github.com/memsieve/memsieve/pkg/scan"
	"github.com/memsieve/memsieve/pkg/target"
	"github.com/memsieve/memsieve/pkg/target/native"
	"github.com/memsieve/memsieve/pkg/value"
)

type cmdfunc func(t *Term, args string) error

type command struct {
	aliases        []string
	builtinAliases []string
	group          commandGroup
	helpMsg        string
	cmdFn          cmdfunc
}

// Returns true if the command string matches one of the aliases for this command
func (c *command) match(cmdstr string) bool {
	for _, v := range c.aliases {
		if v == cmdstr {
			return true
		}
	}
	return false
}

// Commands represents the commands of the memsieve terminal.
type Commands struct {
	cmds  []*command
	names *trie.Trie
}

// operators can be written without a space before their value, as in
// "=100" or ">5".
var operators = []string{"!=", "=", "<", ">"}

const defaultMaxListMatches = 20

// ScanCommands returns a Commands struct with default commands defined.
func ScanCommands() *Commands {
	c := &Commands{}

	c.cmds = []*command{
		{aliases: []string{"help", "h"}, cmdFn: c.help, helpMsg: `Prints the help message.

	help [command]

Type "help" followed by the name of a command for more information about it.`},
		{aliases: []string{"attach", "pid"}, group: targetCmds, cmdFn: attachCmd, helpMsg: `Attaches to a process.

	attach [pid]

Detaches from the current process first and discards its matches. Without
arguments prints the pid of the attached process.`},
		{aliases: []string{"detach"}, group: targetCmds, cmdFn: detachCmd, helpMsg: `Detaches from the current process.

	detach

The process keeps running, its matches are discarded.`},
		{aliases: []string{"ps"}, group: targetCmds, cmdFn: psCmd, helpMsg: `Lists processes.

	ps [filter]

Only processes whose name or command line contains filter are listed.
Processes named in the process-blacklist configuration option are hidden.`},
		{aliases: []string{"lregions", "regions"}, group: targetCmds, cmdFn: regionsCmd, helpMsg: `Lists the memory regions a full scan reads.

	lregions

Which regions are listed depends on the region-scan-level option.`},
		{aliases: []string{"="}, group: scanCmds, cmdFn: scanOp(scan.MatchEqualTo, scan.MatchNotChanged), helpMsg: `Keeps the matches equal to value.

	= value
	=

Without a value keeps the matches that did not change since the last scan.

A bare value is a shortcut for "= value". A value can be prefixed by a
kind to restrict the scan to it, for example "s32:100" or "f64:1.5".
Available kinds are u8, s8, u16, s16, u32, s32, u64, s64, f32 and f64.`},
		{aliases: []string{"!="}, group: scanCmds, cmdFn: scanOp(scan.MatchNotEqualTo, scan.MatchChanged), helpMsg: `Keeps the matches different from value.

	!= value
	!=

Without a value keeps the matches that changed since the last scan.`},
		{aliases: []string{">"}, group: scanCmds, cmdFn: scanOp(scan.MatchGreaterThan, scan.MatchIncreased), helpMsg: `Keeps the matches greater than value.

	> value
	>

Without a value keeps the matches that increased since the last scan.`},
		{aliases: []string{"<"}, group: scanCmds, cmdFn: scanOp(scan.MatchLessThan, scan.MatchDecreased), helpMsg: `Keeps the matches less than value.

	< value
	<

Without a value keeps the matches that decreased since the last scan.`},
		{aliases: []string{"+"}, group: scanCmds, cmdFn: scanOp(scan.MatchIncreasedBy, scan.MatchIncreased), helpMsg: `Keeps the matches that increased.

	+ [delta]

With a delta keeps the matches that increased by exactly delta.`},
		{aliases: []string{"-"}, group: scanCmds, cmdFn: scanOp(scan.MatchDecreasedBy, scan.MatchDecreased), helpMsg: `Keeps the matches that decreased.

	- [delta]

With a delta keeps the matches that decreased by exactly delta.`},
		{aliases: []string{"snapshot"}, group: scanCmds, cmdFn: scanNoArgs(scan.MatchAny), helpMsg: `Records every address as a match.

	snapshot

Use it when the value is unknown and narrow with "=", "!=", "+" and "-".`},
		{aliases: []string{"update"}, group: scanCmds, cmdFn: scanNoArgs(scan.MatchUpdate), helpMsg: `Rereads the matches without narrowing them.

	update`},
		{aliases: []string{"reset"}, group: scanCmds, cmdFn: resetCmd, helpMsg: `Discards all matches.

	reset

The next scan is a full scan.`},
		{aliases: []string{"range"}, group: scanCmds, cmdFn: rangeCmd, helpMsg: `Keeps the matches between two values, inclusive.

	range lo..hi
	lo..hi`},
		{aliases: []string{"count"}, group: matchCmds, cmdFn: countCmd, helpMsg: `Prints the number of matches.

	count`},
		{aliases: []string{"list", "ls"}, group: matchCmds, cmdFn: listCmd, helpMsg: `Lists matches.

	list [n]

Prints at most n matches, max-list-matches if n is omitted. Use "list 0"
to print all of them.`},
		{aliases: []string{"set"}, group: matchCmds, cmdFn: setCmd, helpMsg: `Changes the value of matches.

	set value
	set index[,index...]=value

Without indexes value is written to every match. Indexes are the ones
printed by list.`},
		{aliases: []string{"write"}, group: matchCmds, cmdFn: writeCmd, helpMsg: `Changes the value of the match at an address.

	write address value`},
		{aliases: []string{"config", "option"}, cmdFn: configureCmd, helpMsg: `Changes configuration parameters.

	config -list

Show all configuration parameters.

	config -save

Saves the configuration file to disk, overwriting the current configuration file.

	config <parameter> <value>

Changes the value of a configuration parameter. Changing scan-data-type or
reverse-endianness discards the matches.

	config alias <command> <alias>
	config alias <alias>

Defines <alias> as an alias to <command> or removes an alias.`},
		{aliases: []string{"source"}, cmdFn: c.sourceCommand, helpMsg: `Executes a file containing a list of memsieve commands.

	source <path>

If path ends with the .star extension it will be interpreted as a starlark
script. Functions defined in the script named command_<name> become new
commands.`},
		{aliases: []string{"exit", "quit", "q"}, cmdFn: exitCommand, helpMsg: `Exit memsieve.

	exit

The attached process keeps running.`},
	}

	sort.Sort(byFirstAlias(c.cmds))
	c.index()
	return c
}

// byFirstAlias will sort by the first
// alias of a command.
type byFirstAlias []*command

func (a byFirstAlias) Len() int           { return len(a) }
func (a byFirstAlias) Swap(i, j int)      { a[i], a[j] = a[j], a[i] }
func (a byFirstAlias) Less(i, j int) bool { return a[i].aliases[0] < a[j].aliases[0] }

// index rebuilds the alias trie, it must be called after aliases change.
func (c *Commands) index() {
	c.names = trie.New()
	for _, cmd := range c.cmds {
		for _, alias := range cmd.aliases {
			c.names.Add(alias, cmd)
		}
	}
}

// Register custom commands. Expects cf to be a func of type cmdfunc,
// returning only an error.
func (c *Commands) Register(cmdstr string, cf cmdfunc, helpMsg string) {
	for _, v := range c.cmds {
		if v.match(cmdstr) {
			v.cmdFn = cf
			v.helpMsg = helpMsg
			return
		}
	}

	c.cmds = append(c.cmds, &command{aliases: []string{cmdstr}, cmdFn: cf, helpMsg: helpMsg})
	c.names.Add(cmdstr, c.cmds[len(c.cmds)-1])
}

// Find returns the command named cmdstr. Words can be abbreviated as long
// as the abbreviation is not ambiguous. Find returns nil if no command
// matches.
func (c *Commands) Find(cmdstr string) *command {
	if cmdstr == "" {
		return nil
	}
	if n, ok := c.names.Find(cmdstr); ok {
		return n.Meta().(*command)
	}
	if !unicode.IsLetter(rune(cmdstr[0])) {
		return nil
	}
	var found *command
	for _, alias := range c.names.PrefixSearch(cmdstr) {
		n, _ := c.names.Find(alias)
		cmd := n.Meta().(*command)
		if found != nil && found != cmd {
			return nil
		}
		found = cmd
	}
	return found
}

// Complete returns the aliases starting with prefix.
func (c *Commands) Complete(prefix string) []string {
	if prefix == "" {
		return nil
	}
	r := c.names.PrefixSearch(strings.ToLower(prefix))
	sort.Strings(r)
	return r
}

// Call takes a command to execute.
//
// Lines that are not a command are scans: "lo..hi" keeps the matches in
// a range and a bare value keeps the matches equal to it.
func (c *Commands) Call(cmdstr string, t *Term) error {
	cmdstr = strings.TrimSpace(cmdstr)
	if cmdstr == "" {
		return nil
	}
	name, args := splitCommand(cmdstr)
	if cmd := c.Find(name); cmd != nil {
		return cmd.cmdFn(t, args)
	}
	if strings.Contains(cmdstr, "..") {
		return rangeCmd(t, cmdstr)
	}
	if args != "" {
		return errNoCmd
	}
	v, err := value.ParseTagged(name)
	if err != nil {
		if unicode.IsLetter(rune(name[0])) && !strings.Contains(name, ":") {
			return errNoCmd
		}
		return err
	}
	return t.scan(scan.MatchEqualTo, v)
}

func splitCommand(cmdstr string) (name, args string) {
	for _, op := range operators {
		if strings.HasPrefix(cmdstr, op) {
			return op, strings.TrimSpace(cmdstr[len(op):])
		}
	}
	v := config.Split2PartsBySpace(cmdstr)
	name = v[0]
	if len(v) > 1 {
		args = strings.TrimSpace(v[1])
	}
	return name, args
}

// Merge takes aliases defined in the config struct and merges them with the default aliases.
func (c *Commands) Merge(allAliases map[string][]string) {
	for _, cmd := range c.cmds {
		if cmd.builtinAliases != nil {
			cmd.aliases = append(cmd.aliases[:0], cmd.builtinAliases...)
		}
	}
	for _, cmd := range c.cmds {
		if aliases, ok := allAliases[cmd.aliases[0]]; ok {
			if cmd.builtinAliases == nil {
				cmd.builtinAliases = make([]string, len(cmd.aliases))
				copy(cmd.builtinAliases, cmd.aliases)
			}
			cmd.aliases = append(cmd.aliases, aliases...)
		}
	}
	c.index()
}

var errNoCmd = errors.New("command not available")

func (c *Commands) help(t *Term, args string) error {
	if args != "" {
		if cmd := c.Find(args); cmd != nil {
			fmt.Fprintln(t.stdout, cmd.helpMsg)
			return nil
		}
		return errNoCmd
	}

	fmt.Fprintln(t.stdout, "The following commands are available:")

	for _, cgd := range commandGroupDescriptions {
		fmt.Fprintf(t.stdout, "\n%s:\n", cgd.description)
		w := new(tabwriter.Writer)
		w.Init(t.stdout, 0, 8, 0, '-', 0)
		for _, cmd := range c.cmds {
			if cmd.group != cgd.group {
				continue
			}
			h := cmd.helpMsg
			if idx := strings.Index(h, "\n"); idx >= 0 {
				h = h[:idx]
			}
			if len(cmd.aliases) > 1 {
				fmt.Fprintf(w, "    %s (alias: %s) \t %s\n", cmd.aliases[0], strings.Join(cmd.aliases[1:], " | "), h)
			} else {
				fmt.Fprintf(w, "    %s \t %s\n", cmd.aliases[0], h)
			}
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	fmt.Fprintln(t.stdout)
	fmt.Fprintln(t.stdout, "A bare value keeps the matches equal to it, lo..hi keeps the ones in the range.")
	fmt.Fprintln(t.stdout, "Type help followed by a command for full documentation.")
	return nil
}

// splitArgs splits args the way a shell would, without expanding
// backticks or variables.
func splitArgs(args string) ([]string, error) {
	if strings.TrimSpace(args) == "" {
		return nil, nil
	}
	v, err := argv.Argv(args,
		func(s string) (string, error) {
			return "", fmt.Errorf("backtick not supported in '%s'", s)
		},
		nil)
	if err != nil {
		return nil, err
	}
	if len(v) != 1 {
		return nil, fmt.Errorf("illegal command line '%s'", args)
	}
	return v[0], nil
}

func (t *Term) scan(mt scan.MatchType, vals ...value.Value) error {
	n, err := t.eng.Scan(context.Background(), mt, vals...)
	if err != nil {
		return err
	}
	switch n {
	case 0:
		fmt.Fprintln(t.stdout, "no matches left, use \"reset\" to start a new scan")
	case 1:
		fmt.Fprintln(t.stdout, "1 match, use \"set\" to change its value")
	default:
		fmt.Fprintf(t.stdout, "%d matches\n", n)
	}
	return nil
}

func scanOp(withValue, bare scan.MatchType) cmdfunc {
	return func(t *Term, args string) error {
		if args == "" {
			return t.scan(bare)
		}
		v, err := value.ParseTagged(args)
		if err != nil {
			return err
		}
		return t.scan(withValue, v)
	}
}

func scanNoArgs(mt scan.MatchType) cmdfunc {
	return func(t *Term, args string) error {
		if args != "" {
			return fmt.Errorf("%s takes no arguments", mt)
		}
		return t.scan(mt)
	}
}

func rangeCmd(t *Term, args string) error {
	lo, hi, ok := strings.Cut(args, "..")
	if !ok {
		return errors.New("wrong number of arguments: range lo..hi")
	}
	lov, err := value.ParseTagged(strings.TrimSpace(lo))
	if err != nil {
		return err
	}
	hiv, err := value.ParseTagged(strings.TrimSpace(hi))
	if err != nil {
		return err
	}
	return t.scan(scan.MatchRange, lov, hiv)
}

func attachCmd(t *Term, args string) error {
	if args == "" {
		if pid := t.eng.Pid(); pid != 0 {
			fmt.Fprintf(t.stdout, "attached to %d\n", pid)
		} else {
			fmt.Fprintln(t.stdout, "not attached")
		}
		return nil
	}
	pid, err := strconv.Atoi(args)
	if err != nil || pid <= 0 {
		return fmt.Errorf("invalid pid %q", args)
	}
	if err := t.eng.Attach(pid); err != nil {
		return err
	}
	fmt.Fprintf(t.stdout, "attached to %d\n", pid)
	return nil
}

func detachCmd(t *Term, args string) error {
	pid := t.eng.Pid()
	if err := t.eng.Detach(); err != nil {
		return err
	}
	if pid != 0 {
		fmt.Fprintf(t.stdout, "detached from %d\n", pid)
	}
	return nil
}

func resetCmd(t *Term, args string) error {
	t.eng.Reset()
	fmt.Fprintln(t.stdout, "matches discarded")
	return nil
}

func countCmd(t *Term, args string) error {
	fmt.Fprintln(t.stdout, t.eng.Count())
	return nil
}

func psCmd(t *Term, args string) error {
	procs, err := native.Processes(args, t.conf.ProcessBlacklist)
	if err != nil {
		return err
	}
	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	for _, p := range procs {
		fmt.Fprintln(t.stdout, p)
	}
	return nil
}

func regionsCmd(t *Term, args string) error {
	regions, err := t.eng.Regions()
	if err != nil {
		return err
	}
	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()
	w := new(tabwriter.Writer)
	w.Init(t.stdout, 0, 8, 1, ' ', 0)
	for i, r := range regions {
		fmt.Fprintf(w, "[%2d]\t%s\t%8d\t%s\t%s\t%s\n", i, t.formatAddress(r.Start), r.Size, r.Type, r.Perms, r.Filename)
	}
	return w.Flush()
}

func listCmd(t *Term, args string) error {
	limit := defaultMaxListMatches
	if t.conf.MaxListMatches != nil {
		limit = *t.conf.MaxListMatches
	}
	if args != "" {
		n, err := strconv.Atoi(args)
		if err != nil || n < 0 {
			return fmt.Errorf("argument to list must be a number")
		}
		limit = n
	}

	// Regions are only used to annotate matches.
	regions, _ := t.eng.Regions()

	t.stdout.PageMaybe(nil)
	defer t.stdout.Reset()

	shown := 0
	t.eng.Matches(func(i int, m scan.Match) bool {
		if limit > 0 && i >= limit {
			return false
		}
		where := "misc"
		if r, ok := findRegion(regions, m.Address); ok {
			where = fmt.Sprintf("%s+%#x", r.Type, m.Address-r.Start)
		}
		fmt.Fprintf(t.stdout, "[%3d] %s %s, %s, %s\n", i, t.formatAddress(m.Address), where, m.Value.Format(m.Kind), m.Info)
		shown++
		return true
	})
	if total := t.eng.Count(); shown < total {
		fmt.Fprintf(t.stdout, "(%d more matches)\n", total-shown)
	}
	return nil
}

func findRegion(regions []target.Region, addr uint64) (target.Region, bool) {
	i := sort.Search(len(regions), func(i int) bool { return regions[i].End() > addr })
	if i < len(regions) && regions[i].Contains(addr) {
		return regions[i], true
	}
	return target.Region{}, false
}

func setCmd(t *Term, args string) error {
	if args == "" {
		return errors.New("wrong number of arguments: set [index[,index...]=]value")
	}
	lhs, rhs, found := strings.Cut(args, "=")
	if !found {
		v, err := value.ParseTagged(strings.TrimSpace(args))
		if err != nil {
			return err
		}
		n, err := t.eng.WriteAll(v)
		fmt.Fprintf(t.stdout, "%d matches written\n", n)
		return err
	}
	v, err := value.ParseTagged(strings.TrimSpace(rhs))
	if err != nil {
		return err
	}
	for _, s := range strings.Split(lhs, ",") {
		i, err := strconv.Atoi(strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid match index %q", s)
		}
		if err := t.eng.WriteIndex(i, v); err != nil {
			return err
		}
	}
	return nil
}

func writeCmd(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 2 {
		return errors.New("wrong number of arguments: write address value")
	}
	addr, err := strconv.ParseUint(v[0], 0, 64)
	if err != nil {
		return fmt.Errorf("invalid address %q", v[0])
	}
	val, err := value.ParseTagged(v[1])
	if err != nil {
		return err
	}
	return t.eng.WriteAddress(addr, val)
}

func (c *Commands) sourceCommand(t *Term, args string) error {
	v, err := splitArgs(args)
	if err != nil {
		return err
	}
	if len(v) != 1 {
		return fmt.Errorf("wrong number of arguments: source <filename>")
	}

	if filepath.Ext(v[0]) == ".star" {
		_, err := t.starlarkEnv.Execute(v[0], nil, "main", nil)
		return err
	}

	return c.executeFile(t, v[0])
}

// ExitRequestError is returned when the user
// exits memsieve.
type ExitRequestError struct{}

func (ere ExitRequestError) Error() string {
	return ""
}

func exitCommand(t *Term, args string) error {
	return ExitRequestError{}
}

func (c *Commands) executeFile(t *Term, name string) error {
	fh, err := os.Open(name)
	if err != nil {
		return err
	}
	defer fh.Close()

	scanner := bufio.NewScanner(fh)
	lineno := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		lineno++

		if line == "" || line[0] == '#' {
			continue
		}

		if err := c.Call(line, t); err != nil {
			if _, isExitRequest := err.(ExitRequestError); isExitRequest {
				return err
			}
			fmt.Fprintf(t.stdout, "%s:%d: %v\n", name, lineno, err)
		}
	}

	return scanner.Err()
}
