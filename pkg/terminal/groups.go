package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	targetCmds
	scanCmds
	matchCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Attaching to a process", targetCmds},
	{"Scanning and narrowing matches", scanCmds},
	{"Viewing and changing matches", matchCmds},
	{"Other commands", otherCmds},
}
