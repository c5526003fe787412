package terminal

type commandGroup uint8

const (
	otherCmds commandGroup = iota
	scanCmds
	dataCmds
)

type commandGroupDescription struct {
	description string
	group       commandGroup
}

var commandGroupDescriptions = []commandGroupDescription{
	{"Searching memory", scanCmds},
	{"Viewing and modifying memory", dataCmds},
	{"Other commands", otherCmds},
}
