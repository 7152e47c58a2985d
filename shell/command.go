package shell

import (
	"fmt"
	"path"
	"strings"
)

// Direction is a drive command understood by the robot's control script.
type Direction string

const (
	Forward       Direction = "forward"
	Backward      Direction = "backward"
	Left          Direction = "left"
	Right         Direction = "right"
	RotateCW      Direction = "rotateCW"
	RotateCCW     Direction = "rotateCCW"
	ForwardLeft   Direction = "forwardLeft"
	ForwardRight  Direction = "forwardRight"
	BackwardLeft  Direction = "backwardLeft"
	BackwardRight Direction = "backwardRight"
	Stop          Direction = "stop"
)

// DefaultSpeed is the speed used by the manual drive pad.
const DefaultSpeed = 200

var directions = map[Direction]bool{
	Forward: true, Backward: true, Left: true, Right: true,
	RotateCW: true, RotateCCW: true,
	ForwardLeft: true, ForwardRight: true, BackwardLeft: true, BackwardRight: true,
	Stop: true,
}

func (d Direction) Valid() bool { return directions[d] }

// Move builds a "MOVE <direction> <speed>" line. Stop always carries speed 0.
func Move(d Direction, speed int) string {
	if d == Stop {
		speed = 0
	}
	return fmt.Sprintf("MOVE %s %d", d, speed)
}

func StopCommand() string { return Move(Stop, 0) }

// DetachedCommand returns the shell line that runs a python script under
// nohup with stdout and stderr sent to logfile. Relative script paths are
// resolved from the home directory. Both paths are quoted for the remote
// shell; a leading "~/" stays unquoted so it still expands.
func DetachedCommand(remotePath, logfile string) string {
	cmd := fmt.Sprintf("nohup python3 %s > %s 2>&1 &", quotePath(remotePath), quotePath(logfile))
	if path.IsAbs(remotePath) {
		return cmd
	}
	return "cd ~ && " + cmd
}

func quotePath(p string) string {
	if rest, ok := strings.CutPrefix(p, "~/"); ok {
		return "~/" + shellQuote(rest)
	}
	if strings.HasPrefix(p, "-") {
		p = "./" + p
	}
	return shellQuote(p)
}

// shellQuote returns s unchanged when it only holds characters a POSIX
// shell treats literally, otherwise wrapped in single quotes.
func shellQuote(s string) string {
	if s != "" && strings.IndexFunc(s, needsQuote) < 0 {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func needsQuote(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return false
	}
	return !strings.ContainsRune("_./-+,:@%=", r)
}
