package uci

import (
	"fmt"
	"strconv"
	"strings"
)

type EventKind int

const (
	EventUnknown EventKind = iota
	EventUCIOk
	EventReady
	EventInfo
	EventBestMove
	EventError
	EventClosed
)

func (k EventKind) String() string {
	switch k {
	case EventUCIOk:
		return "uciok"
	case EventReady:
		return "readyok"
	case EventInfo:
		return "info"
	case EventBestMove:
		return "bestmove"
	case EventError:
		return "error"
	case EventClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Info holds the fields of one "info" line. Nil pointers mark fields the
// engine did not send.
type Info struct {
	Depth   *int
	MultiPV int
	ScoreCP *int
	Mate    *int
	Nodes   *int64
	NPS     *int64
	PV      []string
}

type Event struct {
	Kind     EventKind
	Info     Info
	BestMove string
	Ponder   string
	Message  string
	Err      error
	Raw      string
}

type Options struct {
	Threads int
	HashMB  int
}

// ParseLine converts one line of engine output. Lines that carry nothing
// the coordinator acts on (id, option, info string) report false.
func ParseLine(line string) (Event, bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return Event{}, false
	}
	fields := strings.Fields(line)
	switch fields[0] {
	case "uciok":
		return Event{Kind: EventUCIOk, Raw: line}, true
	case "readyok":
		return Event{Kind: EventReady, Raw: line}, true
	case "bestmove":
		ev := Event{Kind: EventBestMove, Raw: line}
		if len(fields) >= 2 && fields[1] != "(none)" && fields[1] != "0000" {
			ev.BestMove = fields[1]
		}
		if len(fields) >= 4 && fields[2] == "ponder" {
			ev.Ponder = fields[3]
		}
		return ev, true
	case "info":
		info, ok := parseInfo(fields[1:])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventInfo, Info: info, Raw: line}, true
	}
	if strings.HasPrefix(strings.ToLower(fields[0]), "error") {
		msg := strings.TrimSpace(strings.TrimPrefix(line, fields[0]))
		if msg == "" {
			msg = line
		}
		return Event{Kind: EventError, Message: msg, Raw: line}, true
	}
	return Event{}, false
}

func parseInfo(parts []string) (Info, bool) {
	info := Info{MultiPV: 1}
	seen := false
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "string":
			return Info{}, false
		case "depth":
			if v, ok := intAt(parts, i+1); ok {
				info.Depth = &v
				seen = true
				i++
			}
		case "multipv":
			if v, ok := intAt(parts, i+1); ok {
				info.MultiPV = v
				i++
			}
		case "score":
			if i+2 < len(parts) {
				v, err := strconv.Atoi(parts[i+2])
				if err == nil {
					switch parts[i+1] {
					case "cp":
						info.ScoreCP = &v
						seen = true
					case "mate":
						info.Mate = &v
						seen = true
					}
				}
				i += 2
			}
		case "nodes":
			if v, ok := int64At(parts, i+1); ok {
				info.Nodes = &v
				seen = true
				i++
			}
		case "nps":
			if v, ok := int64At(parts, i+1); ok {
				info.NPS = &v
				seen = true
				i++
			}
		case "pv":
			if i+1 < len(parts) {
				info.PV = append([]string(nil), parts[i+1:]...)
				seen = true
			}
			i = len(parts)
		}
	}
	return info, seen
}

func intAt(parts []string, i int) (int, bool) {
	if i >= len(parts) {
		return 0, false
	}
	v, err := strconv.Atoi(parts[i])
	return v, err == nil
}

func int64At(parts []string, i int) (int64, bool) {
	if i >= len(parts) {
		return 0, false
	}
	v, err := strconv.ParseInt(parts[i], 10, 64)
	return v, err == nil
}

func BuildPositionCommand(fen string, moves []string) string {
	var sb strings.Builder
	if strings.TrimSpace(fen) == "" || fen == "startpos" {
		sb.WriteString("position startpos")
	} else {
		sb.WriteString("position fen ")
		sb.WriteString(strings.TrimSpace(fen))
	}
	if len(moves) > 0 {
		sb.WriteString(" moves ")
		sb.WriteString(strings.Join(moves, " "))
	}
	return sb.String()
}

// OptionCommands renders setoption lines for the configured options.
func OptionCommands(opt Options) []string {
	threads := opt.Threads
	if threads <= 0 {
		threads = 1
	}
	cmds := []string{fmt.Sprintf("setoption name Threads value %d", threads)}
	if opt.HashMB > 0 {
		cmds = append(cmds, fmt.Sprintf("setoption name Hash value %d", opt.HashMB))
	}
	return cmds
}
