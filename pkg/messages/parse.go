package messages

import (
	"strconv"
	"strings"
	"time"

	"translate-hub/pkg/errors"
)

// Parse converts the canonical text of a command into its typed form.
// Well-formed text with an unrecognized name yields Unknown, not an error.
func Parse(text string) (Command, error) {
	name, args, err := tokenize(text)
	if err != nil {
		return nil, err
	}

	switch name {
	case "stop":
		return Stop{}, nil
	case "flush":
		return Flush{}, nil
	case "flushed":
		return Flushed{}, nil
	case "hangup":
		return Hangup{}, nil
	case "speech_start":
		return SpeechStart{}, nil
	case "speech_end":
		return SpeechEnd{}, nil
	case "synthesize":
		if _, ok := args["text"]; !ok {
			return nil, errors.NewMalformedCommand(text, "missing text")
		}
		return Synthesize{UserID: args["user_id"], Text: args["text"], Log: args["log"]}, nil
	case "black_list":
		uri, ok := args["remote_uri"]
		if !ok {
			return nil, errors.NewMalformedCommand(text, "missing remote_uri")
		}
		expire, err := strconv.ParseFloat(args["expire"], 64)
		if err != nil {
			return nil, errors.NewMalformedCommand(text, "expire is not a timestamp")
		}
		return BlackList{RemoteURI: uri, Expire: time.Unix(int64(expire), 0)}, nil
	case "make_call":
		return MakeCall{Destination: args["destination"], RemoteURI: args["remote_uri"]}, nil
	case "incoming_call":
		return IncomingCall{RemoteURI: args["remote_uri"]}, nil
	case "call_connecting":
		return CallConnecting{RemoteURI: args["remote_uri"]}, nil
	case "call_confirmed":
		return CallConfirmed{RemoteURI: args["remote_uri"]}, nil
	case "rejected_call":
		return RejectedCall{RemoteURI: args["remote_uri"]}, nil
	case "rejected_call_from_blacklisted_uri":
		return RejectedCallFromBlacklistedURI{RemoteURI: args["remote_uri"]}, nil
	case "call_disconnected":
		return CallDisconnected{RemoteURI: args["remote_uri"]}, nil
	case "play_utterance_start":
		return PlayUtteranceStart{UserID: args["user_id"]}, nil
	case "play_utterance_end":
		return PlayUtteranceEnd{UserID: args["user_id"]}, nil
	case "mt_translated":
		return Translated{Fname: args["fname"]}, nil
	case "asr_recognized":
		return Recognized{Fname: args["fname"]}, nil
	default:
		return Unknown{CommandName: name, Arguments: args}, nil
	}
}

func tokenize(text string) (string, map[string]string, error) {
	s := strings.TrimSpace(text)
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, errors.NewMalformedCommand(text, "expected name(...)")
	}

	name := strings.TrimSpace(s[:open])
	if !isIdentifier(name) {
		return "", nil, errors.NewMalformedCommand(text, "invalid command name")
	}

	args := make(map[string]string)
	body := s[open+1 : len(s)-1]
	i := 0
	for {
		i = skipSpace(body, i)
		if i >= len(body) {
			break
		}

		eq := strings.IndexByte(body[i:], '=')
		if eq < 0 {
			return "", nil, errors.NewMalformedCommand(text, "argument without value")
		}
		key := strings.TrimSpace(body[i : i+eq])
		if !isIdentifier(key) {
			return "", nil, errors.NewMalformedCommand(text, "invalid argument name")
		}
		i = skipSpace(body, i+eq+1)

		var value string
		if i < len(body) && body[i] == '"' {
			v, next, ok := readQuoted(body, i+1)
			if !ok {
				return "", nil, errors.NewMalformedCommand(text, "unterminated string")
			}
			value, i = v, next
		} else {
			end := strings.IndexByte(body[i:], ',')
			if end < 0 {
				end = len(body) - i
			}
			value = strings.TrimSpace(body[i : i+end])
			i += end
		}
		args[key] = value

		i = skipSpace(body, i)
		if i >= len(body) {
			break
		}
		if body[i] != ',' {
			return "", nil, errors.NewMalformedCommand(text, "expected ','")
		}
		i++
	}

	return name, args, nil
}

func readQuoted(s string, i int) (string, int, bool) {
	var b strings.Builder
	for i < len(s) {
		c := s[i]
		switch c {
		case '\\':
			if i+1 >= len(s) {
				return "", 0, false
			}
			b.WriteByte(s[i+1])
			i += 2
		case '"':
			return b.String(), i + 1, true
		default:
			b.WriteByte(c)
			i++
		}
	}
	return "", 0, false
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
