////////////////////////////////////////////////////////////////////////////////
// Copyright © 2022 xx foundation                                             //
//                                                                            //
// Use of this source code is governed by a license that can be found in the  //
// LICENSE file                                                               //
////////////////////////////////////////////////////////////////////////////////

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	jww "github.com/spf13/jwalterweatherman"

	"gitlab.com/elite-erp/chatcore/channels"
	"gitlab.com/elite-erp/chatcore/emoji"
)

// inputKind is the action requested by a line of terminal input.
type inputKind uint8

const (
	inputNone inputKind = iota
	inputSend
	inputReply
	inputReact
	inputAttach
	inputOlder
	inputView
	inputThreads
	inputHelp
	inputQuit
)

// input is a parsed line of terminal input.
type input struct {
	kind      inputKind
	text      string
	messageID channels.MessageID
	emoji     string
	path      string
}

const chatHelp = `Type a message and press enter to send it. Commands:
  /reply <id> <text>    reply to message #id
  /react <id> <emoji>   toggle a reaction; 1-6 picks from the palette %s
  /attach <path> [text] send a file with optional text
  /older                load the next older page
  /view                 print the channel
  /threads              print the channel grouped into threads
  /help                 print this help
  /quit                 leave the channel and exit`

// parseInput parses a line of terminal input. Lines not starting with a
// slash are messages.
func parseInput(line string) (input, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return input{kind: inputNone}, nil
	}
	if !strings.HasPrefix(line, "/") {
		return input{kind: inputSend, text: line}, nil
	}

	command, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch command {
	case "/quit", "/exit":
		return input{kind: inputQuit}, nil
	case "/older":
		return input{kind: inputOlder}, nil
	case "/view":
		return input{kind: inputView}, nil
	case "/threads":
		return input{kind: inputThreads}, nil
	case "/help":
		return input{kind: inputHelp}, nil
	case "/reply":
		idStr, text, _ := strings.Cut(rest, " ")
		id, err := parseMessageID(idStr)
		if err != nil {
			return input{}, err
		}
		return input{kind: inputReply, messageID: id,
			text: strings.TrimSpace(text)}, nil
	case "/react":
		idStr, reaction, _ := strings.Cut(rest, " ")
		id, err := parseMessageID(idStr)
		if err != nil {
			return input{}, err
		}
		reaction = strings.TrimSpace(reaction)
		if n, err := strconv.Atoi(reaction); err == nil {
			if n < 1 || n > len(emoji.DefaultReactions) {
				return input{}, errors.Errorf(
					"palette index must be 1-%d", len(emoji.DefaultReactions))
			}
			reaction = emoji.DefaultReactions[n-1]
		}
		if reaction == "" {
			return input{}, errors.New("usage: /react <id> <emoji>")
		}
		return input{kind: inputReact, messageID: id, emoji: reaction}, nil
	case "/attach":
		path, text, _ := strings.Cut(rest, " ")
		if path == "" {
			return input{}, errors.New("usage: /attach <path> [text]")
		}
		return input{kind: inputAttach, path: path,
			text: strings.TrimSpace(text)}, nil
	default:
		return input{}, errors.Errorf("unknown command %s, try /help", command)
	}
}

func parseMessageID(s string) (channels.MessageID, error) {
	id, err := strconv.ParseInt(strings.TrimPrefix(s, "#"), 10, 64)
	if err != nil || id <= 0 {
		return 0, errors.Errorf("invalid message ID %q", s)
	}
	return channels.MessageID(id), nil
}

// session runs terminal input against the active channel.
type session struct {
	m         channels.Manager
	channelID channels.ChannelID
	out       io.Writer
	readFile  func(path string) ([]byte, error)
}

func newSession(m channels.Manager, channelID channels.ChannelID,
	out io.Writer) *session {
	return &session{m: m, channelID: channelID, out: out, readFile: os.ReadFile}
}

// handle executes one line of input. It returns true when the user asked to
// quit.
func (s *session) handle(ctx context.Context, line string) bool {
	in, err := parseInput(line)
	if err != nil {
		s.printf("!!! %v", err)
		return false
	}

	switch in.kind {
	case inputNone:
	case inputQuit:
		return true
	case inputHelp:
		s.printf(chatHelp, strings.Join(emoji.DefaultReactions, " "))
	case inputSend, inputReply:
		s.m.OnLocalInput(ctx, s.channelID)
		s.send(ctx, channels.Draft{Content: in.text, ParentID: in.messageID})
	case inputAttach:
		data, err := s.readFile(in.path)
		if err != nil {
			s.printf("!!! failed to read %s: %v", in.path, err)
			return false
		}
		s.send(ctx, channels.Draft{
			Content: in.text,
			Files: []channels.FileUpload{
				{Name: filepath.Base(in.path), Data: data}},
		})
	case inputReact:
		err = s.m.ToggleReaction(ctx, s.channelID, in.messageID, in.emoji)
		if err != nil {
			s.printf("!!! reaction failed: %v", err)
		}
	case inputOlder:
		page, err := s.m.LoadOlder(ctx, s.channelID)
		if err != nil {
			s.printf("!!! failed to load older messages: %v", err)
		} else if !page.HasMore {
			s.printf("*** start of the channel")
		}
	case inputView:
		for _, msg := range s.m.View(s.channelID) {
			s.printf("%s", formatMessage(msg))
		}
	case inputThreads:
		printThreads(s.out, s.m.Threads(s.channelID))
	}
	return false
}

// send sends the draft in the background and reports failures.
func (s *session) send(ctx context.Context, draft channels.Draft) {
	_, err := s.m.SendMessage(ctx, s.channelID, draft,
		func(tempID channels.TempID, _ channels.Message, err error) {
			if err == nil {
				return
			}
			jww.WARN.Printf("[CHAT] Send of %d failed: %+v", tempID, err)
			if channels.IsRetryable(err) {
				s.printf("!!! message %d failed, send it again to retry",
					tempID)
			}
		})
	if err != nil {
		s.printf("!!! %v", err)
	}
}

func (s *session) printf(format string, a ...interface{}) {
	_, _ = fmt.Fprintf(s.out, format+"\n", a...)
}
