// Package command parses the reply grammar operators use to query and review
// payments from the messaging channel.
//
// Rules are evaluated in a fixed order and the first match wins:
//
//	status <ID>        StatusCheck
//	<ID> + approved    Approve
//	<ID> + rejected    Reject
//	start | start server      StartServer
//	status | server status    QueryStatus
//	help | commands           Help
//	ping                      Ping
//
// Keywords are case-insensitive; the captured ID keeps its case. Anything
// else is NoMatch and gets no reply.
package command

import (
	"fmt"
	"regexp"
	"strings"
)

// Kind tags the parsed command.
type Kind int

const (
	NoMatch Kind = iota
	StatusCheck
	Approve
	Reject
	StartServer
	QueryStatus
	Help
	Ping
)

var kindNames = map[Kind]string{
	NoMatch:     "no_match",
	StatusCheck: "status_check",
	Approve:     "approve",
	Reject:      "reject",
	StartServer: "start_server",
	QueryStatus: "query_status",
	Help:        "help",
	Ping:        "ping",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Command is the result of parsing one inbound message.
type Command struct {
	Kind Kind
	ID   string // set for StatusCheck, Approve and Reject
}

const idPattern = `([A-Za-z0-9_-]+)`

type rule struct {
	pattern *regexp.Regexp
	build   func(match []string) Command
}

func withID(kind Kind) func([]string) Command {
	return func(match []string) Command {
		return Command{Kind: kind, ID: match[1]}
	}
}

func keyword(kind Kind) func([]string) Command {
	return func([]string) Command {
		return Command{Kind: kind}
	}
}

var rules = []rule{
	{regexp.MustCompile(`(?i)^status\s+` + idPattern + `$`), withID(StatusCheck)},
	{regexp.MustCompile(`(?i)^` + idPattern + `\s*\+\s*approved$`), withID(Approve)},
	{regexp.MustCompile(`(?i)^` + idPattern + `\s*\+\s*rejected$`), withID(Reject)},
	{regexp.MustCompile(`(?i)^start(\s+server)?$`), keyword(StartServer)},
	{regexp.MustCompile(`(?i)^(server\s+)?status$`), keyword(QueryStatus)},
	{regexp.MustCompile(`(?i)^(help|commands)$`), keyword(Help)},
	{regexp.MustCompile(`(?i)^ping$`), keyword(Ping)},
}

// Parse maps raw message text to a Command. It never fails; unrecognised
// input yields a NoMatch command.
func Parse(text string) Command {
	trimmed := strings.TrimSpace(text)
	for _, r := range rules {
		if match := r.pattern.FindStringSubmatch(trimmed); match != nil {
			return r.build(match)
		}
	}
	return Command{Kind: NoMatch}
}

// StatusCheckText is the reply an operator sends to look up a payment.
func StatusCheckText(id string) string { return "status " + id }

// ApproveText is the reply an operator sends to approve a payment.
func ApproveText(id string) string { return id + " + approved" }

// RejectText is the reply an operator sends to reject a payment.
func RejectText(id string) string { return id + " + rejected" }
