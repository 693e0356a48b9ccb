// Package protocol implements the newline-delimited text protocol spoken
// between clients, primaries and backups. One request per line, one
// response per line.
package protocol

import (
	"fmt"
	"strings"
)

type Kind int

const (
	Get Kind = iota
	Put
	Delete
	Keys
	Heartbeat
	Replicate
	AddBackup
	Promote
)

// Command is one decoded protocol line. Immutable once constructed.
type Command struct {
	Kind  Kind
	Key   string
	Value string
	Addr  string   // ADD_BACKUP target
	Op    *Command // REPLICATE payload, always a Put or Delete
}

// ParseError marks a malformed protocol line. It is answered with an
// ERROR response and never tears down the connection.
type ParseError struct {
	Input  string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %q: %s", e.Input, e.Reason)
}

// Parse decodes a single trimmed line. Keywords are case-sensitive.
func Parse(line string) (*Command, error) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil, &ParseError{Input: line, Reason: "empty command"}
	}

	switch parts[0] {
	case "GET":
		if len(parts) != 2 {
			return nil, &ParseError{Input: line, Reason: "usage: GET <key>"}
		}
		return &Command{Kind: Get, Key: parts[1]}, nil

	case "PUT":
		if len(parts) < 3 {
			return nil, &ParseError{Input: line, Reason: "usage: PUT <key> <value>"}
		}
		// Value is everything after the key; it may contain spaces.
		return &Command{Kind: Put, Key: parts[1], Value: strings.Join(parts[2:], " ")}, nil

	case "DELETE":
		if len(parts) != 2 {
			return nil, &ParseError{Input: line, Reason: "usage: DELETE <key>"}
		}
		return &Command{Kind: Delete, Key: parts[1]}, nil

	case "KEYS":
		if len(parts) != 1 {
			return nil, &ParseError{Input: line, Reason: "usage: KEYS"}
		}
		return &Command{Kind: Keys}, nil

	case "HEARTBEAT":
		if len(parts) != 1 {
			return nil, &ParseError{Input: line, Reason: "usage: HEARTBEAT"}
		}
		return &Command{Kind: Heartbeat}, nil

	case "REPLICATE":
		if len(parts) < 2 {
			return nil, &ParseError{Input: line, Reason: "usage: REPLICATE <PUT|DELETE> <key> [<value>]"}
		}
		op, err := Parse(strings.Join(parts[1:], " "))
		if err != nil {
			return nil, &ParseError{Input: line, Reason: "bad replicated operation"}
		}
		if op.Kind != Put && op.Kind != Delete {
			return nil, &ParseError{Input: line, Reason: "only PUT and DELETE replicate"}
		}
		return &Command{Kind: Replicate, Op: op}, nil

	case "ADD_BACKUP":
		if len(parts) != 2 {
			return nil, &ParseError{Input: line, Reason: "usage: ADD_BACKUP <host:port>"}
		}
		return &Command{Kind: AddBackup, Addr: parts[1]}, nil

	case "PROMOTE":
		if len(parts) != 1 {
			return nil, &ParseError{Input: line, Reason: "usage: PROMOTE"}
		}
		return &Command{Kind: Promote}, nil
	}

	return nil, &ParseError{Input: line, Reason: fmt.Sprintf("unknown command %q", parts[0])}
}

// Encode renders the command back to its wire line.
func (c *Command) Encode() string {
	switch c.Kind {
	case Get:
		return "GET " + c.Key
	case Put:
		return "PUT " + c.Key + " " + c.Value
	case Delete:
		return "DELETE " + c.Key
	case Keys:
		return "KEYS"
	case Heartbeat:
		return "HEARTBEAT"
	case Replicate:
		return "REPLICATE " + c.Op.Encode()
	case AddBackup:
		return "ADD_BACKUP " + c.Addr
	case Promote:
		return "PROMOTE"
	}
	return ""
}

// Response lines.
const (
	RespOK       = "OK"
	RespNotFound = "NOT_FOUND"
)

func EncodeValue(v string) string {
	return "VALUE " + v
}

// EncodeKeys renders a KEYS response; an empty key set yields "KEYS".
func EncodeKeys(keys []string) string {
	if len(keys) == 0 {
		return "KEYS"
	}
	return "KEYS " + strings.Join(keys, " ")
}

func EncodeError(msg string) string {
	return "ERROR " + msg
}
