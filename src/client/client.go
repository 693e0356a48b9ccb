// Package client speaks the text protocol to a node: one line out, one
// line back. It backs the CLI verbs, the replication fan-out and tests.
package client

import (
	"bufio"
	"net"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/jeffasante/kv-store/src/protocol"
	"github.com/jeffasante/kv-store/src/util"
)

type Client struct {
	address   string
	transport *Transport
}

func New(address string) *Client {
	return &Client{
		address:   address,
		transport: NewTransport(DefaultNetworkConfig()),
	}
}

func NewWithTransport(address string, transport *Transport) *Client {
	return &Client{address: address, transport: transport}
}

// Send dials, writes one command line and reads one response line. The
// exchange is bounded by the transport's reply timeout.
func (c *Client) Send(command string) (string, error) {
	conn, err := c.Connect()
	if err != nil {
		return "", err
	}
	defer conn.Close()

	return conn.SendTimeout(command, c.transport.config.ReplyTimeout)
}

// Connect opens a persistent connection for a sequence of commands.
func (c *Client) Connect() (*Conn, error) {
	raw, err := c.transport.Dial(c.address)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", c.address)
	}
	return &Conn{
		raw:    raw,
		reader: bufio.NewReaderSize(raw, c.transport.config.BufferSize),
	}, nil
}

// Get returns the value for key, or ok=false when the key is absent.
func (c *Client) Get(key string) (string, bool, error) {
	resp, err := c.Send("GET " + key)
	if err != nil {
		return "", false, err
	}
	switch {
	case resp == protocol.RespNotFound:
		return "", false, nil
	case strings.HasPrefix(resp, "VALUE "):
		return strings.TrimPrefix(resp, "VALUE "), true, nil
	}
	return "", false, errors.Errorf("unexpected response %q", resp)
}

func (c *Client) Put(key, value string) error {
	resp, err := c.Send("PUT " + key + " " + value)
	if err != nil {
		return err
	}
	if resp != protocol.RespOK {
		return errors.Errorf("unexpected response %q", resp)
	}
	return nil
}

// Delete reports whether the key existed on the node.
func (c *Client) Delete(key string) (bool, error) {
	resp, err := c.Send("DELETE " + key)
	if err != nil {
		return false, err
	}
	switch resp {
	case protocol.RespOK:
		return true, nil
	case protocol.RespNotFound:
		return false, nil
	}
	return false, errors.Errorf("unexpected response %q", resp)
}

func (c *Client) Keys() ([]string, error) {
	resp, err := c.Send("KEYS")
	if err != nil {
		return nil, err
	}
	if resp == "KEYS" {
		return nil, nil
	}
	if !strings.HasPrefix(resp, "KEYS ") {
		return nil, errors.Errorf("unexpected response %q", resp)
	}
	return strings.Fields(strings.TrimPrefix(resp, "KEYS ")), nil
}

// Conn is one open protocol connection. Not safe for concurrent use.
type Conn struct {
	raw    net.Conn
	reader *bufio.Reader
}

func (c *Conn) Send(command string) (string, error) {
	if _, err := c.raw.Write([]byte(command + "\n")); err != nil {
		return "", errors.Wrap(err, "write command")
	}
	line, err := c.reader.ReadString('\n')
	if err != nil {
		return "", errors.Wrap(err, "read response")
	}
	return strings.TrimSpace(line), nil
}

// SendTimeout bounds the whole write+read exchange with a deadline. A
// missed deadline surfaces as util.ErrTimeout.
func (c *Conn) SendTimeout(command string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		c.raw.SetDeadline(time.Now().Add(timeout))
		defer c.raw.SetDeadline(time.Time{})
	}
	resp, err := c.Send(command)
	if err != nil {
		var netErr net.Error
		if errors.As(err, &netErr) && netErr.Timeout() {
			return "", errors.Wrapf(util.ErrTimeout, "no reply within %s", timeout)
		}
		return "", err
	}
	return resp, nil
}

func (c *Conn) Close() error {
	return c.raw.Close()
}
