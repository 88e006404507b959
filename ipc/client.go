package ipc

import (
	"bufio"
	"encoding/json"
	"net"
	"time"

	"github.com/teranos/messagesd/errors"
)

const (
	// dialTimeout bounds the connection attempt.
	dialTimeout = 5 * time.Second

	// responseTimeout bounds one round trip.
	responseTimeout = 30 * time.Second
)

// Client is one control connection to a running daemon. Commands share
// the connection and complete in order.
type Client struct {
	conn   net.Conn
	reader *bufio.Reader
}

// Dial connects to the daemon socket.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, dialTimeout)
	if err != nil {
		return nil, errors.Wrapf(err, "dial %s", path)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewReaderSize(conn, maxLineBytes),
	}, nil
}

// Do sends one request and reads its response.
func (c *Client) Do(req Request) (Response, error) {
	deadline := time.Now().Add(responseTimeout)
	if err := c.conn.SetDeadline(deadline); err != nil {
		return Response{}, errors.Wrap(err, "set deadline")
	}

	out, err := json.Marshal(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "encode request")
	}
	if _, err := c.conn.Write(append(out, '\n')); err != nil {
		return Response{}, errors.Wrap(err, "write request")
	}

	line, err := c.reader.ReadBytes('\n')
	if err != nil {
		return Response{}, errors.Wrap(err, "read response")
	}

	var resp Response
	if err := json.Unmarshal(line, &resp); err != nil {
		return Response{}, errors.Mark(errors.Wrap(err, "decode response"), errors.ErrIPC)
	}
	return resp, nil
}

// Command runs a bare command with no arguments.
func (c *Client) Command(cmdType string) (Response, error) {
	return c.Do(Request{Type: cmdType})
}

// Close releases the connection.
func (c *Client) Close() error {
	return c.conn.Close()
}
