package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/tim-br/diakonos/internal/dkerr"
)

// Client is a single-connection handle to a daemon's control socket. It is
// not safe for concurrent use — callers issuing concurrent requests should
// dial separate Clients, matching the "one request/response pair at a time
// per connection" rule of the wire protocol.
type Client struct {
	conn   net.Conn
	reader *bufio.Scanner
	writer *bufio.Writer
}

// Dial connects to the control socket at path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, dkerr.IoError("connecting to daemon", err)
	}
	return &Client{
		conn:   conn,
		reader: bufio.NewScanner(conn),
		writer: bufio.NewWriter(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Send writes req and blocks for the corresponding response.
func (c *Client) Send(req Request) (Response, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return Response{}, fmt.Errorf("encoding request: %w", err)
	}
	data = append(data, '\n')

	if _, err := c.writer.Write(data); err != nil {
		return Response{}, dkerr.IoError("writing request", err)
	}
	if err := c.writer.Flush(); err != nil {
		return Response{}, dkerr.IoError("flushing request", err)
	}

	if !c.reader.Scan() {
		if err := c.reader.Err(); err != nil {
			return Response{}, dkerr.IoError("reading response", err)
		}
		return Response{}, dkerr.IoError("connection closed before response received", nil)
	}

	var resp Response
	if err := json.Unmarshal(c.reader.Bytes(), &resp); err != nil {
		return Response{}, fmt.Errorf("decoding response: %w", err)
	}
	return resp, nil
}

// SocketReady reports whether a connection can currently be established to
// path — used by the CLI while polling for a freshly spawned daemon.
func SocketReady(path string) bool {
	conn, err := net.DialTimeout("unix", path, 200*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}
