package wire

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/quarrystor/quarry/pkg/types"
)

// Action names the operations the SDS data listener accepts
type Action string

const (
	ActionInitVolume Action = "init_volume"
	ActionRead       Action = "read"
	ActionWrite      Action = "write"
)

// Request is one newline-delimited JSON frame sent to an SDS
type Request struct {
	Action      Action            `json:"action"`
	Token       *types.TokenGrant `json:"token,omitempty"`
	VolumeID    uint64            `json:"volume_id,omitempty"`
	ChunkID     uint64            `json:"chunk_id,omitempty"`
	ChunkIndex  int64             `json:"chunk_index,omitempty"`
	OffsetBytes int64             `json:"offset_bytes,omitempty"`
	LengthBytes int64             `json:"length_bytes,omitempty"`
	SizeBytes   int64             `json:"size_bytes,omitempty"`
	DataB64     string            `json:"data_b64,omitempty"`
}

// Response is the SDS's answer frame
type Response struct {
	OK           bool   `json:"ok"`
	BytesRead    int64  `json:"bytes_read,omitempty"`
	BytesWritten int64  `json:"bytes_written,omitempty"`
	DataB64      string `json:"data_b64,omitempty"`
	Generation   uint64 `json:"generation,omitempty"`
	Checksum     string `json:"checksum,omitempty"`
	Error        string `json:"error,omitempty"`
}

// Conn wraps a TCP connection with newline-JSON framing in both
// directions. Encoders append the terminating newline themselves.
type Conn struct {
	raw net.Conn
	enc *json.Encoder
	dec *json.Decoder
}

// NewConn wraps an established connection
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw: raw,
		enc: json.NewEncoder(raw),
		dec: json.NewDecoder(bufio.NewReader(raw)),
	}
}

// Dial connects to an SDS data listener with a bounded timeout
func Dial(addr string, timeout time.Duration) (*Conn, error) {
	raw, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w: %v", addr, types.ErrTargetIO, err)
	}
	return NewConn(raw), nil
}

// Send writes one frame
func (c *Conn) Send(v any) error {
	if err := c.enc.Encode(v); err != nil {
		return fmt.Errorf("send frame: %w: %v", types.ErrTargetIO, err)
	}
	return nil
}

// Receive reads one frame into v
func (c *Conn) Receive(v any) error {
	if err := c.dec.Decode(v); err != nil {
		return fmt.Errorf("receive frame: %w: %v", types.ErrTargetIO, err)
	}
	return nil
}

// SetDeadline bounds both directions of the next exchange
func (c *Conn) SetDeadline(t time.Time) error {
	return c.raw.SetDeadline(t)
}

// Close closes the underlying connection
func (c *Conn) Close() error {
	return c.raw.Close()
}

// RemoteAddr returns the peer address
func (c *Conn) RemoteAddr() net.Addr {
	return c.raw.RemoteAddr()
}

// Do performs a single request/response exchange against addr within
// timeout, closing the connection afterwards
func Do(addr string, req *Request, timeout time.Duration) (*Response, error) {
	conn, err := Dial(addr, timeout)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set deadline: %w: %v", types.ErrTargetIO, err)
	}
	if err := conn.Send(req); err != nil {
		return nil, err
	}

	var resp Response
	if err := conn.Receive(&resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
