package hostclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"time"

	"github.com/rs/zerolog"

	werrors "github.com/Yggdrasil-Cannes/worldtree-oasis/pkg/errors"
)

const (
	defaultCallMethod   = "eth_call"
	defaultSubmitMethod = "tx.sign-submit"
	defaultTimeout      = 30 * time.Second
	defaultPoolSize     = 4
	defaultMaxPayload   = 1 << 20 // 1 MiB
)

// Config configures a Client. SocketPath is required; all other
// fields default per spec.md §4.3/§6.
type Config struct {
	SocketPath   string
	CallMethod   string
	SubmitMethod string
	Timeout      time.Duration
	PoolSize     int
	MaxPayload   int
}

func (c Config) withDefaults() Config {
	if c.CallMethod == "" {
		c.CallMethod = defaultCallMethod
	}
	if c.SubmitMethod == "" {
		c.SubmitMethod = defaultSubmitMethod
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.PoolSize <= 0 {
		c.PoolSize = defaultPoolSize
	}
	if c.MaxPayload <= 0 {
		c.MaxPayload = defaultMaxPayload
	}
	return c
}

// Client speaks the host-runtime's line-delimited JSON protocol over
// a pooled set of Unix-domain-socket connections.
type Client struct {
	cfg    Config
	logger zerolog.Logger
	pool   *connPool
}

// New constructs a Client for the given configuration. It does not
// dial; connections are established lazily on first use.
func New(cfg Config, logger zerolog.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:    cfg,
		logger: logger,
		pool:   newConnPool(cfg.SocketPath, cfg.PoolSize),
	}
}

// Close closes all pooled connections.
func (c *Client) Close() error {
	c.pool.closeAll()
	return nil
}

// Call performs an authenticated read: the eth_call-like operation
// against the contract at to with calldata data. Returns the raw
// returned bytes (the "0x..." result, hex-decoded).
func (c *Client) Call(ctx context.Context, to, data string) ([]byte, error) {
	req := rpcRequest{
		Method: c.cfg.CallMethod,
		Params: []interface{}{callParams{To: to, Data: data}, "latest"},
	}
	var raw string
	if err := c.roundTrip(ctx, "call", req, &raw); err != nil {
		return nil, err
	}
	return decodeHex(raw)
}

// SubmitTx performs an authenticated transaction: the host signs with
// the enclave-bound key and broadcasts, returning the transaction
// hash.
func (c *Client) SubmitTx(ctx context.Context, to, data string, gas uint64) (string, error) {
	req := rpcRequest{
		Method: c.cfg.SubmitMethod,
		Params: submitParams{To: to, Data: data, Gas: gas},
	}
	var result submitResult
	if err := c.roundTrip(ctx, "submit", req, &result); err != nil {
		return "", err
	}
	return result.Hash, nil
}

// roundTrip dials (or reuses) a connection, writes one line-delimited
// JSON request, reads one line-delimited JSON response, and unmarshals
// its result field into out. On a dial/write/read failure it returns
// ErrHostUnavailable, or ErrTimeout when ctx has already expired; an
// "error" field in the response is mapped to ErrHostError, and a result
// that does not unmarshal into out to ErrAbiDecode.
func (c *Client) roundTrip(ctx context.Context, label string, req rpcRequest, out interface{}) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	conn, err := c.pool.get()
	if err != nil {
		return c.unavailable(label, err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			c.pool.put(conn, false)
			return c.unavailable(label, err)
		}
	}

	resp, err := c.exchange(conn, req)
	if err != nil {
		c.pool.put(conn, false)
		if ctx.Err() != nil {
			return werrors.Coded(werrors.ErrTimeout, werrors.CodeTimeout, werrors.CategoryHost, true,
				fmt.Sprintf("%s: %s", label, ctx.Err()))
		}
		return c.unavailable(label, err)
	}
	c.pool.put(conn, true)

	if resp.Error != nil {
		return werrors.Coded(werrors.ErrHostError, werrors.CodeHostError, werrors.CategoryHost, true,
			fmt.Sprintf("%s: host error %d: %s", label, resp.Error.Code, resp.Error.Message))
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(resp.Result, out); err != nil {
		return werrors.Coded(werrors.ErrAbiDecode, werrors.CodeAbiDecode, werrors.CategoryHost, false,
			fmt.Sprintf("%s: malformed result: %v", label, err))
	}
	return nil
}

func (c *Client) exchange(conn net.Conn, req rpcRequest) (rpcResponse, error) {
	var resp rpcResponse

	line, err := json.Marshal(req)
	if err != nil {
		return resp, err
	}
	line = append(line, '\n')
	if _, err := conn.Write(line); err != nil {
		return resp, err
	}

	reader := bufio.NewReaderSize(conn, c.cfg.MaxPayload)
	respLine, err := reader.ReadBytes('\n')
	if err != nil && len(respLine) == 0 {
		return resp, err
	}
	if err := json.Unmarshal(respLine, &resp); err != nil {
		return resp, err
	}
	return resp, nil
}

func (c *Client) unavailable(label string, cause error) error {
	c.logger.Warn().Err(cause).Str("call", label).Msg("host runtime unreachable")
	return werrors.Coded(werrors.ErrHostUnavailable, werrors.CodeHostUnavailable, werrors.CategoryHost, true,
		fmt.Sprintf("%s: %v", label, cause))
}

func decodeHex(s string) ([]byte, error) {
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	if len(s)%2 != 0 {
		s = "0" + s
	}
	out := make([]byte, len(s)/2)
	for i := 0; i < len(out); i++ {
		hi, err := hexNibble(s[2*i])
		if err != nil {
			return nil, err
		}
		lo, err := hexNibble(s[2*i+1])
		if err != nil {
			return nil, err
		}
		out[i] = hi<<4 | lo
	}
	return out, nil
}

func hexNibble(b byte) (byte, error) {
	switch {
	case b >= '0' && b <= '9':
		return b - '0', nil
	case b >= 'a' && b <= 'f':
		return b - 'a' + 10, nil
	case b >= 'A' && b <= 'F':
		return b - 'A' + 10, nil
	default:
		return 0, fmt.Errorf("invalid hex digit %q", b)
	}
}
