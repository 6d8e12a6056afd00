package ipc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"time"
)

// Client provides RPC access to the daemon.
type Client struct {
	conn   net.Conn
	client *rpc.Client
}

// Dial connects to the IPC server at the given socket path.
func Dial(path string) (*Client, error) {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return nil, err
	}
	rpcClient := rpc.NewClientWithCodec(jsonrpc.NewClientCodec(conn))
	return &Client{conn: conn, client: rpcClient}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	if c.client != nil {
		_ = c.client.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Start requests the daemon to start the pipeline.
func (c *Client) Start() (*StartResponse, error) {
	var resp StartResponse
	if err := c.client.Call("Lifeline.Start", StartRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Stop requests the daemon to stop the pipeline.
func (c *Client) Stop() (*StopResponse, error) {
	var resp StopResponse
	if err := c.client.Call("Lifeline.Stop", StopRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Lifeline.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Observe submits an observation into the pipeline.
func (c *Client) Observe(obs ObservationRequest) (*ObserveResponse, error) {
	var resp ObserveResponse
	req := ObserveRequest{Observation: obs}
	if err := c.client.Call("Lifeline.Observe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueStats returns per-channel queue counts.
func (c *Client) QueueStats() (*QueueStatsResponse, error) {
	var resp QueueStatsResponse
	if err := c.client.Call("Lifeline.QueueStats", QueueStatsRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueList peeks at one channel's envelopes without consuming them.
func (c *Client) QueueList(channel string, limit int) (*QueueListResponse, error) {
	var resp QueueListResponse
	req := QueueListRequest{Channel: channel, Limit: limit}
	if err := c.client.Call("Lifeline.QueueList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueueReplay moves a channel's dead letters back onto the live channel.
func (c *Client) QueueReplay(channel string) (*QueueReplayResponse, error) {
	var resp QueueReplayResponse
	req := QueueReplayRequest{Channel: channel}
	if err := c.client.Call("Lifeline.QueueReplay", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// QueuePurge discards all envelopes on a channel.
func (c *Client) QueuePurge(channel string) (*QueuePurgeResponse, error) {
	var resp QueuePurgeResponse
	req := QueuePurgeRequest{Channel: channel}
	if err := c.client.Call("Lifeline.QueuePurge", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TxList returns ledger records optionally filtered by status.
func (c *Client) TxList(status string, limit int) (*TxListResponse, error) {
	var resp TxListResponse
	req := TxListRequest{Status: status, Limit: limit}
	if err := c.client.Call("Lifeline.TxList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TxShow returns a single transaction with its submission log.
func (c *Client) TxShow(key string) (*TxShowResponse, error) {
	var resp TxShowResponse
	req := TxShowRequest{Key: key}
	if err := c.client.Call("Lifeline.TxShow", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns the most recent retained log records.
func (c *Client) LogTail(limit int) (*LogTailResponse, error) {
	var resp LogTailResponse
	req := LogTailRequest{Limit: limit}
	if err := c.client.Call("Lifeline.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// TestNotification triggers a notification test via the daemon.
func (c *Client) TestNotification() (*TestNotificationResponse, error) {
	var resp TestNotificationResponse
	if err := c.client.Call("Lifeline.TestNotification", TestNotificationRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
