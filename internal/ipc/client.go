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

// Status retrieves the daemon status.
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.client.Call("Facet.Status", StatusRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobCreate registers a new job from local image paths.
func (c *Client) JobCreate(owner string, imagePaths []string) (*JobCreateResponse, error) {
	var resp JobCreateResponse
	req := JobCreateRequest{Owner: owner, ImagePaths: imagePaths}
	if err := c.client.Call("Facet.JobCreate", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Reconstruct queues a job for reconstruction at the given quality.
func (c *Client) Reconstruct(id, quality string) (*ReconstructResponse, error) {
	var resp ReconstructResponse
	req := ReconstructRequest{ID: id, Quality: quality}
	if err := c.client.Call("Facet.Reconstruct", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobList returns jobs optionally filtered by statuses.
func (c *Client) JobList(statuses []string) (*JobListResponse, error) {
	var resp JobListResponse
	req := JobListRequest{Statuses: statuses}
	if err := c.client.Call("Facet.JobList", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobDescribe returns details for a single job.
func (c *Client) JobDescribe(id string) (*JobDescribeResponse, error) {
	var resp JobDescribeResponse
	req := JobDescribeRequest{ID: id}
	if err := c.client.Call("Facet.JobDescribe", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Cancel cancels a queued or running job.
func (c *Client) Cancel(id string) (*CancelResponse, error) {
	var resp CancelResponse
	req := CancelRequest{ID: id}
	if err := c.client.Call("Facet.Cancel", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Artifact resolves the stored model of a completed job.
func (c *Client) Artifact(id string) (*ArtifactResponse, error) {
	var resp ArtifactResponse
	req := ArtifactRequest{ID: id}
	if err := c.client.Call("Facet.Artifact", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Sweep triggers an immediate retention sweep.
func (c *Client) Sweep() (*SweepResponse, error) {
	var resp SweepResponse
	if err := c.client.Call("Facet.Sweep", SweepRequest{}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// LogTail returns log lines from the daemon.
func (c *Client) LogTail(req LogTailRequest) (*LogTailResponse, error) {
	var resp LogTailResponse
	if err := c.client.Call("Facet.LogTail", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
