// Package client talks to the admin service of a running node.
package client

import (
	"context"

	"dtnd/core"
	"dtnd/datamodel/bundle"
	"dtnd/eid"
	"dtnd/net/crpc"
	"dtnd/protocol"
	"dtnd/stats"
)

type Client struct {
	*crpc.Client
}

func Dial(ctx context.Context, address string) (*Client, error) {
	c, err := crpc.Dial(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return &Client{Client: c}, nil
}

func (c *Client) Endpoints(ctx context.Context) ([]string, error) {
	res := &protocol.EndpointsResponse{}
	if err := c.Call(ctx, "Admin.Endpoints", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res.EIDs, nil
}

func (c *Client) Bundles(ctx context.Context) ([]string, error) {
	res := &protocol.BundlesResponse{}
	if err := c.Call(ctx, "Admin.Bundles", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res.IDs, nil
}

func (c *Client) Peers(ctx context.Context) ([]core.Peer, error) {
	res := &protocol.PeersResponse{}
	if err := c.Call(ctx, "Admin.Peers", &protocol.Empty{}, res); err != nil {
		return nil, err
	}
	return res.Peers, nil
}

// ForgetPeer drops the node of id from the peer registry.
func (c *Client) ForgetPeer(ctx context.Context, id eid.EndpointID) error {
	return c.Call(ctx, "Admin.ForgetPeer", &protocol.EndpointRequest{EID: id}, &protocol.Empty{})
}

func (c *Client) Stats(ctx context.Context) (stats.Snapshot, error) {
	res := &protocol.StatsResponse{}
	if err := c.Call(ctx, "Admin.Stats", &protocol.Empty{}, res); err != nil {
		return stats.Snapshot{}, err
	}
	return res.Stats, nil
}

func (c *Client) Register(ctx context.Context, id eid.EndpointID) error {
	return c.Call(ctx, "Admin.Register", &protocol.EndpointRequest{EID: id}, &protocol.Empty{})
}

func (c *Client) Unregister(ctx context.Context, id eid.EndpointID) error {
	return c.Call(ctx, "Admin.Unregister", &protocol.EndpointRequest{EID: id}, &protocol.Empty{})
}

// Send submits a payload and returns the ID of the new bundle.
func (c *Client) Send(ctx context.Context, req *protocol.SendRequest) (string, error) {
	res := &protocol.SendResponse{}
	if err := c.Call(ctx, "Admin.Send", req, res); err != nil {
		return "", err
	}
	return res.ID, nil
}

// Poll drains the bundles delivered to id.
func (c *Client) Poll(ctx context.Context, id eid.EndpointID) ([]*bundle.Bundle, error) {
	res := &protocol.PollResponse{}
	if err := c.Call(ctx, "Admin.Poll", &protocol.EndpointRequest{EID: id}, res); err != nil {
		return nil, err
	}
	return res.Bundles, nil
}
