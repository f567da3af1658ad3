// Package client is a small JSON client for the provgraph gRPC services.
// Requests are any JSON-serializable values; responses are decoded into out.
package client

import (
	"context"
	"encoding/json"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/asakaida/provgraph/internal/handlers"
)

// Client calls the Lineage and Provenance services over conn
type Client struct {
	conn grpc.ClientConnInterface
}

// New creates a new Client
func New(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// GetEntityLineage calls Lineage.GetEntityLineage
func (c *Client) GetEntityLineage(ctx context.Context, req, out interface{}, opts ...grpc.CallOption) error {
	return c.call(ctx, handlers.LineageServiceName, handlers.MethodGetEntityLineage, req, out, opts...)
}

// GetEntityDescendants calls Lineage.GetEntityDescendants
func (c *Client) GetEntityDescendants(ctx context.Context, req, out interface{}, opts ...grpc.CallOption) error {
	return c.call(ctx, handlers.LineageServiceName, handlers.MethodGetEntityDescendants, req, out, opts...)
}

// GetCommonAncestors calls Lineage.GetCommonAncestors
func (c *Client) GetCommonAncestors(ctx context.Context, req, out interface{}, opts ...grpc.CallOption) error {
	return c.call(ctx, handlers.LineageServiceName, handlers.MethodGetCommonAncestors, req, out, opts...)
}

// WriteFacts calls Provenance.WriteFacts and returns the change token
func (c *Client) WriteFacts(ctx context.Context, batch interface{}, opts ...grpc.CallOption) (string, error) {
	var resp struct {
		ChangeToken string `json:"changeToken"`
	}
	err := c.call(ctx, handlers.ProvenanceServiceName, handlers.MethodWriteFacts, batch, &resp, opts...)
	return resp.ChangeToken, err
}

// DeleteFacts calls Provenance.DeleteFacts and returns the change token
func (c *Client) DeleteFacts(ctx context.Context, batch interface{}, opts ...grpc.CallOption) (string, error) {
	var resp struct {
		ChangeToken string `json:"changeToken"`
	}
	err := c.call(ctx, handlers.ProvenanceServiceName, handlers.MethodDeleteFacts, batch, &resp, opts...)
	return resp.ChangeToken, err
}

// VerifyMirror calls Provenance.VerifyMirror
func (c *Client) VerifyMirror(ctx context.Context, out interface{}, opts ...grpc.CallOption) error {
	return c.call(ctx, handlers.ProvenanceServiceName, handlers.MethodVerifyMirror, struct{}{}, out, opts...)
}

// VerifyFacts calls Provenance.VerifyMirror and also checks each fact of batch against the mirror
func (c *Client) VerifyFacts(ctx context.Context, batch interface{}, out interface{}, opts ...grpc.CallOption) error {
	req := map[string]interface{}{"facts": batch}
	return c.call(ctx, handlers.ProvenanceServiceName, handlers.MethodVerifyMirror, req, out, opts...)
}

func (c *Client) call(ctx context.Context, service, method string, req, out interface{}, opts ...grpc.CallOption) error {
	raw, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}
	in := &structpb.Struct{}
	if err := protojson.Unmarshal(raw, in); err != nil {
		return fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	resp, err := handlers.Invoke(ctx, c.conn, service, method, in, opts...)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}

	raw, err = protojson.Marshal(resp)
	if err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", method, err)
	}
	return nil
}
