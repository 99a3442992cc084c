package server

import (
	"context"
	"net/http"
	"strings"

	"connectrpc.com/connect"
)

// Client calls an ImpServer.
type Client struct {
	compile     *connect.Client[CompileRequest, CompileResponse]
	run         *connect.Client[RunRequest, RunResponse]
	disassemble *connect.Client[DisassembleRequest, DisassembleResponse]
}

// NewClient creates a client for the server at baseURL, e.g.
// "http://localhost:7411". A nil codec means JSON.
func NewClient(baseURL string, codec connect.Codec, opts ...connect.ClientOption) *Client {
	if codec == nil {
		codec = JSONCodec{}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	options := append([]connect.ClientOption{connect.WithCodec(codec)}, opts...)
	return &Client{
		compile:     connect.NewClient[CompileRequest, CompileResponse](http.DefaultClient, baseURL+CompileProcedure, options...),
		run:         connect.NewClient[RunRequest, RunResponse](http.DefaultClient, baseURL+RunProcedure, options...),
		disassemble: connect.NewClient[DisassembleRequest, DisassembleResponse](http.DefaultClient, baseURL+DisassembleProcedure, options...),
	}
}

// Compile compiles a source text remotely.
func (c *Client) Compile(ctx context.Context, req *CompileRequest) (*CompileResponse, error) {
	res, err := c.compile.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Run runs a source text or image remotely.
func (c *Client) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	res, err := c.run.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}

// Disassemble disassembles a source text or image remotely.
func (c *Client) Disassemble(ctx context.Context, req *DisassembleRequest) (*DisassembleResponse, error) {
	res, err := c.disassemble.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
