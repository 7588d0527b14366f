package bridge

import (
	"context"
	"fmt"
)

// ExecuteCommand asks the peer to run command and returns its formatted output.
func (c *Client) ExecuteCommand(ctx context.Context, command string) (string, error) {
	return c.call(ctx, NewRequest(ActionExecuteCommand, command))
}

// AnalyzeText asks the peer whether text looks like a command.
func (c *Client) AnalyzeText(ctx context.Context, text string) (string, error) {
	return c.call(ctx, NewRequest(ActionAnalyzeText, text))
}

// SystemInfo returns the peer's host description.
func (c *Client) SystemInfo(ctx context.Context) (string, error) {
	return c.call(ctx, NewRequest(ActionGetSystemInfo))
}

// Diagnostics returns the disk and memory report gathered by the peer.
func (c *Client) Diagnostics(ctx context.Context) (string, error) {
	return c.call(ctx, NewRequest(ActionArchDiagnostics))
}

func (c *Client) call(ctx context.Context, req Request) (string, error) {
	resp, err := c.Send(ctx, req)
	if err != nil {
		return "", err
	}
	if !resp.Success {
		msg := resp.ErrorText()
		if msg == "" {
			msg = "no error message"
		}
		return "", fmt.Errorf("%w: %s: %s", ErrPeerFailed, req.Action, msg)
	}
	return resp.ResultText(), nil
}
