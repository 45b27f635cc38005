// Package resources implements the village MCP resources.
//
// Resources provide read-only data the host can pull for context. They use
// URI-based addressing (village://...) following MCP conventions, and never
// change shared state: reading village://status does not mark mail read.
package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/beads-village/village/internal/tools"
	"github.com/mark3labs/mcp-go/mcp"
)

// Handler manages village resource endpoints.
type Handler struct {
	v *tools.Village
}

// NewHandler creates a resource Handler with its dependencies.
func NewHandler(v *tools.Village) *Handler {
	return &Handler{v: v}
}

// ReservationsResource returns the MCP resource definition for the live
// reservation table.
func (h *Handler) ReservationsResource() mcp.Resource {
	return mcp.NewResource(
		"village://reservations",
		"Village Reservations",
		mcp.WithResourceDescription("Live file reservations in the current workspace"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleReservations returns the live reservations as JSON.
func (h *Handler) HandleReservations(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	rs, err := h.v.Leases().Reservations()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, rs)
}

// StatusResource returns the MCP resource definition for session status.
func (h *Handler) StatusResource() mcp.Resource {
	return mcp.NewResource(
		"village://status",
		"Village Session Status",
		mcp.WithResourceDescription("Session identity, current issue, reservations held, active agents and unread mail"),
		mcp.WithMIMEType("application/json"),
	)
}

// HandleStatus returns the session snapshot as JSON.
func (h *Handler) HandleStatus(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	snap, err := h.v.Snapshot()
	if err != nil {
		return errorResource(req.Params.URI, err.Error()), nil
	}
	return jsonResource(req.Params.URI, snap)
}

func jsonResource(uri string, v any) ([]mcp.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling %s: %w", uri, err)
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}

// errorResource returns a resource with an error message.
func errorResource(uri, message string) []mcp.ResourceContents {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: "text/plain",
			Text:     fmt.Sprintf("Error: %s", message),
		},
	}
}
