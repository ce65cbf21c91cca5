package mcptool

import (
	"context"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geonext/internal/pipeline"
)

// ServerName identifies the MCP server to clients.
const ServerName = "geonext"

// NewServer returns an MCP server with the geocoding tools registered.
func NewServer(p *pipeline.Pipeline, version string) *mcp.Server {
	server := mcp.NewServer(&mcp.Implementation{Name: ServerName, Version: version}, nil)
	tools := NewTools(p)
	mcp.AddTool(server, MetadataGeocode, tools.Geocode)
	mcp.AddTool(server, MetadataGeocodeLocation, tools.GeocodeLocation)
	return server
}

// ServeStdio runs server over stdin/stdout until the client disconnects or
// ctx is cancelled.
func ServeStdio(ctx context.Context, server *mcp.Server) error {
	zap.L().Info("mcp: serving on stdio")
	if err := server.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
		return eris.Wrap(err, "mcp: stdio")
	}
	return nil
}

// HTTPHandler serves server over the streamable HTTP transport.
func HTTPHandler(server *mcp.Server) http.Handler {
	return mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return server }, nil)
}
