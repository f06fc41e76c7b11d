package cli

import (
	"fmt"
	"net"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/custodia-labs/planaudit/internal/adapters/driving/mcp"
	"github.com/custodia-labs/planaudit/internal/adapters/driving/watch"
	"github.com/custodia-labs/planaudit/internal/logger"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "MCP server commands",
	Long:  `Commands for the Model Context Protocol (MCP) server integration.`,
}

var mcpServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the MCP server",
	Long: `Start the Model Context Protocol server so AI assistants can upload,
query and audit construction plans.

By default, the server communicates over stdio using JSON-RPC.

Use --port to start an HTTP server instead, which enables:
  - Testing with MCP Inspector web UI
  - Remote access via HTTP (bind with --host 0.0.0.0; the default is loopback)

Use --watch to upload every plan dropped into a directory while serving.

upload_plan reads documents by path only inside --root, which defaults to
the --watch directory. Without either, clients send text or base64 content.

Examples:
  # Stdio mode (default)
  planaudit mcp serve

  # HTTP mode (for MCP Inspector, remote access)
  planaudit mcp serve --port 8080

  # Upload plans placed in ./inbox, and let clients upload from it by path
  planaudit mcp serve --watch ./inbox

  # Let clients upload any document under ./plans by path
  planaudit mcp serve --root ./plans

Claude Desktop configuration (claude_desktop_config.json):
  {
    "mcpServers": {
      "planaudit": {
        "command": "/path/to/planaudit",
        "args": ["mcp", "serve"]
      }
    }
  }`,
	RunE: runMCPServe,
}

func init() {
	mcpServeCmd.Flags().IntP("port", "p", 0, "HTTP port (0 = use stdio)")
	mcpServeCmd.Flags().String("host", "127.0.0.1", "HTTP listen address")
	mcpServeCmd.Flags().String("watch", "", "directory whose plans are uploaded automatically")
	mcpServeCmd.Flags().String("root", "", "directory upload_plan may read paths from (default: --watch)")
	mcpCmd.AddCommand(mcpServeCmd)
	rootCmd.AddCommand(mcpCmd)
}

func runMCPServe(cmd *cobra.Command, _ []string) error {
	port, err := cmd.Flags().GetInt("port")
	if err != nil {
		return fmt.Errorf("getting port flag: %w", err)
	}
	host, err := cmd.Flags().GetString("host")
	if err != nil {
		return fmt.Errorf("getting host flag: %w", err)
	}
	watchDir, err := cmd.Flags().GetString("watch")
	if err != nil {
		return fmt.Errorf("getting watch flag: %w", err)
	}
	fileRoot, err := cmd.Flags().GetString("root")
	if err != nil {
		return fmt.Errorf("getting root flag: %w", err)
	}
	if fileRoot == "" {
		fileRoot = watchDir
	}

	ctx := cmd.Context()
	if err := ensureServices(ctx); err != nil {
		return err
	}

	ports := &mcp.Ports{
		Plans: planService,
		Audit: auditService,
	}

	var opts []mcp.Option
	if fileRoot != "" {
		opts = append(opts, mcp.WithFileRoot(fileRoot))
	}
	server, err := mcp.NewServer(ports, opts...)
	if err != nil {
		return err
	}

	if watchDir != "" {
		w := watch.New(watchDir, planService,
			watch.WithTypes(uploadTypes),
			watch.WithNotify(logUpload),
		)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Error("watch %s: %v", watchDir, err)
			}
		}()
	}

	if port > 0 {
		addr := listenAddr(host, port)
		fmt.Fprintf(cmd.ErrOrStderr(), "MCP server listening on http://%s\n", addr)
		return server.RunHTTP(ctx, addr)
	}

	return server.Run(ctx)
}

func logUpload(r watch.Result) {
	if r.Err != nil {
		logger.Error("upload %s: %v", r.Path, r.Err)
		return
	}
	logger.Info("uploaded %s as plan %s (%d chunks)", r.Path, r.Upload.PlanID, r.Upload.ChunkCount)
}

// listenAddr joins host and port; an empty host means loopback.
func listenAddr(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
