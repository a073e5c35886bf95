// Package mcp exposes ragchat over the Model Context Protocol.
//
// The server uses the MCP SDK (github.com/modelcontextprotocol/go-sdk/mcp)
// on the stdio transport and registers two tools: chatbot_ask answers a
// question from the indexed documents and index_folder runs an incremental
// indexing pass over the raw document folder.
package mcp
