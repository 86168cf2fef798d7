// Package telegram is the chat transport: it long-polls the Bot API,
// turns messages into pipeline events, resolves file ids into download
// links and sends transcripts back as replies.
package telegram
