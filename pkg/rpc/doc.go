// Package rpc is documented in envelope.go's package comment.
package rpc
