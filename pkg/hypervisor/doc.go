// Package hypervisor is documented in hypervisor.go's package comment.
package hypervisor
