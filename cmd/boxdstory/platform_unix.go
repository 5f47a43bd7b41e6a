//go:build !windows

package main

func enableANSI() {
	// Unix terminals support ANSI natively, nothing to do.
}
