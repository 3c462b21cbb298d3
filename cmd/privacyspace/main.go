// Package main is the privacyspace command.
//
// Usage:
//
//	privacyspace aggregator
//	privacyspace client --aggregator-url https://aggregator.example
package main

import (
	"github.com/charmbracelet/log"
)

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		log.Fatal("application terminated", "error", err)
	}
}
