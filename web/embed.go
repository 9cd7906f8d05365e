// Package web holds the assets compiled into the binary.
package web

import (
	_ "embed"
)

// DashboardHTML is the single page dashboard served at /
//
//go:embed dist/dashboard.html
var DashboardHTML []byte
