// Package dashboard provides the embedded web UI for the fleet dashboard.
//
// The assets are compiled into the binary and served by the internal server
// package at "/". The page reads the initial snapshot from /api/stats and
// follows /api/sse for live updates.
package dashboard

import "embed"

// Assets is an embedded filesystem containing the dashboard web UI.
//
//	assets/
//	  index.html    - Main dashboard page with inline CSS and JavaScript
//
//go:embed assets/*
var Assets embed.FS
