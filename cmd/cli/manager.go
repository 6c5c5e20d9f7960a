// Package cli provides the command-line interface for LeakDumper.
//
// The CLI is an operator companion to the library: it shows the configuration
// a process would pick up from its environment, provokes a real leak report on
// demand, and reads back the audit trail written by instrumented processes.
//
// Architecture:
// - Manager: Orpheus application setup and command routing
// - Handlers: one function per command
// - Utils: duration parsing and output helpers
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira fragment
// SPDX-License-Identifier: MPL-2.0

package cli

import (
	"io"
	"os"

	"github.com/agilira/leakdumper"
	"github.com/agilira/orpheus/pkg/orpheus"
)

// Version of the leakdumper command
const Version = "1.0.0"

// Manager wires the leakdumper commands into an Orpheus application
type Manager struct {
	app *orpheus.App
	out io.Writer

	// diagnostics, when set, receives banners and leak reports of the
	// detectors created by commands instead of DUMP_STREAM
	diagnostics io.Writer
}

// NewManager creates the CLI with every command registered
func NewManager() *Manager {
	app := orpheus.New("leakdumper").
		SetDescription("Stream leak detector companion: configuration, leak provocation and audit trail").
		SetVersion(Version)

	manager := &Manager{
		app: app,
		out: os.Stdout,
	}

	manager.setupConfigCommands()
	manager.setupHoldCommand()
	manager.setupAuditCommands()
	manager.setupInfoCommand()

	return manager
}

// WithOutput redirects command output, which defaults to standard output
func (m *Manager) WithOutput(w io.Writer) *Manager {
	m.out = w
	return m
}

// WithDiagnostics routes the detector output of the hold command to w
func (m *Manager) WithDiagnostics(w io.Writer) *Manager {
	m.diagnostics = w
	return m
}

// Run executes the CLI application with the provided arguments
func (m *Manager) Run(args []string) error {
	return m.app.Run(args)
}

// setupConfigCommands configures the 'config' command group
func (m *Manager) setupConfigCommands() {
	configCmd := orpheus.NewCommand("config", "Inspect the detector configuration")

	// config show [--format=text] [--file=]
	showCmd := configCmd.Subcommand("show", "Show the effective configuration (environment over file)", m.handleConfigShow)
	showCmd.AddFlag("format", "f", "text", "Output format (text|yaml)")
	showCmd.AddFlag("file", "c", "", "YAML configuration file")

	// config banner [--file=]
	bannerCmd := configCmd.Subcommand("banner", "Print the startup banner for the effective configuration", m.handleConfigBanner)
	bannerCmd.AddFlag("file", "c", "", "YAML configuration file")

	m.app.AddCommand(configCmd)
}

// setupHoldCommand configures 'hold', which opens a file and keeps it open
func (m *Manager) setupHoldCommand() {
	holdCmd := orpheus.NewCommand("hold", "Open a file through the detector and hold it open").
		AddFlag("duration", "d", "12s", "How long to hold the stream open").
		AddFlag("file", "c", "", "YAML configuration file").
		AddBoolFlag("filter", "F", false, "Also wrap the stream in a tracked filter").
		AddBoolFlag("close", "x", false, "Close the stream before exiting").
		SetHandler(m.handleHold)
	m.app.AddCommand(holdCmd)
}

// setupAuditCommands configures the 'audit' command group
func (m *Manager) setupAuditCommands() {
	auditCmd := orpheus.NewCommand("audit", "Audit trail inspection")

	queryCmd := auditCmd.Subcommand("query", "Query recorded stream events", m.handleAuditQuery)
	queryCmd.AddFlag("db", "", "", "Audit store (.db or .jsonl); empty for the unified database")
	queryCmd.AddFlag("since", "s", "24h", "Time range (e.g., 24h, 7d, 2w)")
	queryCmd.AddFlag("event", "e", "", "Event type filter (stream_tracked|stream_closed|leak_reported|config_loaded)")
	queryCmd.AddFlag("path", "p", "", "Stream path filter")
	queryCmd.AddIntFlag("limit", "l", 100, "Maximum results")

	cleanupCmd := auditCmd.Subcommand("cleanup", "Delete old audit events", m.handleAuditCleanup)
	cleanupCmd.AddFlag("db", "", "", "Audit database; empty for the unified database")
	cleanupCmd.AddFlag("older-than", "o", "30d", "Delete entries older than")
	cleanupCmd.AddBoolFlag("dry-run", "d", false, "Show what would be deleted")

	statsCmd := auditCmd.Subcommand("stats", "Summarize an audit store", m.handleAuditStats)
	statsCmd.AddFlag("db", "", "", "Audit store (.db or .jsonl); empty for the unified database")

	m.app.AddCommand(auditCmd)
}

// setupInfoCommand configures 'info'
func (m *Manager) setupInfoCommand() {
	infoCmd := orpheus.NewCommand("info", "Process information and diagnostics")
	infoCmd.SetHandler(m.handleInfo)
	infoCmd.AddBoolFlag("verbose", "v", false, "Include the effective configuration")
	m.app.AddCommand(infoCmd)
}

// loadConfig resolves the configuration the way an instrumented process would
func (m *Manager) loadConfig(file string) (*leakdumper.Config, error) {
	return leakdumper.LoadConfigMultiSource(file)
}
