// Copyright 2025 Microsoft Corporation
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/dusted-go/logging/prettylog"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/microsoft/spectl/cmd/app"
	"github.com/microsoft/spectl/cmd/container"
	"github.com/microsoft/spectl/cmd/containertype"
	"github.com/microsoft/spectl/cmd/login"
)

const (
	mainGroupID   = "main"
	helperGroupID = "helper"
)

// subcommands maps every command constructor to its help group.
var subcommands = []struct {
	group string
	build func(string) (*cobra.Command, error)
}{
	{mainGroupID, app.NewCommand},
	{mainGroupID, containertype.NewCommand},
	{mainGroupID, container.NewCommand},
	{helperGroupID, login.NewCommand},
	{helperGroupID, login.NewLogoutCommand},
	{helperGroupID, login.NewWhoamiCommand},
}

func main() {
	logger := createLogger(0)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var logVerbosity int

	cmd := &cobra.Command{
		Use:   "spectl",
		Short: "SharePoint Embedded administration CLI",
		Long: `spectl administers SharePoint Embedded from the command line.

It signs in a tenant administrator, manages the Entra applications that own
container types, creates trial and billed container types, registers
application permissions on them, and operates the containers inside them.`,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// rebuild the logger once the verbosity flag is parsed
			ctx = logr.NewContext(ctx, createLogger(logVerbosity))
			cmd.SetContext(ctx)
		},
		CompletionOptions: cobra.CompletionOptions{
			HiddenDefaultCmd: true,
		},
	}

	cmd.PersistentFlags().IntVarP(&logVerbosity, "verbosity", "v", 0, "set the verbosity level")

	cmd.AddGroup(
		&cobra.Group{ID: mainGroupID, Title: "Main Commands:"},
		&cobra.Group{ID: helperGroupID, Title: "Helper Commands:"},
	)
	for _, sub := range subcommands {
		c, err := sub.build(sub.group)
		if err != nil {
			logger.Error(err, "failed to create command")
			os.Exit(1)
		}
		cmd.AddCommand(c)
	}

	cmd.SetHelpCommand(&cobra.Command{Hidden: true})

	if err := cmd.ExecuteContext(ctx); err != nil {
		logger.Error(err, "command failed")
		os.Exit(1)
	}
}

func createLogger(verbosity int) logr.Logger {
	handler := prettylog.NewHandler(&slog.HandlerOptions{
		Level: slog.Level(verbosity * -1),
	})
	return logr.FromSlogHandler(handler)
}
