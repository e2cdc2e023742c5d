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

package app

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/workflow"
)

// NewCommand returns the app command group.
func NewCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "app",
		Short:   "Manage the applications that own or consume container types",
		GroupID: group,
		Long: `app creates, imports and lists the directory applications this tool works
with. Created and imported apps get a certificate and a client secret; the
private material stays in the local secret store.`,
	}

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newImportCommand())
	cmd.AddCommand(newListCommand())
	return cmd, nil
}

func newCreateCommand() *cobra.Command {
	opts := DefaultCreateOptions()
	cmd := &cobra.Command{
		Use:           "create NAME",
		Short:         "Create an application with fresh credentials",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.DisplayName = args[0]
			return runCreate(cmd.Context(), opts)
		},
	}
	return cmd
}

func newImportCommand() *cobra.Command {
	opts := DefaultImportOptions()
	cmd := &cobra.Command{
		Use:           "import APP_ID",
		Short:         "Import an existing application and attach credentials to it",
		Long:          "import attaches a new certificate and client secret to an application this tool did not create. It asks for confirmation first; pass --yes to confirm up front.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.AppID = args[0]
			return runImport(cmd.Context(), opts)
		},
	}
	cmd.Flags().BoolVarP(&opts.Confirmed, "yes", "y", false, "confirm attaching new credentials without prompting")
	return cmd
}

func newListCommand() *cobra.Command {
	opts := DefaultListOptions()
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List applications",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.Search, "search", "", "filter by display name")
	cmd.Flags().BoolVar(&opts.UnusedOnly, "unused", false, "only apps that do not own a container type")
	return cmd
}

func runCreate(ctx context.Context, opts *CreateOptions) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	validated, err := opts.Validate(ctx, rt)
	if err != nil {
		return err
	}

	app, err := workflow.ProvisionApp(ctx, validated.Directory, rt.Stores, opts.DisplayName, rt.Config.LoopbackPort)
	if err != nil {
		return err
	}
	fmt.Printf("Created application %q\n  appId:    %s\n  objectId: %s\n", app.DisplayName, app.ClientID, app.ObjectID)
	return nil
}

func runImport(ctx context.Context, opts *ImportOptions) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	validated, err := opts.Validate(ctx, rt)
	if err != nil {
		return err
	}

	app := validated.App
	if !opts.Confirmed {
		fmt.Printf("Attach new credentials to %q (%s)? This modifies an app you did not create. [y/N] ", app.DisplayName, app.ClientID)
		var answer string
		_, _ = fmt.Scanln(&answer)
		if answer != "y" && answer != "Y" {
			return workflow.ErrImportNotConfirmed
		}
	}

	if err := workflow.AttachCredentials(ctx, validated.Directory, rt.Stores, app); err != nil {
		return err
	}
	fmt.Printf("Imported application %q (%s)\n", app.DisplayName, app.ClientID)
	return nil
}

func runList(ctx context.Context, opts *ListOptions) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	validated, err := opts.Validate(ctx, rt)
	if err != nil {
		return err
	}

	var apps []graph.Application
	if opts.Search != "" {
		apps, err = validated.Directory.Search(ctx, opts.Search)
		if err != nil {
			return err
		}
	} else {
		stored, err := rt.Stores.Apps.List()
		if err != nil {
			return err
		}
		for _, app := range stored {
			apps = append(apps, *app)
		}
	}

	if opts.UnusedOnly {
		cts, err := validated.Registry.List(ctx)
		if err != nil {
			return err
		}
		owning := make([]string, 0, len(cts))
		for _, ct := range cts {
			owning = append(owning, ct.OwningAppID)
		}
		apps = graph.ListUnused(apps, owning)
	}

	if len(apps) == 0 {
		fmt.Println("No applications")
		return nil
	}
	for _, app := range apps {
		fmt.Printf("%s  %s\n", app.ClientID, app.DisplayName)
	}
	return nil
}
