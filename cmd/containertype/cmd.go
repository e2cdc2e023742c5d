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

package containertype

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/polling"
	"github.com/microsoft/spectl/pkg/workflow"
)

// NewCommand returns the container-type command group.
func NewCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "container-type",
		Aliases: []string{"ct"},
		Short:   "Manage container types",
		GroupID: group,
		Long: `container-type creates, lists, renames, deletes and registers container
types. Trial types are free and limited to one per tenant; paid types are
billed through an Azure subscription.`,
	}

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newRenameCommand())
	cmd.AddCommand(newSetDiscoverabilityCommand())
	cmd.AddCommand(newDeleteCommand())
	cmd.AddCommand(newRegisterCommand())
	return cmd, nil
}

func newCreateCommand() *cobra.Command {
	opts := DefaultCreateOptions()
	cmd := &cobra.Command{
		Use:           "create NAME",
		Short:         "Create a container type",
		Long:          "create makes a trial container type by default. With --paid, the Microsoft.Syntex provider is registered on the subscription and a billing account is created; if billing fails the container type is deleted again.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Name = args[0]
			return runCreate(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.OwningAppID, "owning-app", "", "appId of the owning application (required)")
	cmd.Flags().BoolVar(&opts.Paid, "paid", false, "create a standard-tier (billed) container type")
	cmd.Flags().StringVar(&opts.SubscriptionID, "subscription", "", "Azure subscription id (paid only)")
	cmd.Flags().StringVar(&opts.ResourceGroup, "resource-group", "", "Azure resource group (paid only)")
	cmd.Flags().StringVar(&opts.Region, "region", "", "Azure region (paid only)")
	_ = cmd.MarkFlagRequired("owning-app")
	return cmd
}

func newListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the tenant's container types",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context())
		},
	}
	return cmd
}

func newGetCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "get ID",
		Short:         "Show one container type",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGet(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newSetDiscoverabilityCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "set-discoverability ID (enabled|disabled)",
		Short:         "Enable or disable container discoverability",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSetDiscoverability(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func newRenameCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rename ID NEW_NAME",
		Short:         "Rename a container type",
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRename(cmd.Context(), args[0], args[1])
		},
	}
	return cmd
}

func newDeleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "delete ID",
		Short:         "Delete a container type",
		Long:          "delete removes a container type. The service rejects deletion while the type still has active or recycled containers.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd.Context(), args[0])
		},
	}
	return cmd
}

func newRegisterCommand() *cobra.Command {
	opts := DefaultRegisterOptions()
	cmd := &cobra.Command{
		Use:           "register ID",
		Short:         "Register an application's permissions on a container type",
		Long:          "register grants an application delegated and app-only permissions on a container type in this tenant. Use --app for an existing application or --new-app to create one.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.ContainerTypeID = args[0]
			return runRegister(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.AppID, "app", "", "appId of an existing application")
	cmd.Flags().StringVar(&opts.NewAppName, "new-app", "", "display name for a new application")
	cmd.Flags().StringSliceVar(&opts.Delegated, "delegated", nil, "delegated permissions, or 'full'")
	cmd.Flags().StringSliceVar(&opts.AppOnly, "app-only", nil, "app-only permissions, or 'full'")
	cmd.Flags().BoolVarP(&opts.Confirmed, "yes", "y", false, "confirm attaching credentials to an imported app without prompting")
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

	if opts.Paid {
		ct, err := validated.Creator.CreatePaid(ctx, workflow.CreatePaidInput{
			Name:           opts.Name,
			OwningAppID:    opts.OwningAppID,
			SubscriptionID: opts.SubscriptionID,
			ResourceGroup:  opts.ResourceGroup,
			Region:         opts.Region,
		})
		if err != nil {
			return err
		}
		fmt.Printf("Created paid container type %q (%s) billed to subscription %s\n", ct.Name, ct.ID, opts.SubscriptionID)
		return nil
	}

	ct, err := validated.Creator.CreateTrial(ctx, workflow.CreateTrialInput{
		Name:        opts.Name,
		OwningAppID: opts.OwningAppID,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Created trial container type %q (%s)\n", ct.Name, ct.ID)
	return nil
}

func runList(ctx context.Context) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}

	cts, err := rt.Registry().List(ctx)
	if err != nil {
		return err
	}
	if len(cts) == 0 {
		fmt.Println("No container types")
		return nil
	}
	for _, ct := range cts {
		fmt.Printf("%s  %-30s %-16s owner=%s\n", ct.ID, ct.Name, ct.BillingClassification, ct.OwningAppID)
	}
	return nil
}

func runGet(ctx context.Context, id string) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}

	ct, err := rt.Registry().Get(ctx, id)
	if err != nil {
		return err
	}
	if ct == nil {
		return ctyperr.New(ctyperr.CodeNotFound, id, "container type does not exist")
	}

	fmt.Printf("%s  %s\n", ct.ID, ct.Name)
	fmt.Printf("  billing: %s", ct.BillingClassification)
	if ct.BillingStatus != "" {
		fmt.Printf(" (%s)", ct.BillingStatus)
	}
	fmt.Println()
	fmt.Printf("  owning app: %s\n", ct.OwningAppID)
	if ct.ExpirationDateTime != nil {
		fmt.Printf("  expires: %s\n", ct.ExpirationDateTime.Format(time.RFC3339))
	}
	if ct.AzureSubscriptionID != "" {
		fmt.Printf("  subscription: %s (%s, %s)\n", ct.AzureSubscriptionID, ct.ResourceGroup, ct.Region)
	}
	if ct.Settings != nil && ct.Settings.IsDiscoverabilityDisabled {
		fmt.Println("  discoverability: disabled")
	}
	return nil
}

func runSetDiscoverability(ctx context.Context, id, mode string) error {
	var disabled bool
	switch mode {
	case "enabled":
		disabled = false
	case "disabled":
		disabled = true
	default:
		return ctyperr.New(ctyperr.CodeValidationFailed, id, "discoverability must be 'enabled' or 'disabled', got %q", mode)
	}

	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}

	_, err = rt.Registry().Update(ctx, id, map[string]any{
		"settings": map[string]any{"isDiscoverabilityDisabled": disabled},
	}, "")
	if err != nil {
		return err
	}
	fmt.Printf("Container discoverability for %s is now %s\n", id, mode)
	return nil
}

func runRename(ctx context.Context, id, newName string) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}

	ct, err := rt.Registry().Update(ctx, id, map[string]any{"name": newName}, "")
	if err != nil {
		return err
	}
	fmt.Printf("Renamed container type %s to %q\n", ct.ID, ct.Name)
	return nil
}

func runDelete(ctx context.Context, id string) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}

	if err := rt.Registry().Delete(ctx, id); err != nil {
		return err
	}
	if err := rt.Stores.ContainerTypes.Delete(id); err != nil {
		return err
	}
	fmt.Printf("Deleted container type %s\n", id)
	return nil
}

func runRegister(ctx context.Context, opts *RegisterOptions) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	validated, err := opts.Validate(ctx, rt)
	if err != nil {
		return err
	}

	result, err := validated.Workflow.Run(ctx, validated.Input)
	if err != nil {
		return err
	}

	fmt.Printf("Registered %s on container type %s\n", result.App.ClientID, opts.ContainerTypeID)
	if result.Propagation == polling.TimedOut {
		fmt.Println("The registration was accepted but is not visible yet; reads may lag for a while.")
	}
	return nil
}
