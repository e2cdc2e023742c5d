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

package container

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/spadmin"
)

// NewCommand returns the container command group.
func NewCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:     "container",
		Short:   "Manage containers within a container type",
		GroupID: group,
		Long: `container creates and inspects the storage containers of a container
type. Deleting a container is a two-step operation: an active container is
recycled first, and only a recycled container can be removed permanently.`,
	}

	cmd.AddCommand(newCreateCommand())
	cmd.AddCommand(newListCommand())
	cmd.AddCommand(newGetCommand())
	cmd.AddCommand(newRecycleCommand())
	cmd.AddCommand(newRestoreCommand())
	cmd.AddCommand(newDeleteCommand())
	return cmd, nil
}

func newCreateCommand() *cobra.Command {
	var containerTypeID, description string
	cmd := &cobra.Command{
		Use:           "create NAME",
		Short:         "Create a container",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				created, err := client.Create(ctx, spadmin.CreateRequest{
					DisplayName:     args[0],
					Description:     description,
					ContainerTypeID: containerTypeID,
				})
				if err != nil {
					return err
				}
				fmt.Printf("Created container %q (%s)\n", created.DisplayName, created.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&containerTypeID, "container-type", "", "id of the container type (required)")
	cmd.Flags().StringVar(&description, "description", "", "container description")
	_ = cmd.MarkFlagRequired("container-type")
	return cmd
}

func newListCommand() *cobra.Command {
	var containerTypeID string
	var recycled bool
	cmd := &cobra.Command{
		Use:           "list",
		Short:         "List the containers of a container type",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				list := client.List
				if recycled {
					list = client.ListRecycled
				}
				containers, err := list(ctx, containerTypeID)
				if err != nil {
					return err
				}
				if len(containers) == 0 {
					fmt.Println("No containers")
					return nil
				}
				for _, c := range containers {
					fmt.Printf("%s  %-30s %s\n", c.ID, c.DisplayName, c.Status)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&containerTypeID, "container-type", "", "id of the container type (required)")
	cmd.Flags().BoolVar(&recycled, "recycled", false, "list recycled containers instead of active ones")
	_ = cmd.MarkFlagRequired("container-type")
	return cmd
}

func newGetCommand() *cobra.Command {
	var containerTypeID string
	cmd := &cobra.Command{
		Use:           "get ID",
		Short:         "Show one container",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				c, err := client.Get(ctx, args[0])
				if err != nil {
					return err
				}
				if c == nil {
					return ctyperr.New(ctyperr.CodeNotFound, args[0], "container does not exist")
				}
				fmt.Printf("%s  %s\n", c.ID, c.DisplayName)
				if c.Description != "" {
					fmt.Printf("  description: %s\n", c.Description)
				}
				fmt.Printf("  container type: %s\n", c.ContainerTypeID)
				fmt.Printf("  status: %s\n", c.Status)
				return nil
			})
		},
	}
	addOwningAppFlag(cmd, &containerTypeID)
	return cmd
}

func newRecycleCommand() *cobra.Command {
	var containerTypeID string
	cmd := &cobra.Command{
		Use:           "recycle ID",
		Short:         "Soft-delete an active container",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				if err := client.Recycle(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Recycled container %s; restore it with 'spectl container restore %s'\n", args[0], args[0])
				return nil
			})
		},
	}
	addOwningAppFlag(cmd, &containerTypeID)
	return cmd
}

func newRestoreCommand() *cobra.Command {
	var containerTypeID string
	cmd := &cobra.Command{
		Use:           "restore ID",
		Short:         "Restore a recycled container",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				if err := client.Restore(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Restored container %s\n", args[0])
				return nil
			})
		},
	}
	addOwningAppFlag(cmd, &containerTypeID)
	return cmd
}

func newDeleteCommand() *cobra.Command {
	var containerTypeID string
	cmd := &cobra.Command{
		Use:           "delete ID",
		Short:         "Permanently remove a recycled container",
		Long:          "delete removes a recycled container for good. Active containers must be recycled before they can be deleted.",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(cmd.Context(), containerTypeID, func(ctx context.Context, client *spadmin.Client) error {
				if err := client.Delete(ctx, args[0]); err != nil {
					return err
				}
				fmt.Printf("Deleted container %s\n", args[0])
				return nil
			})
		},
	}
	addOwningAppFlag(cmd, &containerTypeID)
	return cmd
}

// addOwningAppFlag lets a command authenticate as the owning application of
// a container type instead of the signed-in operator.
func addOwningAppFlag(cmd *cobra.Command, containerTypeID *string) {
	cmd.Flags().StringVar(containerTypeID, "container-type", "",
		"authenticate as the owning application of this container type")
}

func withClient(ctx context.Context, containerTypeID string, fn func(context.Context, *spadmin.Client) error) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()
	if _, err := rt.Account(); err != nil {
		return err
	}
	client, err := rt.Containers(containerTypeID)
	if err != nil {
		return err
	}
	return fn(ctx, client)
}
