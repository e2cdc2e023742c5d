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

package login

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/session"
)

// NewCommand returns the login command.
func NewCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:              "login",
		Short:            "Sign in to your tenant",
		GroupID:          group,
		Long:             "login opens the system browser and signs you in interactively. The resulting session backs every other command.",
		Args:             cobra.NoArgs,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogin(cmd.Context())
		},
	}
	return cmd, nil
}

// NewLogoutCommand returns the logout command.
func NewLogoutCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:              "logout",
		Short:            "Sign out and discard the local session",
		GroupID:          group,
		Args:             cobra.NoArgs,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLogout(cmd.Context())
		},
	}
	return cmd, nil
}

// NewWhoamiCommand returns the whoami command.
func NewWhoamiCommand(group string) (*cobra.Command, error) {
	cmd := &cobra.Command{
		Use:              "whoami",
		Short:            "Show the signed-in account",
		GroupID:          group,
		Args:             cobra.NoArgs,
		SilenceUsage:     true,
		SilenceErrors:    true,
		TraverseChildren: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWhoami(cmd.Context())
		},
	}
	return cmd, nil
}

func runLogin(ctx context.Context) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	account, err := rt.Session.SignIn(ctx, session.SignInOptions{
		Authority:   rt.Config.Authority,
		Port:        rt.Config.LoopbackPort,
		OpenBrowser: common.OpenBrowser,
	})
	if err != nil {
		return err
	}

	role := "member"
	if account.IsAdmin {
		role = "admin"
	}
	fmt.Printf("Signed in as %s (%s) in tenant %s\n", account.Username, role, account.TenantID)
	return nil
}

func runLogout(ctx context.Context) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	if rt.Session.Account() == nil {
		fmt.Println("Not signed in")
		return nil
	}
	if err := rt.Session.SignOut(ctx); err != nil {
		return err
	}
	fmt.Println("Signed out")
	return nil
}

func runWhoami(ctx context.Context) error {
	rt, err := common.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.Close()

	account, err := rt.Account()
	if err != nil {
		return err
	}
	role := "member"
	if account.IsAdmin {
		role = "admin"
	}
	fmt.Printf("%s (%s)\n", account.Username, role)
	fmt.Printf("  name:   %s\n", account.DisplayName)
	fmt.Printf("  tenant: %s\n", account.TenantID)
	fmt.Printf("  since:  %s\n", account.SignedInAt.Format(time.RFC3339))
	return nil
}
