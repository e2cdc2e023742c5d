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

	"github.com/microsoft/spectl/cmd/common"
	"github.com/microsoft/spectl/pkg/ctyperr"
	"github.com/microsoft/spectl/pkg/graph"
	"github.com/microsoft/spectl/pkg/registry"
	"github.com/microsoft/spectl/pkg/workflow"
)

// CreateOptions carries the raw inputs of 'container-type create'.
type CreateOptions struct {
	Name        string
	OwningAppID string

	Paid           bool
	SubscriptionID string
	ResourceGroup  string
	Region         string
}

// ValidatedCreateOptions is CreateOptions with the creation workflow
// wired for the requested billing tier.
type ValidatedCreateOptions struct {
	Creator *workflow.CreateWorkflow
}

func DefaultCreateOptions() *CreateOptions {
	return &CreateOptions{}
}

func (o *CreateOptions) Validate(ctx context.Context, rt *common.Runtime) (*ValidatedCreateOptions, error) {
	if _, err := rt.Account(); err != nil {
		return nil, err
	}

	if !o.Paid {
		if o.SubscriptionID != "" || o.ResourceGroup != "" || o.Region != "" {
			return nil, ctyperr.New(ctyperr.CodeValidationFailed, o.Name, "--subscription, --resource-group and --region require --paid")
		}
		return &ValidatedCreateOptions{Creator: workflow.NewCreateWorkflow(rt.Registry(), nil, rt.Stores)}, nil
	}

	billing, err := rt.Billing(o.SubscriptionID)
	if err != nil {
		return nil, err
	}
	return &ValidatedCreateOptions{Creator: workflow.NewCreateWorkflow(rt.Registry(), billing, rt.Stores)}, nil
}

// RegisterOptions carries the raw inputs of 'container-type register'.
type RegisterOptions struct {
	ContainerTypeID string
	AppID           string
	NewAppName      string
	Delegated       []string
	AppOnly         []string
	Confirmed       bool
}

// ValidatedRegisterOptions is the registration workflow plus its input,
// built from the signed-in tenant.
type ValidatedRegisterOptions struct {
	Workflow *workflow.RegisterWorkflow
	Input    workflow.RegisterInput
}

func DefaultRegisterOptions() *RegisterOptions {
	return &RegisterOptions{}
}

func (o *RegisterOptions) Validate(ctx context.Context, rt *common.Runtime) (*ValidatedRegisterOptions, error) {
	account, err := rt.Account()
	if err != nil {
		return nil, err
	}

	input := workflow.RegisterInput{
		ContainerTypeID:         o.ContainerTypeID,
		TenantID:                account.TenantID,
		AppID:                   o.AppID,
		NewAppName:              o.NewAppName,
		Delegated:               toPermissions(o.Delegated),
		AppOnly:                 toPermissions(o.AppOnly),
		ConfirmCredentialAttach: confirmAttach(o.Confirmed),
		LoopbackPort:            rt.Config.LoopbackPort,
	}

	wf := workflow.NewRegisterWorkflow(
		rt.Directory(),
		rt.Registry(),
		rt.Stores,
		rt.Config.RegistrationPollInterval,
		rt.Config.RegistrationPollTimeout,
	)
	return &ValidatedRegisterOptions{Workflow: wf, Input: input}, nil
}

func toPermissions(tokens []string) []registry.Permission {
	perms := make([]registry.Permission, 0, len(tokens))
	for _, t := range tokens {
		perms = append(perms, registry.Permission(t))
	}
	return perms
}

func confirmAttach(confirmed bool) func(*graph.Application) bool {
	return func(app *graph.Application) bool {
		if confirmed {
			return true
		}
		fmt.Printf("Attach new credentials to %q (%s)? This modifies an app you did not create. [y/N] ", app.DisplayName, app.ClientID)
		var answer string
		_, _ = fmt.Scanln(&answer)
		return answer == "y" || answer == "Y"
	}
}
