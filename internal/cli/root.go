// Package cli implements infractl, a command line front end to the
// infrastructure engine for operating on a single tenant without the manager.
package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	"github.com/aykay76/msginfra/internal/config"
	"github.com/aykay76/msginfra/pkg/infra"
	"github.com/aykay76/msginfra/pkg/kube"
	"github.com/aykay76/msginfra/pkg/render"
)

// ClientFactory builds a cluster client from a kubeconfig path.
type ClientFactory func(kubeconfig string) (client.Client, error)

// KubeClient is the ClientFactory used outside tests.
func KubeClient(kubeconfig string) (client.Client, error) {
	restConfig, err := kube.LoadConfig(kubeconfig)
	if err != nil {
		return nil, err
	}
	return kube.NewClient(restConfig)
}

type app struct {
	cfg       config.Config
	newClient ClientFactory
}

// New returns the root infractl command.
func New(cfg config.Config, newClient ClientFactory) *cobra.Command {
	a := &app{cfg: cfg, newClient: newClient}

	cmd := &cobra.Command{
		Use:           "infractl",
		Short:         "Render, apply and tear down address space infrastructure",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			logger := zap.New(zap.WriteTo(cmd.ErrOrStderr()), zap.UseDevMode(a.cfg.DevLogging))
			cmd.SetContext(log.IntoContext(ctx, logger))
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}

	a.cfg.BindFlags(cmd.PersistentFlags())
	cmd.PersistentFlags().BoolVar(&a.cfg.DevLogging, "dev-logging", a.cfg.DevLogging, "Use human readable development logging")

	cmd.AddCommand(
		a.templatesCmd(),
		a.renderCmd(),
		a.applyCmd(),
		a.createCmd(),
		a.statusCmd(),
		a.waitCmd(),
		a.teardownCmd(),
		a.secretCmd(),
	)
	return cmd
}

func (a *app) renderer() *render.TemplateRenderer {
	return render.NewDirRenderer(a.cfg.TemplateDir)
}

func (a *app) engine() (*infra.Engine, error) {
	c, err := a.newClient(a.cfg.Kubeconfig)
	if err != nil {
		return nil, fmt.Errorf("connecting to cluster: %w", err)
	}
	gateway := infra.NewGateway(c, a.namespace(), infra.WithRoutes(a.cfg.Routes))
	return infra.NewEngine(gateway, a.renderer(), a.cfg.EngineOptions()...), nil
}

func (a *app) namespace() string {
	if a.cfg.Namespace == "" {
		return "default"
	}
	return a.cfg.Namespace
}
