package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"
	"sigs.k8s.io/yaml"

	"github.com/aykay76/msginfra/pkg/infra"
)

func (a *app) templatesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "templates",
		Short: "List the templates found in the template directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			names, err := a.renderer().Names()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}

func (a *app) renderCmd() *cobra.Command {
	var tf tenantFlags
	cmd := &cobra.Command{
		Use:   "render",
		Short: "Print the resources a tenant's template produces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := tf.tenant(a.namespace(), true)
			if err != nil {
				return err
			}
			// Rendering never reaches the cluster.
			engine := infra.NewEngine(infra.NewGateway(nil, a.namespace()), a.renderer())
			set, err := engine.Render(tenant)
			if err != nil {
				return err
			}
			return writeYAML(cmd.OutOrStdout(), set)
		},
	}
	tf.bind(cmd.Flags())
	return cmd
}

func writeYAML(w io.Writer, set infra.ResourceSet) error {
	for i, obj := range set {
		data, err := yaml.Marshal(obj.Object)
		if err != nil {
			return fmt.Errorf("encoding %s/%s: %w", obj.GetKind(), obj.GetName(), err)
		}
		if i > 0 {
			if _, err := io.WriteString(w, "---\n"); err != nil {
				return err
			}
		}
		if _, err := w.Write(data); err != nil {
			return err
		}
	}
	return nil
}

func (a *app) applyCmd() *cobra.Command {
	var tf tenantFlags
	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply a tenant's infrastructure if its configuration drifted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := tf.tenant(a.namespace(), false)
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			result := engine.Reconcile(cmd.Context(), tenant)
			if result.Err != nil {
				return result.Err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "state: %s\n", result.State)
			if result.Applied {
				fmt.Fprintln(out, "applied: true")
				return nil
			}
			printReadiness(out, result.Readiness)
			return nil
		},
	}
	tf.bind(cmd.Flags())
	return cmd
}

func (a *app) createCmd() *cobra.Command {
	var tf tenantFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a tenant's infrastructure, failing if any resource exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tenant, err := tf.tenant(a.namespace(), true)
			if err != nil {
				return err
			}
			engine, err := a.engine()
			if err != nil {
				return err
			}
			if _, err := engine.Create(cmd.Context(), tenant); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "created infrastructure %s\n", tenant.InfraUUID)
			return nil
		},
	}
	tf.bind(cmd.Flags())
	return cmd
}

func (a *app) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <infra-uuid>",
		Short: "Show workload readiness for an infra UUID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			report, err := engine.Readiness(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printReadiness(cmd.OutOrStdout(), report)
			return nil
		},
	}
}

func printReadiness(w io.Writer, report infra.ReadinessReport) {
	for _, ref := range report.Ready {
		fmt.Fprintf(w, "Ready     %s\n", ref)
	}
	for _, ref := range report.NotReady {
		fmt.Fprintf(w, "NotReady  %s\n", ref)
	}
	fmt.Fprintf(w, "%d/%d ready\n", len(report.Ready), report.Total())
}

func (a *app) waitCmd() *cobra.Command {
	var (
		timeout  time.Duration
		interval time.Duration
	)
	cmd := &cobra.Command{
		Use:   "wait <infra-uuid>",
		Short: "Wait until every workload of an infra UUID is ready",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			tenant := infra.TenantInfra{Namespace: a.namespace(), InfraUUID: args[0]}
			report, err := engine.WaitForReady(cmd.Context(), tenant, timeout, interval)
			printReadiness(cmd.OutOrStdout(), report)
			return err
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "How long to wait")
	cmd.Flags().DurationVar(&interval, "interval", 5*time.Second, "Delay between readiness checks")
	return cmd
}

func (a *app) teardownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "teardown <infra-uuid>",
		Short: "Delete everything owned by an infra UUID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			result, err := engine.Teardown(cmd.Context(), args[0])
			if len(result.StuckResources) > 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "stuck: %v\n", result.StuckResources)
			}
			if err != nil {
				return err
			}
			if !result.Completed {
				return result.Err()
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted infrastructure %s\n", args[0])
			return nil
		},
	}
}

func (a *app) secretCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "secret <name>",
		Short: "Show the keys of an infrastructure secret, or one decoded value",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := a.engine()
			if err != nil {
				return err
			}
			secret, found, err := engine.Gateway().GetSecret(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("secret %s not found in namespace %s", args[0], a.namespace())
			}
			out := cmd.OutOrStdout()
			if key != "" {
				value, ok := secret.Data[key]
				if !ok {
					return fmt.Errorf("secret %s has no key %q", args[0], key)
				}
				_, err := out.Write(value)
				return err
			}
			keys := make([]string, 0, len(secret.Data))
			for k := range secret.Data {
				keys = append(keys, k)
			}
			slices.Sort(keys)
			for _, k := range keys {
				fmt.Fprintf(out, "%s (%d bytes)\n", k, len(secret.Data[k]))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "Print the decoded value of this key")
	return cmd
}
