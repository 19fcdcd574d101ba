package cli

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/client/fake"

	"github.com/aykay76/msginfra/internal/config"
	"github.com/aykay76/msginfra/pkg/infra"
	"github.com/aykay76/msginfra/pkg/kube"
)

const standardTemplate = `apiVersion: v1
kind: Service
metadata:
  name: messaging-{{ .InfraUUID }}
---
apiVersion: v1
kind: ConfigMap
metadata:
  name: config-{{ .InfraUUID }}
data:
  size: {{ .size | quote }}
---
apiVersion: apps/v1
kind: StatefulSet
metadata:
  name: broker-{{ .InfraUUID }}
spec:
  replicas: 1
`

func testConfig(t *testing.T) config.Config {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "standard-space-infra.yaml"), []byte(standardTemplate), 0o600))
	cfg := config.Default()
	cfg.TemplateDir = dir
	return cfg
}

func run(t *testing.T, cfg config.Config, cl client.Client, args ...string) (string, error) {
	t.Helper()
	cmd := New(cfg, func(string) (client.Client, error) { return cl, nil })
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func newClient(objs ...client.Object) client.Client {
	return fake.NewClientBuilder().WithScheme(kube.NewScheme()).WithObjects(objs...).Build()
}

func TestTemplatesCommand(t *testing.T) {
	out, err := run(t, testConfig(t), nil, "templates")
	require.NoError(t, err)
	assert.Equal(t, "standard-space-infra\n", out)
}

func TestRenderCommand(t *testing.T) {
	cfg := testConfig(t)

	out, err := run(t, cfg, nil, "render", "--infra-uuid", "u1", "--plan", "small", "--set", "size=small")
	require.NoError(t, err)
	assert.Contains(t, out, "name: messaging-u1")
	assert.Contains(t, out, "name: broker-u1")
	assert.Contains(t, out, "enmasse.io/infra-uuid: u1")
	assert.NotContains(t, out, infra.AnnotationAppliedConfig)
	assert.Contains(t, out, "---\n")

	_, err = run(t, cfg, nil, "render", "--infra-uuid", "u1")
	var terr *infra.TemplateError
	assert.ErrorAs(t, err, &terr)

	_, err = run(t, cfg, nil, "render", "--template", "missing")
	assert.ErrorAs(t, err, &terr)
}

func TestApplyStatusTeardown(t *testing.T) {
	cfg := testConfig(t)
	cl := newClient()
	tenantArgs := []string{"--address-space", "space1", "--infra-uuid", "u1", "--plan", "small",
		"--infra-version", "0.32", "--set", "size=small"}

	out, err := run(t, cfg, cl, append([]string{"apply"}, tenantArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "applied: true")

	out, err = run(t, cfg, cl, append([]string{"apply"}, tenantArgs...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "state: Applying")
	assert.Contains(t, out, "NotReady  StatefulSet/broker-u1")

	out, err = run(t, cfg, cl, "status", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "0/1 ready")

	out, err = run(t, cfg, cl, "teardown", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted infrastructure u1")

	out, err = run(t, cfg, cl, "status", "u1")
	require.NoError(t, err)
	assert.Contains(t, out, "0/0 ready")
}

func TestApplyRequiresInfraUUID(t *testing.T) {
	_, err := run(t, testConfig(t), newClient(), "apply", "--address-space", "space1")
	assert.ErrorContains(t, err, "--infra-uuid is required")
}

func TestCreateCommand(t *testing.T) {
	cfg := testConfig(t)
	cl := newClient()
	args := []string{"create", "--infra-uuid", "u2", "--set", "size=large"}

	out, err := run(t, cfg, cl, args...)
	require.NoError(t, err)
	assert.Contains(t, out, "created infrastructure u2")

	_, err = run(t, cfg, cl, args...)
	assert.Error(t, err)
}

func TestSecretCommand(t *testing.T) {
	cfg := testConfig(t)
	cl := newClient(&corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{Name: "broker-creds", Namespace: "default"},
		Data:       map[string][]byte{"password": []byte("s3cret"), "user": []byte("admin")},
	})

	out, err := run(t, cfg, cl, "secret", "broker-creds")
	require.NoError(t, err)
	assert.Equal(t, "password (6 bytes)\nuser (5 bytes)\n", out)

	out, err = run(t, cfg, cl, "secret", "broker-creds", "--key", "user")
	require.NoError(t, err)
	assert.Equal(t, "admin", out)

	_, err = run(t, cfg, cl, "secret", "broker-creds", "--key", "token")
	assert.ErrorContains(t, err, "no key")

	_, err = run(t, cfg, cl, "secret", "absent")
	assert.ErrorContains(t, err, "not found")
}

func TestInvalidConfigRejected(t *testing.T) {
	_, err := run(t, testConfig(t), nil, "templates", "--teardown-timeout", "0s")
	assert.ErrorContains(t, err, "teardown timeout must be positive")
}
